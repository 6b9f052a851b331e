package market

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/internal/events"
	"execution-core/pkg/common"
)

func TestFeedDispatchPublishesCandles(t *testing.T) {
	bus := events.NewBus()
	candles, unsub := bus.Subscribe(events.EventCandle, 8)
	defer unsub()

	f := NewFeed(nil, bus, time.Second, "BTCUSDT", "ETHUSDT")
	ctx, cancel := context.WithCancel(context.Background())
	f.Start(ctx)

	require.True(t, f.Dispatch(book(0, "100")))
	require.True(t, f.Dispatch(book(500, "102")))
	require.True(t, f.Dispatch(book(1_000, "101")))
	assert.False(t, f.Dispatch(OrderBook{Symbol: "DOGEUSDT", Timestamp: 1}))

	select {
	case v := <-candles:
		c := v.(Candle)
		assert.Equal(t, "BTCUSDT", c.Symbol)
		assert.True(t, c.High.Equal(decimal.NewFromInt(102)))
		assert.True(t, c.Close.Equal(decimal.NewFromInt(102)))
	case <-time.After(time.Second):
		t.Fatal("no candle published")
	}

	cancel()
	f.Wait()
	assert.EqualValues(t, 1, f.Dropped())
}

func TestFeedMarkListeners(t *testing.T) {
	f := NewFeed(nil, nil, time.Second, "BTCUSDT")
	var got []common.MarkPrice
	f.AddMarkListener(func(common.MarkPrice) { panic("boom") })
	f.AddMarkListener(func(mp common.MarkPrice) { got = append(got, mp) })

	f.OnMarkPrice(common.MarkPrice{Symbol: "BTCUSDT", Price: decimal.NewFromInt(1), EventTime: 1})
	require.Len(t, got, 1)
}

func TestFeedWebsocketStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var mu sync.Mutex
	paths := map[string]int{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		mu.Lock()
		paths[r.URL.Path]++
		mu.Unlock()

		switch {
		case strings.HasSuffix(r.URL.Path, "@bookTicker"):
			for i, mid := range []int{100, 104, 103} {
				frame := fmt.Sprintf(`{"s":"BTCUSDT","b":"%d","a":"%d","E":%d}`, mid-1, mid+1, int64(i)*600)
				_ = conn.WriteMessage(websocket.TextMessage, []byte(frame))
			}
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"s":"BTCUSDT"}`))
		case strings.Contains(r.URL.Path, "@markPrice"):
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"e":"markPriceUpdate","E":5,"s":"BTCUSDT","p":"101.5"}`))
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	bus := events.NewBus()
	candles, unsub := bus.Subscribe(events.EventCandle, 8)
	defer unsub()
	marks, unsubMarks := bus.Subscribe(events.EventMarkPrice, 8)
	defer unsubMarks()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	f := NewFeed(NewStreamClient(url), bus, time.Second, "BTCUSDT")
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		f.Wait()
	}()
	f.Start(ctx)

	select {
	case v := <-candles:
		c := v.(Candle)
		assert.Equal(t, int64(0), c.StartTime)
		assert.True(t, c.Open.Equal(decimal.NewFromInt(100)))
		assert.True(t, c.High.Equal(decimal.NewFromInt(104)))
	case <-time.After(2 * time.Second):
		t.Fatal("no candle from stream")
	}

	select {
	case v := <-marks:
		mp := v.(common.MarkPrice)
		assert.Equal(t, "101.5", mp.Price.String())
		assert.Equal(t, int64(5), mp.EventTime)
	case <-time.After(2 * time.Second):
		t.Fatal("no mark price from stream")
	}

	mu.Lock()
	assert.Equal(t, 1, paths["/ws/btcusdt@bookTicker"])
	mu.Unlock()
}

func TestParseBookTickerRejectsIncomplete(t *testing.T) {
	_, err := parseBookTicker([]byte(`{"s":"BTCUSDT","b":"0","a":"1"}`))
	assert.Error(t, err)
	b, err := parseBookTicker([]byte(`{"s":"BTCUSDT","b":"1.5","a":"1.7","T":42}`))
	require.NoError(t, err)
	assert.Equal(t, int64(42), b.Timestamp)
	assert.Equal(t, "1.6", b.Mid().String())
}

func TestParseBookTickerKeepsZeroEventTime(t *testing.T) {
	b, err := parseBookTicker([]byte(`{"s":"BTCUSDT","b":"99","a":"101","E":0,"T":7}`))
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.Timestamp, "a present zero is a timestamp")

	before := time.Now().UnixMilli()
	b, err = parseBookTicker([]byte(`{"s":"BTCUSDT","b":"99","a":"101"}`))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, b.Timestamp, before)

	mp, err := parseMarkPrice([]byte(`{"s":"BTCUSDT","p":"100","E":0}`))
	require.NoError(t, err)
	assert.Equal(t, int64(0), mp.EventTime)
}
