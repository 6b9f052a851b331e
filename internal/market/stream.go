package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"execution-core/pkg/common"
)

// StreamClient dials per-symbol public websocket streams.
type StreamClient struct {
	StreamURL string
	dialer    *websocket.Dialer
}

// NewStreamClient builds a client for baseURL, e.g. wss://fstream.binance.com/ws.
func NewStreamClient(baseURL string) *StreamClient {
	if baseURL == "" {
		baseURL = (&url.URL{Scheme: "wss", Host: "fstream.binance.com", Path: "/ws"}).String()
	}
	return &StreamClient{
		StreamURL: strings.TrimRight(baseURL, "/"),
		dialer:    websocket.DefaultDialer,
	}
}

// SubscribeBookTicker streams best bid/ask updates for symbol.
func (c *StreamClient) SubscribeBookTicker(ctx context.Context, symbol string) (<-chan OrderBook, func(), error) {
	return subscribe(ctx, c, strings.ToLower(symbol)+"@bookTicker", parseBookTicker)
}

// SubscribeMarkPrice streams mark price updates for symbol.
func (c *StreamClient) SubscribeMarkPrice(ctx context.Context, symbol string) (<-chan common.MarkPrice, func(), error) {
	return subscribe(ctx, c, strings.ToLower(symbol)+"@markPrice@1s", parseMarkPrice)
}

func subscribe[T any](ctx context.Context, c *StreamClient, stream string, parse func([]byte) (T, error)) (<-chan T, func(), error) {
	u := fmt.Sprintf("%s/%s", c.StreamURL, stream)
	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", stream, err)
	}

	out := make(chan T, 256)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			// Ignore errors; the connection may already be closed.
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		})
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()

	go func() {
		defer close(out)
		defer close(done)
		defer stop()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil ||
					websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
					strings.Contains(err.Error(), "use of closed network connection") {
					return
				}
				log.WithField("stream", stream).Warnf("ws read error: %v", err)
				return
			}

			parsed, err := parse(msg)
			if err != nil {
				log.WithField("stream", stream).Warnf("ws parse error: %v", err)
				continue
			}
			select {
			case out <- parsed:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, stop, nil
}

// Ping keeps a connection alive when the caller manages it directly.
func (c *StreamClient) Ping(conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(time.Second))
}

func parseBookTicker(msg []byte) (OrderBook, error) {
	var raw struct {
		Symbol    string          `json:"s"`
		Bid       decimal.Decimal `json:"b"`
		Ask       decimal.Decimal `json:"a"`
		EventTime *int64          `json:"E"`
		TxTime    *int64          `json:"T"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return OrderBook{}, err
	}
	if raw.Symbol == "" || !raw.Bid.IsPositive() || !raw.Ask.IsPositive() {
		return OrderBook{}, fmt.Errorf("incomplete book ticker: %s", msg)
	}
	// only an absent timestamp falls back to the local clock
	var ts int64
	switch {
	case raw.EventTime != nil:
		ts = *raw.EventTime
	case raw.TxTime != nil:
		ts = *raw.TxTime
	default:
		ts = time.Now().UnixMilli()
	}
	return OrderBook{Symbol: raw.Symbol, Timestamp: ts, BestBid: raw.Bid, BestAsk: raw.Ask}, nil
}

func parseMarkPrice(msg []byte) (common.MarkPrice, error) {
	var raw struct {
		Symbol    string          `json:"s"`
		Price     decimal.Decimal `json:"p"`
		EventTime *int64          `json:"E"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return common.MarkPrice{}, err
	}
	if raw.Symbol == "" || !raw.Price.IsPositive() {
		return common.MarkPrice{}, fmt.Errorf("incomplete mark price: %s", msg)
	}
	ts := time.Now().UnixMilli()
	if raw.EventTime != nil {
		ts = *raw.EventTime
	}
	return common.MarkPrice{Symbol: raw.Symbol, Price: raw.Price, EventTime: ts}, nil
}
