package risk

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultReportInterval is used when StartPeriodicReports gets a non-positive interval.
const DefaultReportInterval = 10 * time.Minute

// StartPeriodicReports writes ReportText to path every interval until ctx ends or
// StopPeriodicReports is called. An empty path reports through the component logger.
func (m *Manager) StartPeriodicReports(ctx context.Context, path string, interval time.Duration, symbols ...string) error {
	if interval <= 0 {
		interval = DefaultReportInterval
	}

	out := logrus.New()
	out.SetFormatter(&logrus.TextFormatter{DisableQuote: true, FullTimestamp: true})
	var closer io.Closer
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open report file: %w", err)
		}
		out.SetOutput(f)
		closer = f
	} else {
		out = log.Logger
	}

	m.StopPeriodicReports()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.reportMu.Lock()
	m.reportCancel = cancel
	m.reportDone = done
	m.reportMu.Unlock()

	go func() {
		defer close(done)
		if closer != nil {
			defer closer.Close()
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				out.WithField("component", "risk_report").Info("\n" + m.ReportText(symbols...))
			}
		}
	}()
	log.Infof("periodic risk reports every %s -> %q", interval, path)
	return nil
}

// StopPeriodicReports stops the reporter and waits for it to exit.
func (m *Manager) StopPeriodicReports() {
	m.reportMu.Lock()
	cancel, done := m.reportCancel, m.reportDone
	m.reportCancel, m.reportDone = nil, nil
	m.reportMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
