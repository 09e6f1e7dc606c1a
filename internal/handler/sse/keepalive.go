package sse

import (
	"log/slog"
	"sync"
	"time"
)

// KeepAliveStrategy sends keep-alive pings on an open stream
type KeepAliveStrategy interface {
	// Start begins sending pings through writer. The returned channel
	// closes once the strategy stops, including after a failed write.
	Start(writer KeepAliveWriter, logger *slog.Logger) <-chan struct{}

	// Stop terminates the pings. Safe to call multiple times.
	Stop()
}

// KeepAliveWriter writes one keep-alive message
type KeepAliveWriter interface {
	WriteKeepAlive() error
}

// TickerKeepAlive pings at a fixed interval until stopped or a write fails
type TickerKeepAlive struct {
	interval time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

var _ KeepAliveStrategy = (*TickerKeepAlive)(nil)

// NewTickerKeepAlive creates a ticker-based keep-alive strategy
func NewTickerKeepAlive(interval time.Duration) *TickerKeepAlive {
	return &TickerKeepAlive{
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins sending keep-alive pings on the configured interval
func (k *TickerKeepAlive) Start(writer KeepAliveWriter, logger *slog.Logger) <-chan struct{} {
	stopChan := make(chan struct{})
	ticker := time.NewTicker(k.interval)

	go func() {
		defer close(stopChan)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := writer.WriteKeepAlive(); err != nil {
					logger.Warn("keep-alive write failed, stopping",
						"error", err,
					)
					return
				}

			case <-k.done:
				return
			}
		}
	}()

	return stopChan
}

// Stop terminates the keep-alive mechanism
func (k *TickerKeepAlive) Stop() {
	k.stopOnce.Do(func() {
		close(k.done)
	})
}
