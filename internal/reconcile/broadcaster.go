package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ambulance-dispatch/internal/channel"
	"github.com/example/ambulance-dispatch/internal/models"
)

// PositionSource yields the driver's current position, typically backed by
// the device GPS.
type PositionSource func() (models.Coord, bool)

// Broadcaster is the driver-side half of the transient stream: it emits a
// locationUpdate over the shared channel connection on a fixed period while
// running. Stop releases the timer first, then the connection.
type Broadcaster struct {
	DriverID string
	Conn     *channel.Conn
	Source   PositionSource
	Interval time.Duration
	Logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Start begins broadcasting. Calling Start on a running broadcaster is a
// no-op.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return nil
	}
	if err := b.Conn.Acquire(); err != nil {
		return err
	}
	interval := b.Interval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	go b.loop(ctx, interval)
	return nil
}

// Stop cancels the broadcast timer and releases interest in the shared
// connection.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel == nil {
		return
	}
	b.cancel()
	b.cancel = nil
	b.Conn.Release()
}

func (b *Broadcaster) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pos, ok := b.Source()
			if !ok {
				continue
			}
			err := b.Conn.Emit(channel.LocationUpdate{DriverID: b.DriverID, Lat: pos.Lat, Lng: pos.Lng})
			if err != nil {
				b.Logger.Warn("position broadcast failed", "driver_id", b.DriverID, "error", err)
			}
		}
	}
}
