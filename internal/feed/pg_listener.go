package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// NotifyChannel is the Postgres NOTIFY channel the bookings trigger fires on.
// See migrations/001_create_bookings.sql.
const NotifyChannel = "booking_changes"

// PGListener bridges Postgres LISTEN/NOTIFY into a Broker. One listener
// connection serves every observer in the process.
type PGListener struct {
	listener *pq.Listener
	broker   *Broker
	logger   *slog.Logger
}

func NewPGListener(dsn string, broker *Broker, logger *slog.Logger) (*PGListener, error) {
	l := pq.NewListener(dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Error("pg listener event", "event", int(ev), "error", err)
		}
	})
	if err := l.Listen(NotifyChannel); err != nil {
		_ = l.Close()
		return nil, err
	}
	return &PGListener{listener: l, broker: broker, logger: logger}, nil
}

// Run pumps notifications into the broker until ctx is done. The trigger
// sends the full row as JSON so subscribers never need a follow-up read.
func (p *PGListener) Run(ctx context.Context) {
	defer p.listener.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-p.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// reconnect marker from pq; nothing to deliver
				continue
			}
			var ev Event
			if err := json.Unmarshal([]byte(n.Extra), &ev); err != nil {
				p.logger.Warn("malformed change notification", "error", err)
				continue
			}
			p.broker.Publish(ev)
		case <-time.After(90 * time.Second):
			if err := p.listener.Ping(); err != nil {
				p.logger.Error("pg listener ping", "error", err)
			}
		}
	}
}
