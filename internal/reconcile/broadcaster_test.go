package reconcile

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ambulance-dispatch/internal/channel"
	"github.com/example/ambulance-dispatch/internal/models"
)

func TestBroadcasterEmitsOnInterval(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan channel.Event, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		for {
			_, raw, err := ws.ReadMessage()
			if err != nil {
				return
			}
			ev, err := channel.Decode(raw)
			if err != nil {
				t.Errorf("decode: %v", err)
				return
			}
			received <- ev
		}
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	conn := channel.NewConn("ws"+strings.TrimPrefix(srv.URL, "http"), channel.NewBus(logger), logger)

	b := &Broadcaster{
		DriverID: "d1",
		Conn:     conn,
		Source:   func() (models.Coord, bool) { return models.Coord{Lat: 12.9, Lng: 77.6}, true },
		Interval: 10 * time.Millisecond,
		Logger:   logger,
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Starting twice is a no-op, not a second loop.
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer b.Stop()

	for i := 0; i < 2; i++ {
		select {
		case ev := <-received:
			lu, ok := ev.(channel.LocationUpdate)
			if !ok || lu.DriverID != "d1" || lu.Lat != 12.9 {
				t.Fatalf("unexpected event: %#v", ev)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("no broadcast arrived")
		}
	}

	b.Stop()
	b.Stop() // idempotent; the connection is released once

	if err := conn.Emit(channel.LocationUpdate{DriverID: "d1"}); err != channel.ErrNotConnected {
		t.Fatalf("connection should be released after stop, got %v", err)
	}
}

func TestBroadcasterSkipsWithoutFix(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan struct{}, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
			received <- struct{}{}
		}
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	conn := channel.NewConn("ws"+strings.TrimPrefix(srv.URL, "http"), channel.NewBus(logger), logger)

	b := &Broadcaster{
		DriverID: "d1",
		Conn:     conn,
		Source:   func() (models.Coord, bool) { return models.Coord{}, false },
		Interval: 5 * time.Millisecond,
		Logger:   logger,
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer b.Stop()

	select {
	case <-received:
		t.Fatal("no-fix samples must not be sent")
	case <-time.After(100 * time.Millisecond):
	}
}
