// driversim stands in for a driver app during local development: it joins
// the message channel, broadcasts a wandering position on the configured
// period, and logs the booking traffic it observes.
package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/example/ambulance-dispatch/internal/channel"
	"github.com/example/ambulance-dispatch/internal/logging"
	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/reconcile"
)

func main() {
	var (
		wsURL    = flag.String("ws", envOr("WS_URL", "ws://localhost:8080/ws"), "message channel endpoint, token query param included")
		driverID = flag.String("driver", envOr("DRIVER_ID", "sim-driver-1"), "driver id to broadcast as")
		lat      = flag.Float64("lat", 12.9716, "starting latitude")
		lng      = flag.Float64("lng", 77.5946, "starting longitude")
		interval = flag.Duration("interval", 3*time.Second, "broadcast period")
	)
	flag.Parse()

	logger := logging.NewLogger("driversim", os.Getenv("LOG_LEVEL"))

	bus := channel.NewBus(logger)
	conn := channel.NewConn(*wsURL, bus, logger)

	// small random walk around the starting point
	var mu sync.Mutex
	pos := models.Coord{Lat: *lat, Lng: *lng}
	source := func() (models.Coord, bool) {
		mu.Lock()
		defer mu.Unlock()
		pos.Lat += (rand.Float64() - 0.5) * 0.001
		pos.Lng += (rand.Float64() - 0.5) * 0.001
		return pos, true
	}

	b := &reconcile.Broadcaster{
		DriverID: *driverID,
		Conn:     conn,
		Source:   source,
		Interval: *interval,
		Logger:   logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := b.Start(ctx); err != nil {
		logger.Error("broadcast start failed", "error", err)
		os.Exit(1)
	}
	defer b.Stop()
	logger.Info("broadcasting position", "driver_id", *driverID, "interval", interval.String())

	sub := bus.Subscribe()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			switch e := ev.(type) {
			case channel.BookingRequest:
				logger.Info("booking requested", "booking_id", e.BookingID, "pickup", e.Pickup.Address)
			case channel.BookingStatusUpdate:
				logger.Info("booking status", "booking_id", e.BookingID, "status", string(e.Status))
			}
		}
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
