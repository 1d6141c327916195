package dispatch

import (
	"testing"
	"time"

	"github.com/example/ambulance-dispatch/internal/booking"
)

func pending(id string, created time.Time) booking.Booking {
	return booking.Booking{ID: id, RequesterID: "rider-1", Status: booking.StatusPending, CreatedAt: created}
}

func TestPoolOfferRules(t *testing.T) {
	p := NewPool()
	now := time.Now()

	p.Offer(pending("bk-1", now))
	if !p.Contains("bk-1") {
		t.Fatal("pending booking should be offered")
	}

	driver := "d1"
	taken := pending("bk-2", now)
	taken.Status = booking.StatusAccepted
	taken.DriverID = &driver
	p.Offer(taken)
	if p.Contains("bk-2") {
		t.Fatal("assigned booking must not enter the pool")
	}

	// Replayed offers converge on one entry.
	p.Offer(pending("bk-1", now))
	if p.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", p.Len())
	}
}

func TestPoolRemoveAndList(t *testing.T) {
	p := NewPool()
	now := time.Now()
	p.Offer(pending("bk-1", now))
	p.Offer(pending("bk-2", now.Add(time.Second)))

	list := p.List()
	if len(list) != 2 || list[0].ID != "bk-2" {
		t.Fatalf("expected newest first, got %+v", list)
	}

	p.Remove("bk-1")
	p.Remove("bk-1") // absent is a no-op
	if p.Contains("bk-1") || p.Len() != 1 {
		t.Fatal("remove did not prune")
	}
}
