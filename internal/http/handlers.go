package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ambulance-dispatch/internal/auth"
	"github.com/example/ambulance-dispatch/internal/booking"
	"github.com/example/ambulance-dispatch/internal/channel"
	"github.com/example/ambulance-dispatch/internal/config"
	"github.com/example/ambulance-dispatch/internal/dispatch"
	"github.com/example/ambulance-dispatch/internal/eta"
	"github.com/example/ambulance-dispatch/internal/feed"
	"github.com/example/ambulance-dispatch/internal/geo"
	"github.com/example/ambulance-dispatch/internal/ingest"
	"github.com/example/ambulance-dispatch/internal/lifecycle"
	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/reconcile"
	"github.com/example/ambulance-dispatch/internal/storage"
)

type Server struct {
	Store     storage.BookingStore
	Lifecycle *lifecycle.Service
	Matcher   *dispatch.Matcher
	Snapshots geo.SnapshotStore
	Broker    *feed.Broker
	Hub       *channel.Hub
	Kafka     *ingest.KafkaProducer
	Auth      *auth.Verifier
	Router    eta.Client

	nearbyLimit int
	logger      *slog.Logger
	mux         *mux.Router
}

// NewServer wires the process from config with sensible fallbacks: memory
// implementations stand in when Redis/Postgres/Kafka are not configured.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) (*Server, error) {
	broker := feed.NewBroker(logger)

	var store storage.BookingStore
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		store = ps
		listener, err := feed.NewPGListener(cfg.PGDSN, broker, logger)
		if err != nil {
			return nil, err
		}
		go listener.Run(context.Background())
	} else {
		store = storage.NewMemoryStore(broker)
	}

	var snaps geo.SnapshotStore
	if cfg.RedisAddr != "" {
		snaps = geo.NewRedisSnapshot(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		snaps = geo.NewIndex()
	}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	var router eta.Client
	if cfg.OSRMEndpoint != "" {
		router = eta.Cached{Client: eta.NewOSRMClient(cfg.OSRMEndpoint), Cache: eta.NewCache(cfg.RouteCacheTTL)}
	} else {
		router = eta.Estimator{SpeedMps: cfg.DefaultSpeedMps}
	}

	bus := channel.NewBus(logger)
	hub := channel.NewHub(bus, logger)
	matcher := dispatch.NewMatcher(store, snaps, broker, bus, logger)
	go matcher.Run(context.Background())

	svc := &lifecycle.Service{Store: store, Notify: hub, Logger: logger}

	s := &Server{
		Store:     store,
		Lifecycle: svc,
		Matcher:   matcher,
		Snapshots: snaps,
		Broker:    broker,
		Hub:       hub,
		Kafka:     kp,
		Auth:      auth.NewVerifier(cfg.JWTSecret),
		Router:    router,

		nearbyLimit: cfg.OfferNearbyLimit,
		logger:      logger,
		mux:         mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/bookings", s.handleCreateBooking).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/pending", s.handleListPending).Methods("GET")
	s.mux.HandleFunc("/api/v1/bookings/{id}", s.handleGetBooking).Methods("GET")
	s.mux.HandleFunc("/api/v1/bookings/{id}/accept", s.handleAccept).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{id}/track", s.handleTrack).Methods("GET")
	s.mux.HandleFunc("/api/v1/bookings/{id}/status", s.handleStatus).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{id}/cancel", s.handleCancel).Methods("POST")
	s.mux.HandleFunc("/api/v1/drivers/availability", s.handleAvailability).Methods("PUT")
	s.mux.HandleFunc("/api/v1/drivers/nearby", s.handleNearby).Methods("GET")
	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Pickup      models.Place `json:"pickup"`
		Destination models.Place `json:"destination"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, err := s.Lifecycle.Create(r.Context(), models.BookingRequest{
		RequesterID: sess.UserID,
		Pickup:      req.Pickup,
		Destination: req.Destination,
	})
	if err != nil {
		s.actionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.session(w, r); !ok {
		return
	}
	b, err := s.Store.GetBooking(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.actionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.driverSession(w, r)
	if !ok {
		return
	}
	pool, err := s.Matcher.Register(r.Context(), sess.UserID)
	if err != nil {
		s.actionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pool.List())
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.driverSession(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	won, err := s.Matcher.Accept(r.Context(), id, sess.UserID)
	if errors.Is(err, dispatch.ErrDriverUnavailable) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		s.actionError(w, r, err)
		return
	}
	if won {
		s.Hub.Broadcast(channel.BookingAccept{BookingID: id, DriverID: sess.UserID}, "")
	}
	b, err := s.Store.GetBooking(r.Context(), id)
	if err != nil {
		s.actionError(w, r, err)
		return
	}
	// losing the race is a normal outcome, not an error status
	writeJSON(w, http.StatusOK, map[string]any{"accepted": won, "booking": b})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.driverSession(w, r)
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	next, err := booking.ParseStatus(req.Status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := s.Lifecycle.Transition(r.Context(), sess, mux.Vars(r)["id"], next)
	if err != nil {
		s.actionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applied": res.Applied, "booking": res.Booking})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	res, err := s.Lifecycle.Cancel(r.Context(), sess, mux.Vars(r)["id"])
	if err != nil {
		s.actionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applied": res.Applied, "booking": res.Booking})
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.driverSession(w, r)
	if !ok {
		return
	}
	var req struct {
		Available bool `json:"available"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a := models.DriverAvailability{DriverID: sess.UserID, Available: req.Available}
	if err := s.Snapshots.SetAvailability(r.Context(), a); err != nil {
		s.actionError(w, r, err)
		return
	}
	// drop the pool on every flip: an unavailable driver must never hold
	// offers, and a newly available one must re-seed with the pending
	// backlog on its next lookup instead of keeping a stale empty pool
	s.Matcher.Unregister(sess.UserID)
	w.WriteHeader(http.StatusNoContent)
}

// handleNearby lists the closest available drivers around a point, for the
// requester's map view before a booking exists.
func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.session(w, r); !ok {
		return
	}
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if errLat != nil || errLng != nil {
		http.Error(w, "lat and lng query parameters are required", http.StatusBadRequest)
		return
	}
	limit := s.nearbyLimit
	if limit <= 0 {
		limit = 8
	}
	drivers, err := s.Snapshots.Nearby(r.Context(), lat, lng, limit)
	if err != nil {
		s.actionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, drivers)
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.driverSession(w, r)
	if !ok {
		return
	}
	var p models.DriverPosition
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p.DriverID = sess.UserID
	p.Online = true
	if p.SampledAt.IsZero() {
		p.SampledAt = time.Now().UTC()
	}
	// durable side goes through Kafka when configured, direct otherwise
	if s.Kafka != nil {
		if err := s.Kafka.PublishPosition(p); err != nil {
			s.actionError(w, r, err)
			return
		}
	} else if err := s.Snapshots.Upsert(r.Context(), p); err != nil {
		s.actionError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// hubSource feeds trackers from the server hub's own bus; there is no
// upstream connection to manage.
type hubSource struct{ bus *channel.Bus }

func (hubSource) Acquire() error      { return nil }
func (hubSource) Release()            {}
func (h hubSource) Bus() *channel.Bus { return h.bus }

// handleTrack streams the reconciler's merged view of one booking over a
// websocket until the client goes away.
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("token")
	if _, err := s.Auth.Session(raw); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := s.Store.GetBooking(r.Context(), id); err != nil {
		s.actionError(w, r, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}

	tracker, err := reconcile.NewTracker(context.Background(), id, s.Store, s.Snapshots, s.Broker, hubSource{bus: s.Hub.Bus()}, s.Router, s.logger)
	if err != nil {
		_ = conn.Close()
		return
	}
	// a close from the client must release both subscriptions promptly
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				tracker.Close()
				return
			}
		}
	}()
	defer func() {
		tracker.Close()
		_ = conn.Close()
	}()
	for u := range tracker.Updates() {
		if err := conn.WriteJSON(u); err != nil {
			return
		}
	}
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	// browsers cannot set headers on the upgrade request
	raw := r.URL.Query().Get("token")
	sess, err := s.Auth.Session(raw)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.Hub.Add(sess.UserID, conn)
}

// --- helpers ---

func (s *Server) session(w http.ResponseWriter, r *http.Request) (models.Session, bool) {
	sess, err := s.Auth.SessionFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return models.Session{}, false
	}
	return sess, true
}

func (s *Server) driverSession(w http.ResponseWriter, r *http.Request) (models.Session, bool) {
	sess, ok := s.session(w, r)
	if !ok {
		return models.Session{}, false
	}
	if sess.Role != models.RoleDriver {
		http.Error(w, "driver role required", http.StatusForbidden)
		return models.Session{}, false
	}
	return sess, true
}

// actionError converts failures at the action boundary into one local
// error response; nothing propagates as an uncaught fault.
func (s *Server) actionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "booking not found", http.StatusNotFound)
	case errors.Is(err, lifecycle.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, lifecycle.ErrIllegalTransition), errors.Is(err, booking.ErrInvalidStatus):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.Error("action failed", "path", r.URL.Path, "error", err)
		http.Error(w, "temporary failure, please retry", http.StatusServiceUnavailable)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
