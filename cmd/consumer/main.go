// The consumer drains raw driver position samples from Kafka and writes
// the durable last-known snapshot into Redis. It is the slow, authoritative
// half of the position pipeline; trackers fall back on its output until
// the transient stream delivers a first sample.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ambulance-dispatch/internal/geo"
	"github.com/example/ambulance-dispatch/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_position_samples_consumed_total",
		Help: "Total position samples consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_position_samples_invalid_total",
		Help: "Total invalid samples received",
	})
	snapshotUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_snapshot_updates_total",
		Help: "Total successful snapshot writes",
	})
	snapshotErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_snapshot_errors_total",
		Help: "Total snapshot write errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, snapshotUpdates, snapshotErrors)
}

func main() {
	// allow some flags for local runs
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	brokersEnv := os.Getenv("KAFKA_BROKERS")
	if brokersEnv == "" {
		brokersEnv = os.Getenv("KAFKA_BROKER")
	}
	brokers := []string{}
	if brokersEnv != "" {
		for _, b := range strings.Split(brokersEnv, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	} else {
		brokers = []string{"localhost:9092"}
	}

	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "driver-locations"
	}
	group := os.Getenv("KAFKA_GROUP")
	if group == "" {
		group = "ambulance-dispatch-consumer"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	geoKey := os.Getenv("REDIS_GEO_KEY")
	if geoKey == "" {
		geoKey = "drivers_geo"
	}
	rc := redis.NewClient(&redis.Options{Addr: redisAddr})
	snaps := geo.NewRedisSnapshot(redisAddr, os.Getenv("REDIS_PASSWORD"), geoKey)

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			// readiness: check redis connectivity
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	log.Printf("consumer listening topic=%s brokers=%v group=%s", topic, brokers, group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down consumer")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second

		msgsConsumed.Inc()

		var p models.DriverPosition
		if err := json.Unmarshal(m.Value, &p); err != nil {
			msgsInvalid.Inc()
			log.Printf("invalid sample: %v", err)
			continue
		}
		if p.DriverID == "" {
			msgsInvalid.Inc()
			continue
		}

		// write the snapshot with retries and small backoff
		if err := updateSnapshotWithRetry(ctx, snaps, p, 3, 200*time.Millisecond); err != nil {
			snapshotErrors.Inc()
			log.Printf("snapshot update failed for driver=%s: %v", p.DriverID, err)
			continue
		}
		snapshotUpdates.Inc()
	}
}

// SnapshotWriter is the small subset of snapshot operations the consumer
// needs; tests supply a fake.
type SnapshotWriter interface {
	Upsert(ctx context.Context, p models.DriverPosition) error
}

// updateSnapshotWithRetry writes one sample with bounded retry/backoff.
func updateSnapshotWithRetry(ctx context.Context, sw SnapshotWriter, p models.DriverPosition, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = sw.Upsert(ctx, p); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		time.Sleep(delay)
		delay *= 2
	}
	return err
}
