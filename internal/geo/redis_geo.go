package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisSnapshot implements SnapshotStore using Redis GEO commands for the
// index and a per-driver hash for metadata.
type RedisSnapshot struct {
	client *redis.Client
	key    string
}

func NewRedisSnapshot(addr, password, key string) *RedisSnapshot {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisSnapshot{client: c, key: key}
}

func (r *RedisSnapshot) Upsert(ctx context.Context, p models.DriverPosition) error {
	// drop stale samples: the consumer is the only writer per driver key,
	// so read-then-write is safe here
	if prev, ok, err := r.LastKnown(ctx, p.DriverID); err != nil {
		return err
	} else if ok && !p.SampledAt.After(prev.SampledAt) {
		return nil
	}
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: p.Lng, Latitude: p.Lat, Name: p.DriverID}).Result(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(p.DriverID), map[string]interface{}{
		"lat":        strconv.FormatFloat(p.Lat, 'f', -1, 64),
		"lng":        strconv.FormatFloat(p.Lng, 'f', -1, 64),
		"sampled_at": p.SampledAt.UTC().Format(time.RFC3339Nano),
		"online":     strconv.FormatBool(p.Online),
	}).Err()
}

func (r *RedisSnapshot) LastKnown(ctx context.Context, driverID string) (models.DriverPosition, bool, error) {
	m, err := r.client.HGetAll(ctx, metaKey(driverID)).Result()
	if err != nil {
		return models.DriverPosition{}, false, err
	}
	if len(m) == 0 || m["sampled_at"] == "" {
		return models.DriverPosition{}, false, nil
	}
	p := models.DriverPosition{DriverID: driverID}
	p.Lat, _ = strconv.ParseFloat(m["lat"], 64)
	p.Lng, _ = strconv.ParseFloat(m["lng"], 64)
	p.SampledAt, _ = time.Parse(time.RFC3339Nano, m["sampled_at"])
	p.Online = m["online"] == "true"
	return p, true, nil
}

func (r *RedisSnapshot) SetAvailability(ctx context.Context, a models.DriverAvailability) error {
	return r.client.HSet(ctx, metaKey(a.DriverID), "available", strconv.FormatBool(a.Available)).Err()
}

func (r *RedisSnapshot) Available(ctx context.Context, driverID string) (bool, error) {
	v, err := r.client.HGet(ctx, metaKey(driverID), "available").Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

func (r *RedisSnapshot) Nearby(ctx context.Context, lat, lng float64, limit int) ([]models.DriverPosition, error) {
	res, err := r.client.GeoRadius(ctx, r.key, lng, lat, &redis.GeoRadiusQuery{
		Radius: 10000, Unit: "m", WithCoord: true, Count: limit * 2, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.DriverPosition, 0, limit)
	for _, g := range res {
		if len(out) == limit {
			break
		}
		p, ok, err := r.LastKnown(ctx, g.Name)
		if err != nil || !ok || !p.Online {
			continue
		}
		if avail, err := r.Available(ctx, g.Name); err != nil || !avail {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func metaKey(id string) string { return "driver:meta:" + id }
