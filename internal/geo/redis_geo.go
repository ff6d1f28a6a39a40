package geo

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/example/carpool-sync/internal/models"
)

// RedisIndex implements Index using Redis GEO commands.
type RedisIndex struct {
	client redis.Cmdable
	key    string
}

func NewRedisIndex(client redis.Cmdable, key string) *RedisIndex {
	if key == "" {
		key = "carpool:rides_geo"
	}
	return &RedisIndex{client: client, key: key}
}

func (r *RedisIndex) Replace(ctx context.Context, pts []Point) error {
	locs := make([]*redis.GeoLocation, 0, len(pts))
	for _, p := range pts {
		if !p.Coordinate.Valid() {
			continue
		}
		locs = append(locs, &redis.GeoLocation{
			Name:      strconv.FormatInt(p.RideID, 10),
			Longitude: p.Coordinate.Lng,
			Latitude:  p.Coordinate.Lat,
		})
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.key)
	if len(locs) > 0 {
		pipe.GeoAdd(ctx, r.key, locs...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("geo replace: %w", err)
	}
	return nil
}

func (r *RedisIndex) Within(ctx context.Context, c models.Coordinate, radiusKm float64) ([]Hit, error) {
	res, err := r.client.GeoRadius(ctx, r.key, c.Lng, c.Lat, &redis.GeoRadiusQuery{
		Radius:   radiusKm,
		Unit:     "km",
		WithDist: true,
		Sort:     "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geo search: %w", err)
	}
	out := make([]Hit, 0, len(res))
	for _, g := range res {
		id, err := strconv.ParseInt(g.Name, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Hit{RideID: id, DistanceKm: g.Dist})
	}
	sortHits(out)
	return out, nil
}
