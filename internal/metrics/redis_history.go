package metrics

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultHistoryRetention is how long evaluation points are kept in Redis.
const DefaultHistoryRetention = 90 * 24 * time.Hour

// RedisHistory keeps evaluation history in Redis sorted sets, one key per
// metric, scored by run time.
type RedisHistory struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisHistory connects to Redis.
// Returns error if connection fails.
func NewRedisHistory(url string) (*RedisHistory, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisHistory{
		client:    client,
		prefix:    "clickrank:eval:",
		retention: DefaultHistoryRetention,
	}, nil
}

// SetRetention sets how long points are kept.
func (rh *RedisHistory) SetRetention(d time.Duration) {
	rh.retention = d
}

// Record writes all values of a run in one pipeline and trims expired points.
func (rh *RedisHistory) Record(ctx context.Context, runID string, at time.Time, values map[string]float64) error {
	if len(values) == 0 {
		return nil
	}

	minScore := strconv.FormatInt(time.Now().Add(-rh.retention).Unix(), 10)

	pipe := rh.client.Pipeline()
	for metric, v := range values {
		key := rh.prefix + metric
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  float64(at.Unix()),
			Member: encodeMember(runID, v),
		})
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+minScore)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording run %s: %w", runID, err)
	}
	return nil
}

// Load returns points recorded since the given time, oldest first.
func (rh *RedisHistory) Load(ctx context.Context, metric string, since time.Time) ([]DataPoint, error) {
	results, err := rh.client.ZRangeByScoreWithScores(ctx, rh.prefix+metric, &redis.ZRangeBy{
		Min: strconv.FormatInt(since.Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	points := make([]DataPoint, 0, len(results))
	for _, z := range results {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		runID, value, ok := decodeMember(member)
		if !ok {
			continue
		}
		points = append(points, DataPoint{
			RunID:     runID,
			Timestamp: time.Unix(int64(z.Score), 0),
			Value:     value,
		})
	}
	return points, nil
}

// DeleteMetric deletes all points of a metric.
func (rh *RedisHistory) DeleteMetric(ctx context.Context, metric string) error {
	if err := rh.client.Del(ctx, rh.prefix+metric).Err(); err != nil {
		return fmt.Errorf("deleting metric: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (rh *RedisHistory) Close() error {
	return rh.client.Close()
}

// Members carry the run ID so equal values from different runs stay distinct.
func encodeMember(runID string, value float64) string {
	return runID + "|" + strconv.FormatFloat(value, 'g', -1, 64)
}

func decodeMember(member string) (string, float64, bool) {
	runID, raw, ok := strings.Cut(member, "|")
	if !ok {
		return "", 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return "", 0, false
	}
	return runID, v, true
}
