package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kode4food/cascade/pkg/api"
)

// Redis is a MultipleConditionStorage backed by Redis. It uses this key
// structure:
//
//	<prefix>window:<uid>  => JSON-encoded MultipleConditionWindow
//	<prefix>idx:end       => ZSET of window uids scored by end time
//
// Window keys expire on their own once their window has closed, so the
// index may name windows that no longer exist
type Redis struct {
	client redis.UniversalClient
	prefix string
}

const DefaultRedisPrefix = "cascade:"

var _ api.MultipleConditionStorage = (*Redis)(nil)

// NewRedis creates a Redis storage. An empty prefix uses the default
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{
		client: client,
		prefix: prefix,
	}
}

func (s *Redis) keyWindow(uid string) string {
	return s.prefix + "window:" + uid
}

func (s *Redis) keyEndIndex() string {
	return s.prefix + "idx:end"
}

func (s *Redis) Get(
	ctx context.Context, f *api.Flow, conditionID string,
) (*api.MultipleConditionWindow, error) {
	return s.get(ctx, api.WindowUID(f.Namespace, f.ID, conditionID))
}

// GetOrCreate returns the stored window when it is still open, otherwise a
// new unsaved window containing now
func (s *Redis) GetOrCreate(
	ctx context.Context, f *api.Flow, mc api.MultipleCondition, now time.Time,
) (*api.MultipleConditionWindow, error) {
	w, err := s.Get(ctx, f, mc.ConditionID())
	if err != nil {
		return nil, err
	}
	if w != nil && !w.IsExpired(now) && !now.Before(w.Start) {
		return w, nil
	}
	return api.NewMultipleConditionWindow(f, mc, now), nil
}

func (s *Redis) Save(
	ctx context.Context, windows []*api.MultipleConditionWindow,
) error {
	pipe := s.client.TxPipeline()
	for _, w := range windows {
		data, err := json.Marshal(w)
		if err != nil {
			return err
		}
		uid := w.UID()
		pipe.Set(ctx, s.keyWindow(uid), data, windowTTL(w))
		pipe.ZAdd(ctx, s.keyEndIndex(), redis.Z{
			Score:  float64(w.End.UnixMilli()),
			Member: uid,
		})
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Redis) Delete(
	ctx context.Context, w *api.MultipleConditionWindow,
) error {
	uid := w.UID()
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.keyWindow(uid))
	pipe.ZRem(ctx, s.keyEndIndex(), uid)
	_, err := pipe.Exec(ctx)
	return err
}

// Expired returns the stored windows that closed at or before now
func (s *Redis) Expired(
	ctx context.Context, now time.Time,
) ([]*api.MultipleConditionWindow, error) {
	uids, err := s.client.ZRangeByScore(ctx, s.keyEndIndex(), &redis.ZRangeBy{
		Min: "-inf",
		Max: formatScore(now),
	}).Result()
	if err != nil {
		return nil, err
	}

	var res []*api.MultipleConditionWindow
	for _, uid := range uids {
		w, err := s.get(ctx, uid)
		if err != nil {
			return nil, err
		}
		if w == nil {
			s.client.ZRem(ctx, s.keyEndIndex(), uid)
			continue
		}
		if w.IsExpired(now) {
			res = append(res, w)
		}
	}
	return res, nil
}

func (s *Redis) get(
	ctx context.Context, uid string,
) (*api.MultipleConditionWindow, error) {
	data, err := s.client.Get(ctx, s.keyWindow(uid)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var w api.MultipleConditionWindow
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// windowTTL keeps a window around for one extra window length after it
// closes, so Expired can still report it
func windowTTL(w *api.MultipleConditionWindow) time.Duration {
	ttl := time.Until(w.End) + w.End.Sub(w.Start)
	if ttl <= 0 {
		return time.Second
	}
	return ttl
}

func formatScore(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
