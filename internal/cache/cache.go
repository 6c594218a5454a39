// Package cache puts Redis in front of the document store for the hot
// read paths (token validation, user and channel fetches). All reads go
// cache-first and fall back to the store, backfilling on the way out. A
// nil Redis client degrades to store-only, which is also how most tests
// run.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Xminent/shiki-server/internal/model"
	"github.com/Xminent/shiki-server/internal/store"
	"github.com/Xminent/shiki-server/internal/zlog"
)

const tokenTTL = 24 * time.Hour

// Fetcher is the cache-aside reader over the store.
type Fetcher struct {
	store *store.Store
	rdb   *redis.Client
}

// New builds a Fetcher. rdb may be nil to bypass caching entirely.
func New(s *store.Store, rdb *redis.Client) *Fetcher {
	return &Fetcher{store: s, rdb: rdb}
}

func userKey(id int64) string      { return fmt.Sprintf("user:%d", id) }
func tokenKey(token string) string { return fmt.Sprintf("user_token:%s", token) }
func channelKey(id int64) string   { return fmt.Sprintf("channel:%d", id) }

func (f *Fetcher) getJSON(ctx context.Context, key string, v any) bool {
	if f.rdb == nil {
		return false
	}
	raw, err := f.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zlog.Debug("cache read %s: %v", key, err)
		}
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		zlog.Debug("cache decode %s: %v", key, err)
		return false
	}
	return true
}

// setJSON backfills the cache. Failures only cost the next read a trip to
// the store, so they are logged and swallowed.
func (f *Fetcher) setJSON(ctx context.Context, key string, v any) {
	if f.rdb == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := f.rdb.Set(ctx, key, raw, 0).Err(); err != nil {
		zlog.Debug("cache write %s: %v", key, err)
	}
}

func (f *Fetcher) cacheUser(ctx context.Context, u *model.User) {
	if f.rdb == nil {
		return
	}
	f.setJSON(ctx, userKey(u.ID), u)
	if err := f.rdb.Set(ctx, tokenKey(u.Token), u.ID, tokenTTL).Err(); err != nil {
		zlog.Debug("cache write %s: %v", tokenKey(u.Token), err)
	}
}

// UserByID reads one user, cache first.
func (f *Fetcher) UserByID(ctx context.Context, id int64) (*model.User, error) {
	var cached model.User
	if f.getJSON(ctx, userKey(id), &cached) {
		return &cached, nil
	}

	u, err := f.store.UserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	f.cacheUser(ctx, u)
	return u, nil
}

// UserByToken resolves a bearer token, cache first: token → id → user.
func (f *Fetcher) UserByToken(ctx context.Context, token string) (*model.User, error) {
	if f.rdb != nil {
		if id, err := f.rdb.Get(ctx, tokenKey(token)).Int64(); err == nil {
			var cached model.User
			if f.getJSON(ctx, userKey(id), &cached) {
				return &cached, nil
			}
		}
	}

	u, err := f.store.UserByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	f.cacheUser(ctx, u)
	return u, nil
}

// ListUsers returns the full roster from the store, backfilling each user
// into the cache on the way.
func (f *Fetcher) ListUsers(ctx context.Context) ([]model.User, error) {
	users, err := f.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		f.cacheUser(ctx, &users[i])
	}
	return users, nil
}

// InvalidateUser drops a user's cache entries after a profile update.
func (f *Fetcher) InvalidateUser(ctx context.Context, u *model.User) {
	if f.rdb == nil {
		return
	}
	if err := f.rdb.Del(ctx, userKey(u.ID), tokenKey(u.Token)).Err(); err != nil {
		zlog.Debug("cache invalidate user %d: %v", u.ID, err)
	}
}

// Channels loads the channel table, backfilling individual entries.
func (f *Fetcher) Channels(ctx context.Context) ([]model.Channel, error) {
	channels, err := f.store.Channels(ctx)
	if err != nil {
		return nil, err
	}
	for i := range channels {
		f.setJSON(ctx, channelKey(channels[i].ID), &channels[i])
	}
	return channels, nil
}

// ChannelByID reads one channel, cache first.
func (f *Fetcher) ChannelByID(ctx context.Context, id int64) (*model.Channel, error) {
	var cached model.Channel
	if f.getJSON(ctx, channelKey(id), &cached) {
		return &cached, nil
	}

	channels, err := f.store.Channels(ctx)
	if err != nil {
		return nil, err
	}
	for i := range channels {
		if channels[i].ID == id {
			f.setJSON(ctx, channelKey(id), &channels[i])
			return &channels[i], nil
		}
	}
	return nil, store.ErrNotFound
}
