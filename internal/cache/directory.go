// Package cache はユーザー名とIDの対応をRedisにキャッシュする。
package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL はキャッシュエントリのデフォルトの有効期間。
const DefaultTTL = 30 * time.Second

const (
	keyPrefixID   = "followgraph:user:id:"
	keyPrefixName = "followgraph:user:name:"
)

// Client はCachedUserDirectoryが使うRedisコマンドの部分集合。*redis.Clientが満たす。
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Source はキャッシュの背後にあるユーザーディレクトリ。見つからない場合は空文字を返す。
type Source interface {
	FindIDByUsername(ctx context.Context, username string) (string, error)
	FindUsernameByID(ctx context.Context, id string) (string, error)
}

// CachedUserDirectory はSourceの検索結果をRedisにキャッシュする。
// 見つからなかった結果はキャッシュしない。Redisの障害時はSourceを直接参照する。
type CachedUserDirectory struct {
	source Source
	client Client
	ttl    time.Duration
	flight singleflight.Group
}

// NewCachedUserDirectory はCachedUserDirectoryを生成する。ttlが0以下の場合はDefaultTTL。
func NewCachedUserDirectory(source Source, client Client, ttl time.Duration) *CachedUserDirectory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CachedUserDirectory{source: source, client: client, ttl: ttl}
}

// FindIDByUsername はユーザー名からIDを返す。
func (d *CachedUserDirectory) FindIDByUsername(ctx context.Context, username string) (string, error) {
	return d.lookup(ctx, keyPrefixID+username, func(ctx context.Context) (string, error) {
		return d.source.FindIDByUsername(ctx, username)
	})
}

// FindUsernameByID はIDからユーザー名を返す。
func (d *CachedUserDirectory) FindUsernameByID(ctx context.Context, id string) (string, error) {
	return d.lookup(ctx, keyPrefixName+id, func(ctx context.Context) (string, error) {
		return d.source.FindUsernameByID(ctx, id)
	})
}

func (d *CachedUserDirectory) lookup(ctx context.Context, key string, load func(context.Context) (string, error)) (string, error) {
	cached, err := d.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		return cached, nil
	case !errors.Is(err, redis.Nil):
		slog.Warn("キャッシュの読み込みに失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}

	// 同じキーへの同時ミスはSourceへの問い合わせを1回にまとめる
	v, err, _ := d.flight.Do(key, func() (any, error) {
		value, err := load(ctx)
		if err != nil || value == "" {
			return value, err
		}
		if err := d.client.Set(ctx, key, value, d.ttl).Err(); err != nil {
			slog.Warn("キャッシュの書き込みに失敗しました",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
