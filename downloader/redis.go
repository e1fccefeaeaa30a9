package downloader

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "railtrack:download:"

// Caches downloaded files in Redis, so several processes share one
// copy of each feed.
type RedisDownloader struct {
	client *redis.Client
}

func NewRedisDownloader(addr string) *RedisDownloader {
	return NewRedisDownloaderFromClient(redis.NewClient(&redis.Options{
		Addr: addr,
	}))
}

func NewRedisDownloaderFromClient(client *redis.Client) *RedisDownloader {
	return &RedisDownloader{client: client}
}

func (d *RedisDownloader) Get(
	ctx context.Context,
	url string,
	headers map[string]string,
	options GetOptions,
) ([]byte, error) {
	key := redisKeyPrefix + url

	if options.Cache {
		body, err := d.client.Get(ctx, key).Bytes()
		if err == nil {
			return body, nil
		}
		// An unreachable cache shouldn't take the feed down with it
		if !errors.Is(err, redis.Nil) {
			log.Printf("redis get %s: %v", url, err)
		}
	}

	body, err := HTTPGet(ctx, url, headers, options)
	if err != nil {
		return nil, err
	}

	if options.Cache && options.CacheTTL > 0 {
		err = d.client.Set(ctx, key, body, options.CacheTTL).Err()
		if err != nil {
			log.Printf("redis set %s: %v", url, err)
		}
	}

	return body, nil
}

func (d *RedisDownloader) Close() error {
	err := d.client.Close()
	if err != nil {
		return fmt.Errorf("closing redis: %w", err)
	}
	return nil
}
