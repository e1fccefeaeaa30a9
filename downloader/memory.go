package downloader

import (
	"context"

	"github.com/bluele/gcache"
)

const DefaultMemoryEntries = 64

// Caches downloaded files in memory, evicting the least recently
// used file once full.
type MemoryDownloader struct {
	cache gcache.Cache
}

func NewMemoryDownloader() *MemoryDownloader {
	return NewMemoryDownloaderWithClock(DefaultMemoryEntries, gcache.NewRealClock())
}

// Mostly for tests, which pass a gcache.FakeClock.
func NewMemoryDownloaderWithClock(size int, clock gcache.Clock) *MemoryDownloader {
	return &MemoryDownloader{
		cache: gcache.New(size).LRU().Clock(clock).Build(),
	}
}

func (d *MemoryDownloader) Get(
	ctx context.Context,
	url string,
	headers map[string]string,
	options GetOptions,
) ([]byte, error) {
	if options.Cache {
		if cached, err := d.cache.Get(url); err == nil {
			if body, ok := cached.([]byte); ok {
				return body, nil
			}
		}
	}

	body, err := HTTPGet(ctx, url, headers, options)
	if err != nil {
		return nil, err
	}

	if options.Cache && options.CacheTTL > 0 {
		err = d.cache.SetWithExpire(url, body, options.CacheTTL)
		if err != nil {
			return nil, err
		}
	}

	return body, nil
}
