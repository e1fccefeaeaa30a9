package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Caches downloaded files in a directory, one file per URL. The
// file's modification time is when it was retrieved, so the cache
// survives restarts of the CLI.
type Filesystem struct {
	Dir     string
	TimeNow func() time.Time

	mutex sync.Mutex
}

func NewFilesystem(dir string) (*Filesystem, error) {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	return &Filesystem{
		Dir:     dir,
		TimeNow: time.Now,
	}, nil
}

func (f *Filesystem) Get(
	ctx context.Context,
	url string,
	headers map[string]string,
	options GetOptions,
) ([]byte, error) {

	path := f.pathFor(url)

	if options.Cache {
		f.mutex.Lock()
		body, fresh, err := f.read(path, options.CacheTTL)
		f.mutex.Unlock()
		if err != nil {
			return nil, err
		}
		if fresh {
			return body, nil
		}
	}

	body, err := HTTPGet(ctx, url, headers, options)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}

	if options.Cache {
		f.mutex.Lock()
		defer f.mutex.Unlock()
		err = f.write(path, body)
		if err != nil {
			return nil, fmt.Errorf("saving: %w", err)
		}
	}

	return body, nil
}

func (f *Filesystem) pathFor(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(f.Dir, hex.EncodeToString(sum[:]))
}

func (f *Filesystem) read(path string, ttl time.Duration) ([]byte, bool, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("stat: %w", err)
	}

	if info.ModTime().Add(ttl).Before(f.TimeNow()) {
		log.Printf("cache expired: %s", filepath.Base(path))
		return nil, false, nil
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("reading: %w", err)
	}

	return body, true, nil
}

// Writes to a temp file and renames, so readers never see a partial
// body.
func (f *Filesystem) write(path string, body []byte) error {
	tmp, err := os.CreateTemp(f.Dir, ".download-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	_, err = tmp.Write(body)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("writing: %w", err)
	}
	err = tmp.Close()
	if err != nil {
		return fmt.Errorf("closing: %w", err)
	}

	now := f.TimeNow()
	err = os.Chtimes(tmp.Name(), now, now)
	if err != nil {
		return fmt.Errorf("touching: %w", err)
	}

	return os.Rename(tmp.Name(), path)
}
