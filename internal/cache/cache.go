// Package cache resolves ImageKeys to local files, deduping concurrent
// fetches for the same key. Grounded on the teacher's
// internal/blob/store.go (atomic temp-file-then-rename write) and
// linkpreview.go (bounded-timeout outbound HTTP GET), adapted from a
// sqlite-backed blob store to a purely in-memory one: this repository has
// no durable-persistence requirement (spec Non-goals), so cache metadata
// lives in the process only and is rebuilt from scratch on restart.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"matrixbridge/internal/imagekey"
)

// ErrCacheMiss is returned when a key could not be resolved: HTTP >= 400,
// a transport error, or a write failure. The Controller decides whether to
// drop or re-queue; the cache itself never retries.
var ErrCacheMiss = errors.New("cache: miss")

// FetchTimeout bounds a single CDN fetch, per spec §5.
const FetchTimeout = 15 * time.Second

// DefaultDirName is the cache directory name under the OS temp path.
const DefaultDirName = "python_matrix_reloaded_cache"

type entryState uint8

const (
	stateFetching entryState = iota
	stateReady
	stateFailed
)

type entry struct {
	key         imagekey.Key
	path        string
	bytesLen    uint64
	contentType string
	state       entryState
	done        chan struct{} // closed when Fetching resolves to Ready or Failed
}

// Cache maps ImageKey to a local file, fetching from the Twitch/Twemoji
// CDNs on miss. At most one fetch per key is ever in flight (invariant
// #2 in spec §8); concurrent resolvers for the same key await the same
// in-flight fetch instead of issuing their own HTTP request.
type Cache struct {
	dir string

	mu      sync.Mutex
	entries map[string]*entry // fingerprint -> entry

	httpClient *http.Client
	limiter    *rate.Limiter
}

// New creates a Cache rooted at dir (created on first use). concurrency
// sets a rate limit on starting outbound CDN fetches — at most concurrency
// starts per second, with bursts of up to concurrency — as a courtesy to
// the CDNs. It limits how fast fetches begin, not how many run at once.
func New(dir string, concurrency int) *Cache {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Cache{
		dir:     dir,
		entries: make(map[string]*entry),
		httpClient: &http.Client{
			Timeout: FetchTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(concurrency), concurrency),
	}
}

// Resolved is what Resolve returns on success.
type Resolved struct {
	Path        string
	ContentType string
}

// Resolve returns the local path and content type for key, fetching it
// from the CDN on first use. Concurrent callers for the same key share a
// single fetch.
func (c *Cache) Resolve(ctx context.Context, key imagekey.Key) (Resolved, error) {
	fp := key.Fingerprint()

	c.mu.Lock()
	if e, ok := c.entries[fp]; ok {
		switch e.state {
		case stateReady:
			c.mu.Unlock()
			return Resolved{Path: e.path, ContentType: e.contentType}, nil
		case stateFetching:
			wait := e.done
			c.mu.Unlock()
			select {
			case <-wait:
			case <-ctx.Done():
				return Resolved{}, ctx.Err()
			}
			return c.Resolve(ctx, key) // re-check state after the fetch settles
		case stateFailed:
			// Failed entries are evicted immediately below; fall through
			// to re-fetch.
		}
	}

	e := &entry{key: key, state: stateFetching, done: make(chan struct{})}
	c.entries[fp] = e
	c.mu.Unlock()

	path, contentType, bytesLen, err := c.fetch(ctx, key, fp)

	c.mu.Lock()
	if err != nil {
		delete(c.entries, fp) // Failed entries are evicted from the in-memory map.
		close(e.done)
		c.mu.Unlock()
		slog.Warn("cache miss — this isn't supposed to happen!", "key", key.String(), "err", err)
		return Resolved{}, fmt.Errorf("%w: %v", ErrCacheMiss, err)
	}
	e.state = stateReady
	e.path = path
	e.contentType = contentType
	e.bytesLen = bytesLen
	close(e.done)
	c.mu.Unlock()

	slog.Debug("cache fetch complete", "key", key.String(), "bytes", humanize.Bytes(bytesLen))
	return Resolved{Path: path, ContentType: contentType}, nil
}

func (c *Cache) fetch(ctx context.Context, key imagekey.Key, fp string) (path, contentType string, n uint64, err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", "", 0, err
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", "", 0, fmt.Errorf("create cache directory: %w", err)
	}

	url := key.SourceURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", 0, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", 0, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", "", 0, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	finalPath := filepath.Join(c.dir, fp+"."+key.Extension())
	tempFile, err := os.CreateTemp(c.dir, ".cache-write-"+uuid.NewString()+"-*")
	if err != nil {
		return "", "", 0, fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	written, copyErr := io.Copy(tempFile, resp.Body)
	closeErr := tempFile.Close()
	if copyErr != nil {
		os.Remove(tempPath)
		return "", "", 0, fmt.Errorf("write cache bytes: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return "", "", 0, fmt.Errorf("close cache file: %w", closeErr)
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return "", "", 0, fmt.Errorf("move cache file into place: %w", err)
	}

	return finalPath, key.ContentType(), uint64(written), nil
}

// PurgeAll deletes the cache directory and all in-memory state. Must not
// run concurrently with Resolve; intended for cold-startup --purge only.
func (c *Cache) PurgeAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("purge cache directory: %w", err)
	}
	return nil
}

// Dir returns the cache root directory.
func (c *Cache) Dir() string { return c.dir }

// DefaultDir returns the default cache directory under the OS temp path.
func DefaultDir() string {
	return filepath.Join(os.TempDir(), DefaultDirName)
}
