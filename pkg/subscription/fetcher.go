// Package subscription keeps calendar feeds imported on a schedule.
//
// A feed is either an http(s)/webcal URL or a local file. Remote feeds are fetched with
// conditional requests (ETag / Last-Modified) so an unchanged feed is neither downloaded
// nor imported again; local files are compared by modification time.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/klokku/icalmanager/internal/utils"
	log "github.com/sirupsen/logrus"
)

const fetchTimeout = 15 * time.Second

var maxFeedSize int64 = 10 << 20

var (
	ErrEmptyURL     = errors.New("feed url is empty")
	ErrFeedTooLarge = errors.New("feed too large")
)

// Source is a single feed to import.
type Source struct {
	Id  string
	Url string
}

// Result is the outcome of fetching one feed. Body is empty when NotModified is set.
type Result struct {
	Body        string
	NotModified bool

	location   string
	validators cacheEntry
}

// Fetcher downloads feeds. Validators of a fetched version are only used for later
// conditional requests once the caller commits the result.
type Fetcher interface {
	Fetch(ctx context.Context, src Source) (Result, error)
	Commit(result Result)
}

type cacheEntry struct {
	etag         string
	lastModified string
	modTime      time.Time
	fetchedAt    time.Time
}

// FetcherImpl remembers validators per feed URL in memory.
type FetcherImpl struct {
	client *http.Client
	clock  utils.Clock

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func NewFetcher(client *http.Client, clock utils.Clock) *FetcherImpl {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	if clock == nil {
		clock = utils.SystemClock{}
	}
	return &FetcherImpl{
		client: client,
		clock:  clock,
		cache:  make(map[string]cacheEntry),
	}
}

func (f *FetcherImpl) Fetch(ctx context.Context, src Source) (Result, error) {
	location := strings.TrimSpace(src.Url)
	if location == "" {
		return Result{}, ErrEmptyURL
	}

	u, err := url.Parse(location)
	if err != nil {
		return Result{}, fmt.Errorf("invalid feed url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return f.fetchRemote(ctx, src.Id, location)
	case "webcal":
		u.Scheme = "https"
		return f.fetchRemote(ctx, src.Id, u.String())
	case "file":
		return f.readFile(src.Id, location, u.Path)
	case "":
		return f.readFile(src.Id, location, location)
	default:
		return Result{}, fmt.Errorf("unsupported feed scheme %q", u.Scheme)
	}
}

func (f *FetcherImpl) fetchRemote(ctx context.Context, id, location string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return Result{}, err
	}

	cached, hasCache := f.lookup(location)
	if hasCache {
		if cached.etag != "" {
			req.Header.Set("If-None-Match", cached.etag)
		}
		if cached.lastModified != "" {
			req.Header.Set("If-Modified-Since", cached.lastModified)
		}
	}

	log.Debugf("fetching feed %s from %s", id, redactURL(location))
	resp, err := f.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch feed %s: %w", id, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize+1))
		if err != nil {
			return Result{}, fmt.Errorf("read feed %s: %w", id, err)
		}
		if int64(len(body)) > maxFeedSize {
			return Result{}, fmt.Errorf("feed %s: %w: over %d bytes", id, ErrFeedTooLarge, maxFeedSize)
		}
		return Result{
			Body:     string(body),
			location: location,
			validators: cacheEntry{
				etag:         resp.Header.Get("ETag"),
				lastModified: resp.Header.Get("Last-Modified"),
				fetchedAt:    f.clock.Now(),
			},
		}, nil
	case http.StatusNotModified:
		if !hasCache {
			return Result{}, fmt.Errorf("feed %s: unexpected 304 without a previous fetch", id)
		}
		log.Debugf("feed %s not modified since %s", id, cached.fetchedAt.Format(time.RFC3339))
		return Result{NotModified: true}, nil
	default:
		return Result{}, fmt.Errorf("feed %s: unexpected status %s", id, resp.Status)
	}
}

func (f *FetcherImpl) readFile(id, location, path string) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("feed %s: %w", id, err)
	}
	if cached, ok := f.lookup(location); ok && cached.modTime.Equal(info.ModTime()) {
		log.Debugf("feed %s not modified since %s", id, cached.fetchedAt.Format(time.RFC3339))
		return Result{NotModified: true}, nil
	}
	if info.Size() > maxFeedSize {
		return Result{}, fmt.Errorf("feed %s: %w: over %d bytes", id, ErrFeedTooLarge, maxFeedSize)
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("feed %s: %w", id, err)
	}
	return Result{
		Body:       string(body),
		location:   location,
		validators: cacheEntry{modTime: info.ModTime(), fetchedAt: f.clock.Now()},
	}, nil
}

// Commit remembers the validators of a fetched version so the next fetch of the same
// feed can skip it. Results without a body are ignored.
func (f *FetcherImpl) Commit(result Result) {
	if result.NotModified || result.location == "" {
		return
	}
	f.store(result.location, result.validators)
}

func (f *FetcherImpl) lookup(location string) (cacheEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.cache[location]
	return entry, ok
}

func (f *FetcherImpl) store(location string, entry cacheEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache[location] = entry
}

// redactURL keeps scheme and host only; feed URLs often embed private tokens.
func redactURL(location string) string {
	u, err := url.Parse(location)
	if err != nil || u.Host == "" {
		return "feed/...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
