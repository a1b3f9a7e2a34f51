package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ragline/ragline/internal/jobs"
	"github.com/ragline/ragline/internal/log"
	"github.com/ragline/ragline/internal/vectorstore"
)

const (
	fetchTimeout = 30 * time.Second
	maxBodySize  = 10 << 20

	userAgent = "ragline/1.0 (+https://github.com/ragline/ragline)"
)

// WebReader fetches a fixed set of pages and turns each into a document.
// Network errors, 429s, and 5xx responses are retried with exponential
// backoff until the attempt budget runs out.
type WebReader struct {
	urls   []string
	client *http.Client
	logger log.Logger

	newBackoff func() backoff.BackOff
}

// NewWebReader validates urls. Every url must be absolute http or https.
func NewWebReader(urls []string, logger log.Logger) (*WebReader, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("at least one url is required")
	}
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid url %q: %w", raw, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("unsupported scheme in %q", raw)
		}
	}
	if logger == nil {
		logger = log.NewNop()
	}

	return &WebReader{
		urls:       slices.Clone(urls),
		client:     &http.Client{Timeout: fetchTimeout},
		logger:     logger,
		newBackoff: newFetchBackoff,
	}, nil
}

func newFetchBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// Name identifies the source in pipeline stats and logs.
func (r *WebReader) Name() string { return "web" }

// Read fetches every configured URL concurrently. Unlike directory
// reads, a failed URL fails the whole read: the list was given
// explicitly, so a miss is worth surfacing.
func (r *WebReader) Read(ctx context.Context) ([]vectorstore.Document, error) {
	fetch := make([]jobs.Job[vectorstore.Document], len(r.urls))
	for i, pageURL := range r.urls {
		fetch[i] = func(ctx context.Context) (vectorstore.Document, error) {
			return r.fetch(ctx, pageURL)
		}
	}

	docs, err := jobs.Run(ctx, fetch, jobs.WithWorkers(readWorkers))
	if err != nil {
		return nil, fmt.Errorf("fetching pages: %w", err)
	}
	return docs, nil
}

// fetch retries transient failures until the backoff gives up, keeping
// the most recent real error rather than a cancellation.
func (r *WebReader) fetch(ctx context.Context, pageURL string) (vectorstore.Document, error) {
	var lastErr error
	retry := r.newBackoff()
	for {
		doc, retryable, err := r.fetchOnce(ctx, pageURL)
		if err == nil {
			return doc, nil
		}
		if !retryable {
			return vectorstore.Document{}, err
		}
		if lastErr == nil || (!errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)) {
			lastErr = err
		}

		delay := retry.NextBackOff()
		if delay == backoff.Stop {
			return vectorstore.Document{}, lastErr
		}
		r.logger.Debug("retrying fetch", "url", pageURL, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return vectorstore.Document{}, lastErr
		case <-time.After(delay):
		}
	}
}

// fetchOnce performs one request. retryable marks failures worth another
// attempt: transport errors, 429s, and server errors.
func (r *WebReader) fetchOnce(ctx context.Context, pageURL string) (doc vectorstore.Document, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return vectorstore.Document{}, false, fmt.Errorf("building request for %q: %w", pageURL, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := r.client.Do(req)
	if err != nil {
		return vectorstore.Document{}, true, fmt.Errorf("fetching %q: %w", pageURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return vectorstore.Document{}, true, fmt.Errorf("fetching %q: status %d", pageURL, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return vectorstore.Document{}, false, fmt.Errorf("fetching %q: status %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return vectorstore.Document{}, true, fmt.Errorf("reading %q: %w", pageURL, err)
	}

	doc, err = r.parse(pageURL, body)
	if err != nil {
		return vectorstore.Document{}, false, err
	}
	return doc, false, nil
}

func (r *WebReader) parse(pageURL string, body []byte) (vectorstore.Document, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return vectorstore.Document{}, fmt.Errorf("parsing url %q: %w", pageURL, err)
	}

	title, text, err := extractHTML(string(body), parsed)
	if err != nil {
		return vectorstore.Document{}, fmt.Errorf("extracting %q: %w", pageURL, err)
	}
	if strings.TrimSpace(text) == "" {
		return vectorstore.Document{}, fmt.Errorf("no text content at %q", pageURL)
	}

	meta := map[string]string{"source_type": "web"}
	if title != "" {
		meta["title"] = title
	}
	return vectorstore.Document{
		ID:       pageURL,
		Content:  text,
		Source:   pageURL,
		Metadata: meta,
	}, nil
}
