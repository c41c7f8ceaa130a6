// Package feed downloads the conference schedule and turns it into import
// records for the store.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	appLog "confsched/internal/log"
)

// ErrNotModified is returned by Fetch when the server reports that the
// schedule did not change since the given tag.
var ErrNotModified = errors.New("schedule not modified")

// Response is a freshly downloaded schedule. The caller must close Body.
type Response struct {
	Body io.ReadCloser
	// Tag identifies this version of the schedule. Passing it to the next
	// Fetch makes the request conditional.
	Tag string
}

// Fetcher downloads the schedule with conditional requests.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a Fetcher. A nil client gets a default one with a
// timeout.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Fetcher{client: client}
}

// Fetch downloads url. lastTag is the Tag of the previous successful
// download, or empty. Tags that look like entity tags are sent as
// If-None-Match, anything else as If-Modified-Since.
func (f *Fetcher) Fetch(ctx context.Context, url, lastTag string) (*Response, error) {
	if url == "" {
		return nil, errors.New("feed URL is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	switch {
	case isETag(lastTag):
		req.Header.Set("If-None-Match", lastTag)
	case lastTag != "":
		req.Header.Set("If-Modified-Since", lastTag)
	}

	appLog.Info("schedule fetch start", "url", redactURL(url))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch schedule: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		tag := resp.Header.Get("ETag")
		if tag == "" {
			tag = resp.Header.Get("Last-Modified")
		}
		appLog.Info("schedule fetch success", "url", redactURL(url), "status", resp.StatusCode)
		return &Response{Body: resp.Body, Tag: tag}, nil

	case http.StatusNotModified:
		resp.Body.Close()
		appLog.Info("schedule not modified", "url", redactURL(url))
		return nil, ErrNotModified

	default:
		resp.Body.Close()
		return nil, fmt.Errorf("fetch schedule: %s", resp.Status)
	}
}

func isETag(tag string) bool {
	return strings.HasPrefix(tag, `"`) || strings.HasPrefix(tag, `W/"`)
}

// redactURL hides paths and query strings of a feed URL for logging
// purposes.
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	scheme, rest, ok := strings.Cut(u, "://")
	if !ok {
		return "feed://...(redacted)"
	}
	host, _, _ := strings.Cut(rest, "/")
	return scheme + "://" + host + redactedSuffix
}
