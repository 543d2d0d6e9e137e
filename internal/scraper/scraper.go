// Package scraper fetches raw content for configured sources and delegates
// identifier extraction. Two variants exist: Direct (plain HTTP) and Zeronet
// (fetch through the local overlay gateway). Variant selection happens in
// the Factory, keyed on the source kind; nothing else inspects kinds.
package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/acescout/acescout/internal/extractor"
	"github.com/acescout/acescout/internal/store"
)

// Scraper processes one source into extracted identifiers.
type Scraper interface {
	Process(ctx context.Context, src store.Source) ([]extractor.Identifier, error)
}

// Options configure fetch behavior shared by the variants.
type Options struct {
	Timeout time.Duration // per-request timeout
	Retries int           // total attempts for transient failures (default 3)
	Gateway string        // zeronet gateway base URL (zeronet variant only)
}

// Factory hands out the scraper variant for a source kind.
type Factory struct {
	direct  *Direct
	zeronet *Zeronet
}

func NewFactory(ext *extractor.Extractor, direct Options, zeronet Options) *Factory {
	return &Factory{
		direct:  NewDirect(ext, direct),
		zeronet: NewZeronet(ext, zeronet),
	}
}

// For returns the variant registered for kind.
func (f *Factory) For(kind store.SourceKind) (Scraper, error) {
	switch kind {
	case store.SourceDirect:
		return f.direct, nil
	case store.SourceZeronet:
		return f.zeronet, nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", kind)
	}
}

const maxBodyBytes = 16 << 20 // generous cap; playlists and pages are small

var baseHeaders = map[string]string{
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Accept-Language": "en-US,en;q=0.9",
}

// fetchOnce performs a single GET and returns the body or a classified
// FetchError.
func fetchOnce(ctx context.Context, client *http.Client, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", permanentErr(rawURL, err)
	}
	for k, v := range baseHeaders {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if fe := classifyFetch(rawURL, resp, err); fe != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return "", fe
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", transientErr(rawURL, err)
	}
	return string(body), nil
}

// fetchWithRetry retries transient failures with bounded exponential
// backoff; permanent failures escape immediately.
func fetchWithRetry(ctx context.Context, client *http.Client, rawURL string, retries int) (string, error) {
	if retries <= 0 {
		retries = 3
	}
	var body string
	op := func() error {
		var err error
		body, err = fetchOnce(ctx, client, rawURL)
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(retries-1)), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return "", err
	}
	return body, nil
}
