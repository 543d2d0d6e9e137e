package scraper

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/acescout/acescout/internal/extractor"
	"github.com/acescout/acescout/internal/store"
)

// Direct scrapes plain HTTP(S) sources. Redirects are followed, the body is
// format-detected (playlist vs page) and handed to the extractor.
type Direct struct {
	client  *http.Client
	ext     *extractor.Extractor
	retries int
	log     *slog.Logger
}

func NewDirect(ext *extractor.Extractor, opts Options) *Direct {
	return &Direct{
		client:  &http.Client{Timeout: opts.Timeout},
		ext:     ext,
		retries: opts.Retries,
		log:     slog.Default().With("scraper", "direct"),
	}
}

func (d *Direct) Process(ctx context.Context, src store.Source) ([]extractor.Identifier, error) {
	loc := strings.TrimSpace(src.Location)
	u, err := url.Parse(loc)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, permanentErr(loc, errMalformedLocation)
	}

	body, err := fetchWithRetry(ctx, d.client, loc, d.retries)
	if err != nil {
		return nil, err
	}

	hint := extractor.DetectFormat(body)
	if isPlaylistURL(u.Path) {
		hint = extractor.FormatPlaylist
	}
	ids := d.ext.Extract(body, hint, loc)
	d.log.Debug("source processed", "location", loc, "identifiers", len(ids))
	return ids, nil
}

func isPlaylistURL(path string) bool {
	p := strings.ToLower(path)
	return strings.HasSuffix(p, ".m3u") || strings.HasSuffix(p, ".m3u8")
}
