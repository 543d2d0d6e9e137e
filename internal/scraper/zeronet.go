package scraper

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"

	"github.com/acescout/acescout/internal/extractor"
	"github.com/acescout/acescout/internal/store"
)

var errMalformedLocation = errors.New("malformed source location")

var iframeSrcRe = regexp.MustCompile(`iframe_src\s*=\s*"([^"]+)"`)

// Zeronet scrapes sources published on the overlay network through the local
// gateway. Site pages there are often loader shells that point at the real
// content via an iframe_src script variable; one extra hop resolves those.
type Zeronet struct {
	client  *http.Client
	ext     *extractor.Extractor
	gateway string
	retries int
	log     *slog.Logger
}

func NewZeronet(ext *extractor.Extractor, opts Options) *Zeronet {
	// gateway sessions require cookies to survive the wrapper redirect
	jar, _ := cookiejar.New(nil)
	return &Zeronet{
		client:  &http.Client{Timeout: opts.Timeout, Jar: jar},
		ext:     ext,
		gateway: strings.TrimRight(opts.Gateway, "/"),
		retries: opts.Retries,
		log:     slog.Default().With("scraper", "zeronet"),
	}
}

func (z *Zeronet) Process(ctx context.Context, src store.Source) ([]extractor.Identifier, error) {
	loc, err := z.resolve(src.Location)
	if err != nil {
		return nil, permanentErr(src.Location, err)
	}

	body, err := fetchWithRetry(ctx, z.client, loc, z.retries)
	if err != nil {
		return nil, err
	}

	// loader shell: follow the embedded frame once
	if !hasStreamMarkers(body) {
		if m := iframeSrcRe.FindStringSubmatch(body); m != nil {
			frameURL := m[1]
			if strings.HasPrefix(frameURL, "/") {
				frameURL = z.gateway + frameURL
			}
			if frameBody, ferr := fetchWithRetry(ctx, z.client, frameURL, z.retries); ferr == nil {
				z.log.Debug("followed iframe hop", "frame", frameURL)
				body = frameBody
			} else {
				z.log.Warn("iframe fetch failed, extracting from shell", "frame", frameURL, "error", ferr)
			}
		}
	}

	hint := extractor.DetectFormat(body)
	if isPlaylistURL(loc) {
		hint = extractor.FormatPlaylist
	}
	ids := z.ext.Extract(body, hint, src.Location)
	z.log.Debug("source processed", "location", src.Location, "identifiers", len(ids))
	return ids, nil
}

// resolve rewrites an overlay location onto the local gateway. Accepted
// forms: "zero://<site>/<path>", a bare "<site>/<path>" site address, or an
// http URL already pointing at a gateway (its path is kept, host replaced).
func (z *Zeronet) resolve(location string) (string, error) {
	loc := strings.TrimSpace(location)
	if loc == "" || z.gateway == "" {
		return "", errMalformedLocation
	}
	if strings.HasPrefix(loc, "zero://") {
		return z.gateway + "/" + strings.TrimPrefix(loc, "zero://"), nil
	}
	if strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://") {
		u, err := url.Parse(loc)
		if err != nil || u.Path == "" || u.Path == "/" {
			return "", errMalformedLocation
		}
		return z.gateway + u.Path, nil
	}
	// bare site address
	return z.gateway + "/" + loc, nil
}

func hasStreamMarkers(body string) bool {
	return strings.Contains(body, "acestream://") ||
		strings.Contains(body, "#EXTINF") ||
		strings.Contains(body, "channel-item") ||
		strings.Contains(body, "const linksData")
}
