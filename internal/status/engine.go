// Package status verifies channel health against the acestream engine and
// keeps the latest batch aggregate for the API surface.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

// Outcome classifies one probe. Unknown covers transport-level failures and
// is distinct from a confirmed offline answer.
type Outcome string

const (
	Online  Outcome = "online"
	Offline Outcome = "offline"
	Unknown Outcome = "unknown"
)

// ProbeErrorKind tags probe failures.
type ProbeErrorKind int

const (
	ProbeTimeout ProbeErrorKind = iota
	ProbeTransport
	ProbeNotFound
)

// ProbeError is a failed health query; it never aborts a batch.
type ProbeError struct {
	Kind       ProbeErrorKind
	Identifier string
	Err        error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Identifier, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// Client queries the acestream engine HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
	pid     atomic.Int64 // rolling player id, engine wants distinct ones
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	u := strings.TrimSpace(baseURL)
	if u != "" && !strings.HasPrefix(u, "http") {
		u = "http://" + u
	}
	return &Client{
		baseURL: strings.TrimRight(u, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type getStreamResponse struct {
	Response *struct {
		IsLive int `json:"is_live"`
	} `json:"response"`
	Error string `json:"error"`
}

// CheckOnline probes one identifier. The error return is non-nil only for
// Unknown outcomes and is always a *ProbeError.
func (c *Client) CheckOnline(ctx context.Context, id string) (Outcome, error) {
	pid := c.pid.Add(1) % 100000
	q := url.Values{
		"id":     {id},
		"format": {"json"},
		"method": {"get_status"},
		"pid":    {fmt.Sprintf("%d", pid)},
	}
	reqURL := c.baseURL + "/ace/getstream?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Unknown, &ProbeError{Kind: ProbeTransport, Identifier: id, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		kind := ProbeTransport
		if isTimeout(err) {
			kind = ProbeTimeout
		}
		return Unknown, &ProbeError{Kind: kind, Identifier: id, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return Unknown, &ProbeError{Kind: ProbeNotFound, Identifier: id, Err: fmt.Errorf("engine returned %s", resp.Status)}
	}
	if resp.StatusCode != http.StatusOK {
		return Unknown, &ProbeError{Kind: ProbeTransport, Identifier: id, Err: fmt.Errorf("engine returned %s", resp.Status)}
	}

	var body getStreamResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Unknown, &ProbeError{Kind: ProbeTransport, Identifier: id, Err: fmt.Errorf("invalid engine response: %w", err)}
	}

	// "got newer download" means the stream exists and the engine is already
	// on it, so it counts as online.
	if body.Error != "" && strings.Contains(strings.ToLower(body.Error), "got newer download") {
		return Online, nil
	}
	if body.Error == "" && body.Response != nil && body.Response.IsLive == 1 {
		return Online, nil
	}
	return Offline, nil
}

// EngineStatus is the engine availability snapshot for the API surface.
type EngineStatus struct {
	Available bool   `json:"available"`
	URL       string `json:"engine_url"`
	Version   string `json:"version,omitempty"`
	Platform  string `json:"platform,omitempty"`
	Message   string `json:"message"`
}

type serverAPIResponse struct {
	Result *struct {
		Version struct {
			Version  string `json:"version"`
			Platform string `json:"platform"`
		} `json:"version"`
	} `json:"result"`
}

// Status probes the engine service API for version/availability.
func (c *Client) Status(ctx context.Context) EngineStatus {
	st := EngineStatus{URL: c.baseURL}
	reqURL := c.baseURL + "/server/api?api_version=3&method=get_status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		st.Message = fmt.Sprintf("could not build engine request: %v", err)
		return st
	}
	resp, err := c.http.Do(req)
	if err != nil {
		st.Message = fmt.Sprintf("could not connect to engine: %v", err)
		return st
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		st.Message = fmt.Sprintf("engine is not responding properly, status API returned %d", resp.StatusCode)
		return st
	}
	var body serverAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Result == nil {
		st.Message = "engine returned an invalid status payload"
		return st
	}
	st.Available = true
	st.Version = body.Result.Version.Version
	st.Platform = body.Result.Version.Platform
	st.Message = fmt.Sprintf("engine v%s is online", st.Version)
	return st
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
