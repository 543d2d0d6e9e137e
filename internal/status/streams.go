package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// StreamsSummary is the live stream count served on the API.
type StreamsSummary struct {
	Count  int    `json:"count"`
	Source string `json:"source"`
	Error  string `json:"error,omitempty"`
}

// StreamsClient reports the number of active engine streams. When a proxy
// (acexy) URL is configured it is consulted first, the engine second.
type StreamsClient struct {
	engineURL string
	proxyURL  string
	http      *http.Client
}

func NewStreamsClient(engineURL, proxyURL string, timeout time.Duration) *StreamsClient {
	return &StreamsClient{
		engineURL: strings.TrimRight(engineURL, "/"),
		proxyURL:  strings.TrimRight(proxyURL, "/"),
		http:      &http.Client{Timeout: timeout},
	}
}

type acexyStatus struct {
	Streams int `json:"streams"`
}

type engineStatResponse struct {
	Result []struct {
		Status string `json:"status"`
	} `json:"result"`
}

// Fetch returns the current active stream count with a tag naming which
// backend answered.
func (s *StreamsClient) Fetch(ctx context.Context) StreamsSummary {
	if s.proxyURL != "" {
		if sum, err := s.fetchProxy(ctx); err == nil {
			return sum
		}
	}
	sum, err := s.fetchEngine(ctx)
	if err != nil {
		return StreamsSummary{Source: "none", Error: err.Error()}
	}
	return sum
}

func (s *StreamsClient) fetchProxy(ctx context.Context) (StreamsSummary, error) {
	var body acexyStatus
	if err := s.getJSON(ctx, s.proxyURL+"/ace/status", &body); err != nil {
		return StreamsSummary{}, err
	}
	return StreamsSummary{Count: body.Streams, Source: "acexy"}, nil
}

func (s *StreamsClient) fetchEngine(ctx context.Context) (StreamsSummary, error) {
	var body engineStatResponse
	if err := s.getJSON(ctx, s.engineURL+"/server/api?api_version=3&method=get_streams", &body); err != nil {
		return StreamsSummary{}, err
	}
	count := 0
	for _, st := range body.Result {
		if st.Status != "" && st.Status != "stopped" {
			count++
		}
	}
	return StreamsSummary{Count: count, Source: "engine"}, nil
}

func (s *StreamsClient) getJSON(ctx context.Context, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
