package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/acescout/acescout"
)

// APIClient talks to a running acescout daemon.
type APIClient struct {
	baseURL string
	client  *http.Client
}

func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if baseURL == "" {
		baseURL = "http://localhost:8000/api"
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *APIClient) TaskStatuses() ([]acescout.TaskRecord, error) {
	var records []acescout.TaskRecord
	if err := c.getJSON("/tasks/status", &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *APIClient) TriggerTask(name string) error {
	resp, err := c.client.Post(c.baseURL+"/tasks/"+name+"/run", "application/json", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusAccepted {
		return nil
	}
	return decodeAPIError(resp)
}

func (c *APIClient) Activity(days int, kind string, limit int) ([]acescout.ActivityEntry, error) {
	path := fmt.Sprintf("/activity?days=%d&limit=%d", days, limit)
	if kind != "" {
		path += "&kind=" + kind
	}
	var entries []acescout.ActivityEntry
	if err := c.getJSON(path, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *APIClient) getJSON(path string, dst any) error {
	resp, err := c.client.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func decodeAPIError(resp *http.Response) error {
	var errorResp struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
		return fmt.Errorf("API returned %s", resp.Status)
	}
	return fmt.Errorf("API error: %s", errorResp.Error)
}
