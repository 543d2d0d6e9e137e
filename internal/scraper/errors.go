package scraper

import (
	"errors"
	"fmt"
	"net/http"
)

// FetchErrorKind splits fetch failures into retryable and terminal.
type FetchErrorKind int

const (
	// FetchTransient covers timeouts, connection resets and 5xx responses;
	// retried in-process with backoff.
	FetchTransient FetchErrorKind = iota
	// FetchPermanent covers 4xx responses and malformed locations; recorded
	// on the source immediately, never retried.
	FetchPermanent
)

func (k FetchErrorKind) String() string {
	if k == FetchPermanent {
		return "permanent"
	}
	return "transient"
}

// FetchError tags a failed fetch with its retry class.
type FetchError struct {
	Kind FetchErrorKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a FetchError tagged transient.
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == FetchTransient
}

func transientErr(rawURL string, err error) *FetchError {
	return &FetchError{Kind: FetchTransient, URL: rawURL, Err: err}
}

func permanentErr(rawURL string, err error) *FetchError {
	return &FetchError{Kind: FetchPermanent, URL: rawURL, Err: err}
}

// classifyFetch maps a transport error or HTTP status onto the taxonomy.
// Transport-level failures (timeouts, resets, DNS blips) are all treated as
// transient; the location itself is validated before any request is made.
func classifyFetch(rawURL string, resp *http.Response, err error) *FetchError {
	if err != nil {
		return transientErr(rawURL, err)
	}
	switch {
	case resp.StatusCode >= 500:
		return transientErr(rawURL, fmt.Errorf("server returned %s", resp.Status))
	case resp.StatusCode >= 400:
		return permanentErr(rawURL, fmt.Errorf("server returned %s", resp.Status))
	}
	return nil
}
