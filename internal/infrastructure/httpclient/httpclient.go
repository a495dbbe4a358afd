// Package httpclient implements devicecore's repository.HTTPDoer, the
// outbound transport C7 issues cloud requests through. It wraps
// net/http.Client the way the teacher's SDK clients do, adding bounded
// exponential backoff for transient transport failures so a flaky link
// doesn't immediately surface as a registration/refresh error.
package httpclient

import (
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/edgeweave/devicecore/pkg/logger"
)

// Client retries idempotent-looking failures (network errors and 5xx
// responses) with bounded exponential backoff before handing the result
// back to the caller.
type Client struct {
	http       *http.Client
	log        logger.Logger
	maxRetries uint64
}

// Config tunes the underlying http.Client and retry policy.
type Config struct {
	Timeout    time.Duration
	MaxRetries uint64
}

// New builds the production HTTPDoer.
func New(cfg Config, log logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	retries := cfg.MaxRetries
	if retries == 0 {
		retries = 3
	}
	return &Client{
		http:       &http.Client{Timeout: timeout},
		log:        log,
		maxRetries: retries,
	}
}

// Do issues req, retrying transport errors and 5xx responses up to
// maxRetries times with exponential backoff. A request with a non-nil
// Body is not retried, since the body reader has already been drained
// and net/http gives no portable way to rewind it.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		return c.http.Do(req)
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries)

	var resp *http.Response
	operation := func() error {
		r, err := c.http.Do(req)
		if err != nil {
			return err
		}
		if r.StatusCode >= 500 {
			r.Body.Close()
			return errServerStatus{code: r.StatusCode}
		}
		resp = r
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		c.log.Warn("http request exhausted retries", logger.String("url", req.URL.String()))
		return nil, err
	}
	return resp, nil
}

type errServerStatus struct{ code int }

func (e errServerStatus) Error() string {
	return http.StatusText(e.code)
}
