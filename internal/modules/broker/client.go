// Package broker implements the BrokerAdapter boundary: a uniform
// place/cancel/status interface in front of vendor-specific REST APIs, a
// rate-limited outbound HTTP worker shared by every vendor, and the
// classification of vendor failures into the normalized error taxonomy
// (session/rate-limit/temporary/permanent) the rest of the ledger reacts
// to. Adapters never write to the ledger themselves.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/orderledger/internal/domain"
)

const (
	requestQueueSize = 64
	requestTimeout   = 10 * time.Second
	maxAttempts      = 3
	retryMinDelay    = 300 * time.Millisecond
	retryMaxDelay    = 600 * time.Millisecond
)

type requestJob struct {
	ctx      context.Context
	req      *http.Request
	resultCh chan requestResult
}

type requestResult struct {
	status int
	body   []byte
	err    error
}

// Client is a rate-limited HTTP transport shared across vendor adapters: a
// single worker goroutine drains a bounded request queue so no vendor gets
// hammered by concurrent order placements.
type Client struct {
	http         *http.Client
	requestQueue chan requestJob
	stopChan     chan struct{}
	workerDone   chan struct{}
	log          zerolog.Logger
}

// NewClient starts the background worker and returns a ready-to-use Client.
func NewClient(log zerolog.Logger) *Client {
	c := &Client{
		http:         &http.Client{Timeout: requestTimeout},
		requestQueue: make(chan requestJob, requestQueueSize),
		stopChan:     make(chan struct{}),
		workerDone:   make(chan struct{}),
		log:          log.With().Str("component", "broker_client").Logger(),
	}
	go c.worker()
	return c
}

// Close stops the worker goroutine, waiting for any in-flight request to
// finish.
func (c *Client) Close() {
	close(c.stopChan)
	<-c.workerDone
}

func (c *Client) worker() {
	defer close(c.workerDone)
	for {
		select {
		case <-c.stopChan:
			return
		case job := <-c.requestQueue:
			resp, err := c.http.Do(job.req)
			if err != nil {
				job.resultCh <- requestResult{err: err}
				continue
			}
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				job.resultCh <- requestResult{err: readErr}
				continue
			}
			job.resultCh <- requestResult{status: resp.StatusCode, body: body}
		}
	}
}

// Do submits req to the shared worker and blocks for its response or ctx
// cancellation, whichever comes first.
func (c *Client) Do(ctx context.Context, req *http.Request) (int, []byte, error) {
	resultCh := make(chan requestResult, 1)
	select {
	case c.requestQueue <- requestJob{ctx: ctx, req: req.WithContext(ctx), resultCh: resultCh}:
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}

	select {
	case res := <-resultCh:
		return res.status, res.body, res.err
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

// DoWithRetry issues req through Do, retrying up to maxAttempts times with
// 300-600ms jitter when classify reports a temporary failure. Session and
// permanent failures are returned immediately without retry.
func (c *Client) DoWithRetry(ctx context.Context, newReq func() (*http.Request, error)) (int, []byte, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := newReq()
		if err != nil {
			return 0, nil, err
		}
		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		status, body, err := c.Do(reqCtx, req)
		cancel()

		if err == nil {
			if kind := classifyStatus(status); kind != domain.KindTemporaryError {
				return status, body, nil
			}
			lastErr = fmt.Errorf("broker returned status %d", status)
		} else {
			lastErr = err
		}

		if attempt == maxAttempts {
			break
		}
		jitter := retryMinDelay + time.Duration(rand.Int63n(int64(retryMaxDelay-retryMinDelay)))
		select {
		case <-time.After(jitter):
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		}
	}
	return 0, nil, domain.TemporaryError(lastErr)
}

// classifyStatus maps an HTTP status code to a normalized error Kind.
// Anything not explicitly called out here is treated as permanent, which
// matches the conservative default: unknown 4xx-shaped failures should not
// be retried blindly.
func classifyStatus(status int) domain.Kind {
	switch {
	case status >= 200 && status < 300:
		return ""
	case status == 401 || status == 403:
		return domain.KindSessionError
	case status == 429:
		return domain.KindRateLimit
	case status >= 500:
		return domain.KindTemporaryError
	default:
		return domain.KindPermanentError
	}
}

// ClassifyError converts a completed HTTP round trip (status + optional
// transport error) into a *domain.Error of the right Kind.
func ClassifyError(status int, body []byte, transportErr error) error {
	if transportErr != nil {
		return domain.TemporaryError(transportErr)
	}
	switch classifyStatus(status) {
	case "":
		return nil
	case domain.KindSessionError:
		return domain.SessionError(fmt.Errorf("status %d: %s", status, truncate(body)))
	case domain.KindRateLimit:
		return domain.RateLimit(fmt.Errorf("status %d", status))
	case domain.KindTemporaryError:
		return domain.TemporaryError(fmt.Errorf("status %d: %s", status, truncate(body)))
	default:
		return domain.PermanentError(fmt.Errorf("status %d: %s", status, truncate(body)))
	}
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

func decodeJSON(body []byte, v interface{}) error {
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}
