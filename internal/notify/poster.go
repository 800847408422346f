package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

const errorBodyLimit = 1024

type timingConfig struct {
	timeout           time.Duration
	rateInterval      time.Duration
	rateBurst         int
	backoffInitial    time.Duration
	backoffMax        time.Duration
	backoffMaxElapsed time.Duration
}

var defaultTiming = timingConfig{
	timeout:           10 * time.Second,
	rateInterval:      time.Second,
	rateBurst:         1,
	backoffInitial:    time.Second,
	backoffMax:        10 * time.Second,
	backoffMaxElapsed: 30 * time.Second,
}

// poster delivers payloads to a single endpoint, rate limited per connector.
type poster struct {
	service     string
	url         string
	contentType string
	client      *retryablehttp.Client
	timing      timingConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newPoster(service, url, contentType string, timing timingConfig) *poster {
	client := retryablehttp.NewClient()
	// postWithRetry owns retries.
	client.RetryMax = 0
	client.CheckRetry = func(context.Context, *http.Response, error) (bool, error) {
		return false, nil
	}
	client.Logger = nil
	client.HTTPClient = &http.Client{Timeout: timing.timeout}

	return &poster{
		service:     service,
		url:         url,
		contentType: contentType,
		client:      client,
		timing:      timing,
		limiters:    make(map[string]*rate.Limiter),
	}
}

// deliver waits for the connector's rate limit slot, then posts every payload in order.
func (p *poster) deliver(ctx context.Context, connector string, payloads ...[]byte) error {
	if err := p.limiter(connector).Wait(ctx); err != nil {
		return err
	}
	for _, payload := range payloads {
		if err := p.postWithRetry(ctx, payload); err != nil {
			return err
		}
	}
	return nil
}

func (p *poster) limiter(connector string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.limiters[connector]
	if !ok {
		l = rate.NewLimiter(rate.Every(p.timing.rateInterval), p.timing.rateBurst)
		p.limiters[connector] = l
	}
	return l
}

func (p *poster) postWithRetry(ctx context.Context, payload []byte) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.timing.backoffInitial
	b.MaxInterval = p.timing.backoffMax
	b.MaxElapsedTime = p.timing.backoffMaxElapsed
	b.Reset()

	for {
		err := p.postOnce(ctx, payload)
		if err == nil {
			return nil
		}
		var de *deliveryError
		if !errors.As(err, &de) || !de.retryable {
			return err
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return err
		}
		if de.retryAfter > 0 {
			wait = de.retryAfter
		}
		if !sleepWithContext(ctx, wait) {
			return ctx.Err()
		}
	}
}

func (p *poster) postOnce(ctx context.Context, payload []byte) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.timing.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", p.service, err)
	}
	req.Header.Set("Content-Type", p.contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return &deliveryError{retryable: true, err: fmt.Errorf("%s request failed: %w", p.service, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		wait, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return &deliveryError{retryable: true, retryAfter: wait, err: fmt.Errorf("%s rate limited: %s", p.service, resp.Status)}
	case resp.StatusCode >= http.StatusInternalServerError:
		return &deliveryError{retryable: true, err: fmt.Errorf("%s server error: %s", p.service, resp.Status)}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return fmt.Errorf("%s request failed: %s (%s)", p.service, resp.Status, text)
	}
	return fmt.Errorf("%s request failed: %s", p.service, resp.Status)
}

// deliveryError marks a failed post that may be attempted again.
type deliveryError struct {
	retryable  bool
	retryAfter time.Duration
	err        error
}

func (e *deliveryError) Error() string {
	if e.retryAfter > 0 {
		return fmt.Sprintf("%v; retry after %s", e.err, e.retryAfter)
	}
	return e.err.Error()
}

func (e *deliveryError) Unwrap() error {
	return e.err
}

func parseRetryAfter(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		if wait := time.Until(when); wait > 0 {
			return wait, true
		}
	}
	return 0, false
}

func sleepWithContext(ctx context.Context, wait time.Duration) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
