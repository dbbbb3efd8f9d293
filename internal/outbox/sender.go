package outbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"estate_portal_backend/platform/clock"
	"estate_portal_backend/platform/config"
	"estate_portal_backend/platform/logger"
	"estate_portal_backend/platform/signing"

	"github.com/sony/gobreaker"
)

// HeaderEventType carries the outbox event type on deliveries.
const HeaderEventType = "X-Event-Type"

var (
	// ErrBreakerOpen means the target's circuit breaker rejected the call.
	ErrBreakerOpen = errors.New("target circuit breaker open")
	// ErrUnknownTarget means no URL is configured for the row's target.
	ErrUnknownTarget = errors.New("unknown delivery target")
)

// StatusError is a delivery that reached the target but was not accepted.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook failed with status %d: %s", e.StatusCode, e.Body)
}

// Sender delivers one record. A nil error means the target accepted it.
type Sender interface {
	Send(ctx context.Context, rec Record) (statusCode int, err error)
}

// HTTPSender posts signed payloads through a circuit breaker per target.
type HTTPSender struct {
	targets        map[string]string
	secret         string
	client         *http.Client
	clock          clock.Clock
	log            *logger.Logger
	breakerTimeout time.Duration

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewHTTPSender builds a sender from outbox configuration.
func NewHTTPSender(cfg config.OutboxConfig, clk clock.Clock, log *logger.Logger) *HTTPSender {
	targets := make(map[string]string)
	for _, t := range cfg.GetOutboxTargets() {
		targets[t.Name] = t.URL
	}
	timeout := cfg.GetOutboxHTTPTimeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &HTTPSender{
		targets:        targets,
		secret:         cfg.GetWebhookSigningSecret(),
		client:         &http.Client{Timeout: timeout},
		clock:          clk,
		log:            log,
		breakerTimeout: time.Minute,
		breakers:       make(map[string]*gobreaker.CircuitBreaker),
	}
}

// BreakerTimeout is how long an open breaker stays open before probing.
func (s *HTTPSender) BreakerTimeout() time.Duration {
	return s.breakerTimeout
}

func (s *HTTPSender) breaker(target string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, ok := s.breakers[target]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "outbox-" + target,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     s.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			s.log.Warn("outbox circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	s.breakers[target] = cb
	return cb
}

// Send posts rec to its target. Only 200, 201 and 202 count as delivered.
func (s *HTTPSender) Send(ctx context.Context, rec Record) (int, error) {
	url, ok := s.targets[rec.Target]
	if !ok || url == "" {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTarget, rec.Target)
	}

	body, err := signing.CanonicalJSON(rec.Payload)
	if err != nil {
		return 0, fmt.Errorf("canonicalize payload: %w", err)
	}

	var statusCode int
	var respBody string
	_, err = s.breaker(rec.Target).Execute(func() (interface{}, error) {
		code, text, postErr := s.post(ctx, url, rec, body)
		statusCode, respBody = code, text
		if postErr != nil {
			return nil, postErr
		}
		if code >= http.StatusInternalServerError || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
			return nil, &StatusError{StatusCode: code, Body: text}
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return 0, ErrBreakerOpen
	}
	if err != nil {
		return statusCode, err
	}
	if !isAccepted(statusCode) {
		return statusCode, &StatusError{StatusCode: statusCode, Body: respBody}
	}
	return statusCode, nil
}

func (s *HTTPSender) post(ctx context.Context, url string, rec Record, body []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "estate-portal-webhook/1.0")
	req.Header.Set(HeaderEventType, rec.EventType)
	req.Header.Set(signing.HeaderIdempotencyKey, rec.IdempotencyKey.String())
	if s.secret != "" {
		for key, value := range signing.Headers(s.secret, s.clock.Now(), body) {
			req.Header.Set(key, value)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	text, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return resp.StatusCode, string(text), nil
}

func isAccepted(code int) bool {
	return code == http.StatusOK || code == http.StatusCreated || code == http.StatusAccepted
}
