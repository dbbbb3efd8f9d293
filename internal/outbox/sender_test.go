package outbox

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"estate_portal_backend/platform/clock"
	"estate_portal_backend/platform/config"
	"estate_portal_backend/platform/logger"
	"estate_portal_backend/platform/signing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func senderConfig(url string) *config.Config {
	return &config.Config{
		WebhookSigningSecret: "shh",
		OutboxTargets:        []config.OutboxTarget{{Name: TargetN8N, URL: url}},
		OutboxHTTPTimeout:    5 * time.Second,
	}
}

func TestHTTPSenderSignsCanonicalBody(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	rec := Record{
		ID:             uuid.New(),
		EventType:      EventLeadCreated,
		Target:         TargetN8N,
		Payload:        []byte(`{"z":1,"a":{"b":2}}`),
		IdempotencyKey: uuid.New(),
	}

	var gotBody []byte
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewHTTPSender(senderConfig(srv.URL), clock.NewFakeClock(now), logger.Nop())
	code, err := s.Send(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, code)

	assert.Equal(t, `{"a":{"b":2},"z":1}`, string(gotBody))
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, EventLeadCreated, gotHeaders.Get(HeaderEventType))
	assert.Equal(t, rec.IdempotencyKey.String(), gotHeaders.Get(signing.HeaderIdempotencyKey))

	verifier := signing.Verifier{Secret: "shh", Now: func() time.Time { return now }}
	_, err = verifier.Verify(gotHeaders.Get(signing.HeaderSignature), gotHeaders.Get(signing.HeaderTimestamp), gotBody)
	require.NoError(t, err)
}

func TestHTTPSenderRejectsUnacceptedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewHTTPSender(senderConfig(srv.URL), nil, logger.Nop())
	code, err := s.Send(context.Background(), Record{Target: TargetN8N, Payload: []byte(`{}`)})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNoContent, code)
	assert.Equal(t, http.StatusNoContent, statusErr.StatusCode)
}

func TestHTTPSenderUnknownTarget(t *testing.T) {
	s := NewHTTPSender(senderConfig("http://127.0.0.1:1"), nil, logger.Nop())
	_, err := s.Send(context.Background(), Record{Target: "zapier", Payload: []byte(`{}`)})
	assert.True(t, errors.Is(err, ErrUnknownTarget))
}

func TestHTTPSenderOpensBreakerAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewHTTPSender(senderConfig(srv.URL), nil, logger.Nop())
	rec := Record{Target: TargetN8N, Payload: []byte(`{}`)}
	for i := 0; i < 5; i++ {
		code, err := s.Send(context.Background(), rec)
		require.Error(t, err)
		assert.Equal(t, http.StatusBadGateway, code)
	}

	_, err := s.Send(context.Background(), rec)
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, int32(5), hits.Load())
}

func TestHTTPSenderClientErrorsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	s := NewHTTPSender(senderConfig(srv.URL), nil, logger.Nop())
	rec := Record{Target: TargetN8N, Payload: []byte(`{}`)}
	for i := 0; i < 8; i++ {
		_, err := s.Send(context.Background(), rec)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrBreakerOpen))
	}
}
