package crm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nushkakush/experiencetrack-dash-sub003/internal/obs"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/queue"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/resilience"
)

// ErrNotConfigured is returned when no CRM endpoint is set.
var ErrNotConfigured = errors.New("crm: endpoint not configured")

// Doer sends a request with retries.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// ClientConfig tunes the outbound CRM client.
type ClientConfig struct {
	Timeout     time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	Breaker     *resilience.Breaker
}

// NewClient builds the retrying, circuit-broken client with an instrumented transport.
func NewClient(cfg ClientConfig) resilience.HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return resilience.HTTPClient{
		Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Breaker:     cfg.Breaker,
		BaseBackoff: cfg.BaseBackoff,
		MaxAttempts: cfg.MaxAttempts,
		Jitter:      0.2,
		Timeout:     timeout,
	}
}

// Syncer delivers leads to the CRM endpoint.
type Syncer struct {
	Client   Doer
	Endpoint string
	APIKey   string
	Logger   zerolog.Logger
}

// Deliver posts one lead. Any non-2xx response is an error.
func (s *Syncer) Deliver(ctx context.Context, lead Lead) error {
	if s.Endpoint == "" {
		return ErrNotConfigured
	}
	if _, err := url.ParseRequestURI(s.Endpoint); err != nil {
		return fmt.Errorf("crm: invalid endpoint: %w", err)
	}
	ctx, span := otel.Tracer("crm.Syncer").Start(ctx, "Syncer.Deliver")
	defer span.End()
	span.SetAttributes(attribute.String("crm.lead_id", lead.ID), attribute.String("crm.cohort_id", lead.CohortID))

	body, err := encodeLead(lead)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", lead.ID)
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}

	start := time.Now()
	resp, err := s.Client.Do(ctx, req)
	if err != nil {
		observe("failed", start)
		span.RecordError(err)
		return fmt.Errorf("crm: deliver lead %s: %w", lead.ID, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observe("rejected", start)
		return fmt.Errorf("crm: deliver lead %s: status %d", lead.ID, resp.StatusCode)
	}
	observe("delivered", start)
	return nil
}

// Handle is the queue handler for crm-sync tasks. Undecodable payloads are dropped.
func (s *Syncer) Handle(ctx context.Context, task queue.Task) error {
	lead, err := decodeLead(task.Payload)
	if err != nil {
		s.Logger.Warn().Err(err).Str("key", task.IdempotencyKey).Msg("crm: dropping undecodable lead")
		return nil
	}
	if err := s.Deliver(ctx, lead); err != nil {
		return err
	}
	s.Logger.Info().Str("lead_id", lead.ID).Int("attempt", task.Attempt).Msg("crm: lead synced")
	return nil
}

func observe(result string, start time.Time) {
	if obs.CRMSyncTotal != nil {
		obs.CRMSyncTotal.WithLabelValues(result).Inc()
	}
	if obs.CRMSyncLatency != nil {
		obs.CRMSyncLatency.WithLabelValues(result).Observe(obs.DurationMillis(time.Since(start)))
	}
}
