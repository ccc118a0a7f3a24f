// Package webhook delivers signed event payloads to each tenant's configured endpoint and keeps
// an append-only delivery log. Each triggering event gets exactly one POST; operators re-send
// on demand with Test.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"flowcrm/backend/internal/security"
	"flowcrm/backend/internal/telemetry"
	"flowcrm/backend/internal/webhook/domain"
	webhookrepo "flowcrm/backend/internal/webhook/repository"
)

var (
	// ErrNotConfigured is returned by operator calls on a tenant without a webhook.
	ErrNotConfigured = errors.New("webhook: not configured")
	// ErrInvalidURL is returned when the target is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("webhook: url must be an absolute http or https url")
	// ErrUnknownEvent is returned when subscribing to an event name outside the catalog.
	ErrUnknownEvent = errors.New("webhook: unknown event")
)

const (
	// TestEvent is sent by Test regardless of the subscription set.
	TestEvent       = "webhook.test"
	maxResponseBody = 2 << 10
	secretPrefix    = "whsec_"
)

// Envelope is the POST body.
type Envelope struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

type Dispatcher struct {
	repo    webhookrepo.Repository
	box     *security.SecretBox
	http    *resty.Client
	logger  *zap.Logger
	metrics *telemetry.Metrics
	catalog map[string]bool
	now     func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSecretBox seals signing secrets at rest.
func WithSecretBox(b *security.SecretBox) Option {
	return func(d *Dispatcher) { d.box = b }
}

// WithTimeout sets the fixed per-delivery timeout (default 10s).
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.http.SetTimeout(t) }
}

// WithEventCatalog restricts Configure to the given event names.
func WithEventCatalog(names []string) Option {
	return func(d *Dispatcher) {
		d.catalog = make(map[string]bool, len(names))
		for _, n := range names {
			d.catalog[n] = true
		}
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

func NewDispatcher(repo webhookrepo.Repository, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		repo: repo,
		http: resty.New().
			SetTimeout(10*time.Second).
			SetRetryCount(0).
			SetHeader("User-Agent", "FlowCRM-Webhooks/1.0"),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch delivers event to the tenant's endpoint if one is configured and subscribed to it.
// Otherwise it does nothing: no request, no log row.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID, event string, data any) error {
	cfg, err := d.repo.GetConfig(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("webhook: load config: %w", err)
	}
	if cfg == nil || !cfg.Subscribed(event) {
		return nil
	}
	_, err = d.deliver(ctx, cfg, event, data)
	return err
}

// Test sends a webhook.test event to the configured endpoint and returns the logged attempt.
func (d *Dispatcher) Test(ctx context.Context, tenantID string) (*domain.DeliveryLog, error) {
	cfg, err := d.repo.GetConfig(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("webhook: load config: %w", err)
	}
	if cfg == nil {
		return nil, ErrNotConfigured
	}
	return d.deliver(ctx, cfg, TestEvent, map[string]string{"message": "This is a test delivery from FlowCRM."})
}

func (d *Dispatcher) deliver(ctx context.Context, cfg *domain.Config, event string, data any) (*domain.DeliveryLog, error) {
	body, err := json.Marshal(Envelope{Event: event, Timestamp: d.now().UTC().Format(time.RFC3339Nano), Data: data})
	if err != nil {
		return nil, fmt.Errorf("webhook: encode %s: %w", event, err)
	}
	secret, err := d.box.Open(cfg.Secret)
	if err != nil {
		// Deliver unsigned rather than drop; the log row shows the missing signature.
		d.logger.Error("webhook secret cannot be opened, sending unsigned", zap.String("org_id", cfg.OrgID), zap.Error(err))
		secret = ""
	}

	entry := &domain.DeliveryLog{
		ID:        uuid.New().String(),
		OrgID:     cfg.OrgID,
		Event:     event,
		Payload:   body,
		Attempts:  1,
		CreatedAt: d.now().UTC(),
	}
	req := d.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Webhook-Event", event).
		SetHeader("X-Webhook-Delivery", entry.ID).
		SetBody(body)
	if secret != "" {
		entry.Signature = Sign(secret, body)
		req.SetHeader(SignatureHeader, entry.Signature)
	}

	resp, err := req.Post(cfg.URL)
	switch {
	case err != nil:
		entry.Status = domain.StatusFailed
		entry.ResponseBody = truncate(err.Error())
	default:
		code := resp.StatusCode()
		entry.StatusCode = &code
		entry.ResponseBody = truncate(string(resp.Body()))
		entry.Status = domain.StatusFailed
		if code >= 200 && code < 300 {
			entry.Status = domain.StatusSuccess
		}
	}
	d.metrics.WebhookDelivered(ctx, entry.Status)
	d.logger.Info("webhook delivered",
		zap.String("org_id", cfg.OrgID),
		zap.String("event", event),
		zap.String("status", entry.Status),
		zap.Intp("status_code", entry.StatusCode),
	)

	if err := d.repo.AppendDelivery(ctx, entry); err != nil {
		return entry, fmt.Errorf("webhook: record delivery: %w", err)
	}
	return entry, nil
}

func truncate(s string) string {
	if len(s) <= maxResponseBody {
		return s
	}
	return strings.ToValidUTF8(s[:maxResponseBody], "")
}

// Configure creates or updates the tenant's endpoint and subscription set. A new config gets a
// generated secret; an existing one keeps its secret. The returned config carries the plaintext secret.
func (d *Dispatcher) Configure(ctx context.Context, tenantID, target string, events []string) (*domain.Config, error) {
	if err := validateURL(target); err != nil {
		return nil, err
	}
	events, err := d.normalizeEvents(events)
	if err != nil {
		return nil, err
	}
	secret, err := newSecret()
	if err != nil {
		return nil, err
	}
	sealed, err := d.box.Seal(secret)
	if err != nil {
		return nil, fmt.Errorf("webhook: seal secret: %w", err)
	}
	cfg, err := d.repo.UpsertConfig(ctx, &domain.Config{
		OrgID:     tenantID,
		URL:       target,
		Secret:    sealed,
		Events:    events,
		UpdatedAt: d.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("webhook: save config: %w", err)
	}
	return d.reveal(cfg)
}

// RotateSecret replaces the signing secret. The previous secret stops being used immediately.
func (d *Dispatcher) RotateSecret(ctx context.Context, tenantID string) (string, error) {
	secret, err := newSecret()
	if err != nil {
		return "", err
	}
	sealed, err := d.box.Seal(secret)
	if err != nil {
		return "", fmt.Errorf("webhook: seal secret: %w", err)
	}
	ok, err := d.repo.UpdateSecret(ctx, tenantID, sealed)
	if err != nil {
		return "", fmt.Errorf("webhook: rotate secret: %w", err)
	}
	if !ok {
		return "", ErrNotConfigured
	}
	return secret, nil
}

func (d *Dispatcher) Remove(ctx context.Context, tenantID string) error {
	ok, err := d.repo.DeleteConfig(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("webhook: remove: %w", err)
	}
	if !ok {
		return ErrNotConfigured
	}
	return nil
}

// Get returns the tenant's config with the plaintext secret, or nil when none exists.
func (d *Dispatcher) Get(ctx context.Context, tenantID string) (*domain.Config, error) {
	cfg, err := d.repo.GetConfig(ctx, tenantID)
	if err != nil || cfg == nil {
		return nil, err
	}
	return d.reveal(cfg)
}

func (d *Dispatcher) Deliveries(ctx context.Context, tenantID string, limit, offset int32) ([]*domain.DeliveryLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return d.repo.ListDeliveries(ctx, tenantID, limit, max(offset, 0))
}

func (d *Dispatcher) reveal(cfg *domain.Config) (*domain.Config, error) {
	secret, err := d.box.Open(cfg.Secret)
	if err != nil {
		return nil, err
	}
	out := *cfg
	out.Secret = secret
	return &out, nil
}

func (d *Dispatcher) normalizeEvents(events []string) ([]string, error) {
	seen := make(map[string]bool, len(events))
	out := make([]string, 0, len(events))
	for _, e := range events {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" || seen[e] {
			continue
		}
		if d.catalog != nil && !d.catalog[e] {
			return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, e)
		}
		seen[e] = true
		out = append(out, e)
	}
	return out, nil
}

func validateURL(target string) error {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}
	return nil
}

func newSecret() (string, error) {
	tok, err := security.NewOpaqueToken(24)
	if err != nil {
		return "", fmt.Errorf("webhook: generate secret: %w", err)
	}
	return secretPrefix + tok, nil
}

// MaskSecret shows only the prefix and last four characters.
func MaskSecret(secret string) string {
	if len(secret) <= len(secretPrefix)+4 {
		return strings.Repeat("*", len(secret))
	}
	return secretPrefix + "…" + secret[len(secret)-4:]
}
