package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/boddenberg/crm-leads-go/internal/domain"
	"github.com/boddenberg/crm-leads-go/internal/infra/observability"
	"github.com/boddenberg/crm-leads-go/internal/infra/resilience"
	"github.com/boddenberg/crm-leads-go/internal/port"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("client")

// serviceName labels the CRM API in errors and breaker state.
const serviceName = "crm"

// CRMClient calls the lead-management REST API.
// It attaches the stored bearer token to every request and normalizes lead
// records into domain.Lead.
type CRMClient struct {
	httpClient *http.Client
	baseURL    string
	tokens     port.TokenStore
	cb         *gobreaker.CircuitBreaker
	bulkhead   *resilience.Bulkhead
	cfg        resilience.Config
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewCRMClient creates a new CRMClient.
func NewCRMClient(
	httpClient *http.Client,
	baseURL string,
	tokens port.TokenStore,
	cb *gobreaker.CircuitBreaker,
	cfg resilience.Config,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *CRMClient {
	return &CRMClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		cb:         cb,
		bulkhead:   resilience.NewBulkhead(cfg.MaxConcurrency),
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// IsBreakerSuccess reports whether err says nothing about the CRM API's
// health: client errors (4xx) are the caller's problem, not the server's.
func IsBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var httpErr *domain.ErrHTTP
	if errors.As(err, &httpErr) {
		return httpErr.Status < 500
	}
	return false
}

// ============================================================
// Auth
// ============================================================

type loginResponse struct {
	AccessToken string         `json:"access_token"`
	Token       string         `json:"token"`
	User        map[string]any `json:"user"`
}

// Login submits form-encoded credentials, persists the returned token and
// returns it. Failures are *domain.ErrAuth. Login is never retried.
func (c *CRMClient) Login(ctx context.Context, email, password string) (*domain.LoginResult, error) {
	ctx, span := tracer.Start(ctx, "CRMClient.Login")
	defer span.End()

	form := url.Values{}
	form.Set("username", email)
	form.Set("password", password)

	req := request{
		op:          observability.OpLogin,
		method:      http.MethodPost,
		path:        "/api/auth/login",
		body:        []byte(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
		noAuth:      true,
		loginErrors: true,
	}

	body, err := c.call(ctx, req, false)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		return nil, err
	}

	var resp loginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &domain.ErrAuth{HTTP: &domain.ErrHTTP{
			Op: req.op, Status: http.StatusOK, Message: "login response is not valid JSON",
		}}
	}

	token := resp.AccessToken
	if token == "" {
		token = resp.Token
	}
	if token == "" {
		return nil, &domain.ErrAuth{HTTP: &domain.ErrHTTP{
			Op: req.op, Status: http.StatusOK, Message: "login response did not include an access token",
		}}
	}

	if err := c.tokens.Save(ctx, token); err != nil {
		c.logger.Error("login: failed to persist token", zap.Error(err))
		return nil, fmt.Errorf("persist token: %w", err)
	}

	user := resp.User
	if user == nil {
		user = map[string]any{}
	}

	c.logger.Info("login succeeded", zap.String("username", email))
	return &domain.LoginResult{Token: token, User: user}, nil
}

// Logout forgets the persisted token. The server is not called.
func (c *CRMClient) Logout(ctx context.Context) error {
	_, span := tracer.Start(ctx, "CRMClient.Logout")
	defer span.End()

	if err := c.tokens.Delete(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("forget token: %w", err)
	}
	return nil
}

// ============================================================
// Leads
// ============================================================

// ListLeads fetches every lead. Both {"leads": [...]} and bare arrays are
// accepted; any other payload shape yields an empty list. Records that
// cannot be normalized (no id) are skipped.
func (c *CRMClient) ListLeads(ctx context.Context) ([]domain.Lead, error) {
	ctx, span := tracer.Start(ctx, "CRMClient.ListLeads")
	defer span.End()

	body, err := c.call(ctx, request{
		op:     observability.OpListLeads,
		method: http.MethodGet,
		path:   "/api/leads",
	}, true)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	raws := domain.UnwrapLeadList(body)
	leads := make([]domain.Lead, 0, len(raws))
	for _, raw := range raws {
		lead, err := domain.NormalizeLead(raw, c.now)
		if err != nil {
			c.logger.Warn("list leads: skipping record", zap.Error(err))
			continue
		}
		leads = append(leads, lead)
	}

	span.SetAttributes(attribute.Int("leads.count", len(leads)))
	c.logger.Debug("list leads: normalized", zap.Int("count", len(leads)))
	return leads, nil
}

// GetLead fetches one lead and normalizes it like ListLeads.
func (c *CRMClient) GetLead(ctx context.Context, id domain.LeadID) (domain.Lead, error) {
	ctx, span := tracer.Start(ctx, "CRMClient.GetLead")
	defer span.End()
	span.SetAttributes(attribute.String("lead.id", id.String()))

	body, err := c.call(ctx, request{
		op:     observability.OpGetLead,
		method: http.MethodGet,
		path:   leadPath(id),
	}, true)
	if err != nil {
		span.RecordError(err)
		return domain.Lead{}, err
	}

	return domain.DecodeLead(body, c.now)
}

// UpdateLeadStatus PATCHes the lead's status. The response is returned
// untouched; callers apply the change to local state themselves.
func (c *CRMClient) UpdateLeadStatus(ctx context.Context, id domain.LeadID, status domain.Status) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "CRMClient.UpdateLeadStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("lead.id", id.String()),
		attribute.String("lead.status", string(status)),
	)

	payload, err := json.Marshal(map[string]domain.Status{"status": status})
	if err != nil {
		return nil, err
	}

	body, err := c.call(ctx, request{
		op:          observability.OpUpdateLeadStatus,
		method:      http.MethodPatch,
		path:        leadPath(id),
		body:        payload,
		contentType: "application/json",
	}, true)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return json.RawMessage(body), nil
}

// DeleteLead deletes the lead; any 2xx status is success. A 404 on a retry
// means an earlier attempt was applied and also counts as success.
func (c *CRMClient) DeleteLead(ctx context.Context, id domain.LeadID) error {
	ctx, span := tracer.Start(ctx, "CRMClient.DeleteLead")
	defer span.End()
	span.SetAttributes(attribute.String("lead.id", id.String()))

	_, err := c.call(ctx, request{
		op:          observability.OpDeleteLead,
		method:      http.MethodDelete,
		path:        leadPath(id),
		goneOnRetry: true,
	}, true)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// CircuitState reports the breaker state for health output.
func (c *CRMClient) CircuitState() string {
	return c.cb.State().String()
}

func leadPath(id domain.LeadID) string {
	return "/api/leads/" + url.PathEscape(id.String())
}

// ============================================================
// Transport
// ============================================================

type request struct {
	op          string
	method      string
	path        string
	body        []byte
	contentType string
	noAuth      bool
	loginErrors bool
	// goneOnRetry treats a 404 after a failed attempt as success.
	goneOnRetry bool
}

// call runs req through the bulkhead, circuit breaker and (when retry is
// set) exponential backoff. Only network errors and 5xx responses are
// retried.
func (c *CRMClient) call(ctx context.Context, req request, retry bool) ([]byte, error) {
	start := time.Now()

	if err := c.bulkhead.Acquire(ctx); err != nil {
		return nil, &domain.ErrNetwork{Op: req.op, Err: err}
	}
	defer c.bulkhead.Release()

	cfg := c.cfg
	if !retry {
		cfg.MaxRetries = 0
	}

	result, err := c.cb.Execute(func() (any, error) {
		var body []byte
		attempt := 0
		innerErr := resilience.RetryWithBackoff(ctx, cfg, func() error {
			attempt++
			b, err := c.do(ctx, req)
			if err != nil && attempt > 1 && req.goneOnRetry && isNotFound(err) {
				c.logger.Info("crm: resource already gone on retry",
					zap.String("op", req.op), zap.String("path", req.path), zap.Int("attempt", attempt))
				body = nil
				return nil
			}
			if err != nil {
				if isRetryable(err) {
					return err
				}
				return resilience.Permanent(err)
			}
			body = b
			return nil
		})
		if innerErr != nil {
			return nil, innerErr
		}
		return body, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &domain.ErrCircuitOpen{Service: serviceName}
	} else if err != nil && !isDomainError(err) {
		// Context cancelled between attempts.
		err = &domain.ErrNetwork{Op: req.op, Err: err}
	}

	c.metrics.RecordAPICall(req.op, time.Since(start), err)
	if err != nil {
		c.metrics.IncrAPIError(errorKind(err))
		return nil, err
	}
	return result.([]byte), nil
}

// do performs a single HTTP round trip.
func (c *CRMClient) do(ctx context.Context, req request) ([]byte, error) {
	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return nil, &domain.ErrNetwork{Op: req.op, Err: err}
	}

	contentType := req.contentType
	if contentType == "" {
		contentType = "application/json"
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	requestID := uuid.NewString()
	httpReq.Header.Set("X-Request-ID", requestID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	tokenPresent := false
	if !req.noAuth {
		if token, ok := c.tokens.Get(ctx); ok {
			httpReq.Header.Set("Authorization", "Bearer "+token)
			tokenPresent = true
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("crm: request failed",
			zap.String("method", req.method),
			zap.String("path", req.path),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return nil, &domain.ErrNetwork{Op: req.op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.ErrNetwork{Op: req.op, Err: fmt.Errorf("read body: %w", err)}
	}

	fields := []zap.Field{
		zap.String("method", req.method),
		zap.String("path", req.path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
		zap.String("request_id", requestID),
		zap.Bool("token_present", tokenPresent),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("crm: non-2xx response", fields...)
		httpErr := &domain.ErrHTTP{
			Op:      req.op,
			Status:  resp.StatusCode,
			Message: errorMessage(respBody, resp.StatusCode, !req.loginErrors),
		}
		if req.loginErrors {
			return nil, &domain.ErrAuth{HTTP: httpErr}
		}
		return nil, httpErr
	}

	c.logger.Debug("crm: request OK", fields...)
	return respBody, nil
}

// errorMessage picks the user-facing message for a failed response:
// server "detail", then "message" (when allowed), then a generic text.
func errorMessage(body []byte, status int, allowMessage bool) string {
	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg := messageText(payload.Detail); msg != "" {
			return msg
		}
		if allowMessage {
			if msg := messageText(payload.Message); msg != "" {
				return msg
			}
		}
	}
	return fmt.Sprintf("HTTP error! status: %d", status)
}

// messageText renders a detail/message value: strings as-is, other JSON
// values (e.g. validation error lists) compacted.
func messageText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return ""
	}
	return buf.String()
}

func isRetryable(err error) bool {
	var netErr *domain.ErrNetwork
	if errors.As(err, &netErr) {
		return true
	}
	var httpErr *domain.ErrHTTP
	if errors.As(err, &httpErr) {
		return httpErr.Status >= 500
	}
	return false
}

func isNotFound(err error) bool {
	var httpErr *domain.ErrHTTP
	return errors.As(err, &httpErr) && httpErr.Status == http.StatusNotFound
}

func isDomainError(err error) bool {
	var netErr *domain.ErrNetwork
	var httpErr *domain.ErrHTTP
	return errors.As(err, &netErr) || errors.As(err, &httpErr)
}

func errorKind(err error) string {
	var authErr *domain.ErrAuth
	var httpErr *domain.ErrHTTP
	var circuit *domain.ErrCircuitOpen
	switch {
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &httpErr):
		return "http"
	case errors.As(err, &circuit):
		return "circuit_open"
	default:
		return "network"
	}
}
