// Package dispatch sends translated envelopes upstream on behalf of a
// selected account and classifies every failure mode.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/kirogate/internal/accounts"
	"github.com/haasonsaas/kirogate/internal/anthropic"
	"github.com/haasonsaas/kirogate/internal/auth"
	"github.com/haasonsaas/kirogate/internal/kiro"
	"github.com/haasonsaas/kirogate/internal/store"
	"github.com/haasonsaas/kirogate/internal/translate"
)

const (
	assistantResponsePath = "/generateAssistantResponse"
	upstreamURLFormat     = "https://q.%s.amazonaws.com"

	// maxErrorBody bounds how much of an upstream error body is kept for
	// logs and error detail.
	maxErrorBody = 8 << 10
)

// Config carries the upstream connection settings.
type Config struct {
	// Region selects the upstream endpoint; defaults to us-east-1.
	Region string

	// BaseURL overrides the per-region endpoint, for tests and unusual
	// deployments.
	BaseURL string

	// ProxyURL routes upstream calls through an HTTPS proxy when set.
	ProxyURL string

	// KiroVersion is the IDE version advertised in the identity headers.
	KiroVersion string

	// RequestTimeout bounds the wait for upstream response headers. The
	// body stream itself is unbounded; streaming responses outlive it.
	RequestTimeout time.Duration
}

// LogSink receives one telemetry row per dispatch, success or failure.
type LogSink interface {
	Record(row store.LogRow)
}

// Result is a successful upstream exchange. Body is the live upstream
// stream; the caller owns closing it.
type Result struct {
	Body        io.ReadCloser
	ContentType string
	Status      int

	// ToolNames maps sanitized tool names back to the client's originals.
	ToolNames map[string]string

	Account       accounts.Account
	UpstreamModel string
}

// Dispatcher runs the full request path: translate, pick an account, mint a
// token, call upstream, and apply the pool side effects of the outcome.
type Dispatcher struct {
	translator *translate.Translator
	pool       *accounts.Pool
	tokens     auth.Provider
	sink       LogSink
	logger     *slog.Logger
	tracer     trace.Tracer

	httpClient  *http.Client
	baseURL     string
	kiroVersion string
}

// NewDispatcher wires the dispatcher. sink may be nil when telemetry is
// disabled.
func NewDispatcher(translator *translate.Translator, pool *accounts.Pool, tokens auth.Provider,
	sink LogSink, cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf(upstreamURLFormat, region)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	transport := &http.Transport{
		ResponseHeaderTimeout: timeout,
		ForceAttemptHTTP2:     true,
	}
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	return &Dispatcher{
		translator:  translator,
		pool:        pool,
		tokens:      tokens,
		sink:        sink,
		logger:      logger,
		tracer:      otel.Tracer("kirogate/dispatch"),
		httpClient:  &http.Client{Transport: transport},
		baseURL:     strings.TrimRight(baseURL, "/"),
		kiroVersion: cfg.KiroVersion,
	}, nil
}

// Dispatch translates req and forwards it upstream. On success the caller
// receives the open response stream. On failure the returned error is
// always a *kiro.GatewayError and the pool side effects (cooldown on
// throttle, invalidation on dead credentials) have already been applied.
func (d *Dispatcher) Dispatch(ctx context.Context, req *anthropic.Request) (*Result, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch.request",
		trace.WithAttributes(attribute.String("model", req.Model)))
	defer span.End()

	start := time.Now()

	env, names, err := d.translator.Translate(ctx, req)
	if err != nil {
		// Client-side rejection; no account was touched and no row is logged.
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	upstreamModel := ""
	if env.ConversationState.CurrentMessage.UserInputMessage != nil {
		upstreamModel = env.ConversationState.CurrentMessage.UserInputMessage.ModelID
	}
	span.SetAttributes(attribute.String("model.upstream", upstreamModel))

	acct, err := d.pool.Select()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		d.record(req, accounts.Account{}, upstreamModel, start, false, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("account.id", acct.ID))

	tok, err := d.tokens.EnsureValidToken(ctx, acct)
	if err != nil {
		err = d.tokenFailure(acct, err)
		span.SetStatus(codes.Error, err.Error())
		d.record(req, acct, upstreamModel, start, false, err)
		return nil, err
	}

	env.ProfileArn = acct.Credential.ProfileArn
	body, err := marshalEnvelope(env)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		d.record(req, acct, upstreamModel, start, false, err)
		return nil, err
	}

	resp, err := d.call(ctx, body, tok.Access, acct.Credential)
	if err != nil {
		ge := kiro.NewError(kiro.ErrTransportError, "upstream call failed").
			WithAccount(acct.ID).WithCause(err)
		d.pool.RecordError(acct.ID, false)
		span.SetStatus(codes.Error, ge.Error())
		d.record(req, acct, upstreamModel, start, false, ge)
		return nil, ge
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		ge := d.upstreamFailure(resp, acct, body)
		span.SetStatus(codes.Error, ge.Error())
		span.SetAttributes(attribute.Int("upstream.status", resp.StatusCode))
		d.record(req, acct, upstreamModel, start, false, ge)
		return nil, ge
	}

	d.pool.RecordSuccess(acct.ID)
	span.SetAttributes(attribute.Int("upstream.status", resp.StatusCode))
	d.record(req, acct, upstreamModel, start, true, nil)
	d.logger.Info("request dispatched",
		"account", acct.ID,
		"model", req.Model,
		"model_id", upstreamModel,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Result{
		Body:          resp.Body,
		ContentType:   resp.Header.Get("Content-Type"),
		Status:        resp.StatusCode,
		ToolNames:     invert(names),
		Account:       acct,
		UpstreamModel: upstreamModel,
	}, nil
}

func (d *Dispatcher) call(ctx context.Context, body []byte, token string, cred accounts.Credential) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.baseURL+assistantResponsePath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	applyUpstreamHeaders(req, token, cred, d.kiroVersion)
	return d.httpClient.Do(req)
}

// tokenFailure applies the pool side effect of a refresh failure: a
// persistent rejection means the credential is dead and the account is
// parked as invalid.
func (d *Dispatcher) tokenFailure(acct accounts.Account, err error) error {
	ge, ok := kiro.AsGatewayError(err)
	if !ok {
		ge = kiro.NewError(kiro.ErrTokenError, "token refresh failed").WithCause(err)
	}
	if ge.AccountID == "" {
		ge.AccountID = acct.ID
	}
	if ge.Persistent {
		d.pool.MarkInvalid(acct.ID)
		d.logger.Warn("account invalidated, credential refresh rejected", "account", acct.ID)
	} else {
		d.pool.RecordError(acct.ID, false)
	}
	return ge
}

// upstreamFailure drains the error body (bounded), classifies the status,
// and applies cooldown on throttling.
func (d *Dispatcher) upstreamFailure(resp *http.Response, acct accounts.Account, reqBody []byte) *kiro.GatewayError {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()

	throttled := kiro.IsThrottleStatus(resp.StatusCode)
	d.pool.RecordError(acct.ID, throttled)
	if throttled {
		d.logger.Warn("account throttled upstream, entering cooldown", "account", acct.ID)
	}

	ge := kiro.Errorf(kiro.ErrUpstreamError, "upstream returned %d", resp.StatusCode).
		WithStatus(resp.StatusCode).
		WithAccount(acct.ID).
		WithBody(strings.TrimSpace(string(detail))).
		WithSummary(SummarizeRequest(reqBody))
	d.logger.Error("upstream error",
		"account", acct.ID,
		"status", resp.StatusCode,
		"body", ge.Body,
		"request_shape", ge.Summary,
	)
	return ge
}

func (d *Dispatcher) record(req *anthropic.Request, acct accounts.Account, upstreamModel string,
	start time.Time, success bool, err error) {
	if d.sink == nil {
		return
	}
	row := store.LogRow{
		ID:            uuid.NewString(),
		Timestamp:     start.UTC(),
		AccountID:     acct.ID,
		AccountName:   acct.Name,
		Model:         req.Model,
		UpstreamModel: upstreamModel,
		Success:       success,
		DurationMs:    time.Since(start).Milliseconds(),
		Streamed:      req.Stream,
	}
	if ge, ok := kiro.AsGatewayError(err); ok {
		row.Status = ge.Status
		row.ErrorKind = string(ge.Kind)
		row.ErrorMessage = ge.Message
	} else if err != nil {
		row.ErrorMessage = err.Error()
	}
	if success {
		row.Status = http.StatusOK
	}
	d.sink.Record(row)
}

func marshalEnvelope(env *kiro.Envelope) ([]byte, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, kiro.NewError(kiro.ErrTransportError, "encode upstream request").WithCause(err)
	}
	return body, nil
}

func invert(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for original, sanitized := range m {
		out[sanitized] = original
	}
	return out
}
