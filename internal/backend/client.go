package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digkill/flashgen/internal/apperr"
	"github.com/digkill/flashgen/internal/config"
	"github.com/digkill/flashgen/pkg/logger"
)

// Client talks to the users, resume and payment APIs.
type Client struct {
	baseURL    string
	prefix     string
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BackendURL, "/"),
		prefix:  cfg.BackendAPIPrefix,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: logger.OrDiscard(log),
	}
}

// WithHTTPClient swaps the transport, mostly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Health pings the unprefixed health endpoint.
func (c *Client) Health(ctx context.Context) error {
	var out map[string]any
	return c.do(ctx, request{op: "backend.health", method: http.MethodGet, path: "/health", raw: true}, &out)
}

type request struct {
	op          string
	method      string
	path        string
	token       string
	body        io.Reader
	contentType string
	// raw skips the API prefix.
	raw bool
}

type errorEnvelope struct {
	Detail json.RawMessage `json:"detail"`
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	fullURL, err := c.resolve(r)
	if err != nil {
		return apperr.Wrap(apperr.KindConfiguration, r.op, err)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, fullURL, r.body)
	if err != nil {
		return apperr.Wrap(apperr.KindConfiguration, r.op, fmt.Errorf("new request: %w", err))
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return apperr.Wrap(apperr.KindUnreachable, r.op, err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Wrap(apperr.KindUnreachable, r.op, fmt.Errorf("read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn("backend request failed", "op", r.op, "status", resp.StatusCode, "body", truncateBody(rawBody))
		return statusError(r.op, resp.StatusCode, rawBody)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rawBody, out); err != nil {
		return &apperr.Error{
			Kind:   apperr.KindServer,
			Op:     r.op,
			Status: resp.StatusCode,
			Msg:    "malformed response",
			Err:    fmt.Errorf("decode: %w (body=%s)", err, truncateBody(rawBody)),
		}
	}
	if v, ok := out.(interface{ validate() error }); ok {
		if err := v.validate(); err != nil {
			return &apperr.Error{Kind: apperr.KindServer, Op: r.op, Status: resp.StatusCode, Msg: "malformed response: " + err.Error()}
		}
	}
	return nil
}

func (c *Client) resolve(r request) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	p := r.path
	if !r.raw {
		p = c.prefix + p
	}
	endpoint, err := url.Parse(p)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	base.Path = strings.TrimRight(base.Path, "/") + endpoint.Path
	base.RawQuery = endpoint.RawQuery
	return base.String(), nil
}

// statusError maps a non-2xx response onto the error taxonomy. The body's
// detail field becomes the message; without it the status code is reported.
func statusError(op string, status int, body []byte) error {
	msg := detailMessage(body)
	if msg == "" {
		msg = fmt.Sprintf("request failed (HTTP %d)", status)
	}
	kind := apperr.KindServer
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		kind = apperr.KindUnauthenticated
	}
	return &apperr.Error{Kind: kind, Op: op, Status: status, Msg: msg}
}

func detailMessage(body []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || len(env.Detail) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(env.Detail, &s); err == nil {
		return strings.TrimSpace(s)
	}
	// Validation errors arrive as a list of {msg: ...} objects.
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(env.Detail, &items); err == nil && len(items) > 0 {
		return items[0].Msg
	}
	return ""
}

func jsonBody(v any) (io.Reader, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}

func requireToken(op, token string) error {
	if strings.TrimSpace(token) == "" {
		return apperr.E(apperr.KindUnauthenticated, op, "missing access credential")
	}
	return nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
