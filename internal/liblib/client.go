package liblib

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

	"github.com/dmorgan81/liblibstudio/internal/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultDomain = "https://openapi.liblibai.cloud"

	SubmitURI = "/api/generate/webui/text2img/ultra"
	StatusURI = "/api/generate/webui/status"

	// RequestTimeout bounds every call, whatever client is injected.
	RequestTimeout = 60 * time.Second
)

// ErrTransport marks network errors, timeouts and unreadable responses.
var ErrTransport = errors.New("liblib: transport failure")

var tracer = otel.Tracer("liblib-client")

// Envelope is the common response shape. Business fields are left to callers.
type Envelope struct {
	Code *int            `json:"code"`
	Msg  string          `json:"msg,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
	Raw  []byte          `json:"-"`
}

func (e *Envelope) OK() bool {
	return e != nil && e.Code != nil && *e.Code == 0
}

func (e *Envelope) String() string {
	if e == nil {
		return "<nil>"
	}
	return string(e.Raw)
}

type Client struct {
	http    *http.Client
	domain  string
	signer  *Signer
	timeout time.Duration
}

func NewClient(hc *http.Client, domain string, creds Credentials) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: RequestTimeout}
	}
	if domain == "" {
		domain = DefaultDomain
	}
	return &Client{
		http:    hc,
		domain:  strings.TrimRight(domain, "/"),
		signer:  NewSigner(creds.AccessKey, creds.SecretKey),
		timeout: RequestTimeout,
	}
}

func (c *Client) Call(ctx context.Context, uri string, payload any) (*Envelope, error) {
	ctx, span := tracer.Start(ctx, "liblib_call", trace.WithAttributes(attribute.String("liblib.uri", uri)))
	defer span.End()

	logger := log.FromContextOrDiscard(ctx).WithGroup("liblib").With("uri", uri)

	env, err := c.call(ctx, uri, payload)
	if err != nil {
		logger.Warn("request failed", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if env.Code != nil {
		span.SetAttributes(attribute.Int("liblib.code", *env.Code))
	}
	logger.Debug("received response", "body", env.String())
	return env, nil
}

func (c *Client) call(ctx context.Context, uri string, payload any) (*Envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	signed := c.signer.Sign(uri)
	endpoint := c.domain + uri + "?" + signed.Query().Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// The request URL carries the access key and signature.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return nil, fmt.Errorf("%s %s: %w", urlErr.Op, uri, urlErr.Err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed response (http %d): %w", resp.StatusCode, err)
	}
	env.Raw = raw
	return &env, nil
}

// Download fetches a generated image. Result URLs are pre-signed by the
// service so the request carries no authentication.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "liblib_download")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, err := c.download(ctx, url)
	if err != nil {
		log.FromContextOrDiscard(ctx).WithGroup("liblib").Warn("download failed", "url", url, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "download failure")
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	span.SetAttributes(attribute.Int("liblib.image_size", len(data)))
	return data, nil
}

func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
