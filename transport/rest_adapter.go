package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-govnotify/core"

	goerrors "github.com/goliatone/go-errors"
)

const KindREST = "rest"

const (
	defaultRESTClientTimeout           = 30 * time.Second
	defaultRESTResponseBodyLimit int64 = 1 << 20
	defaultUserAgent                   = "govnotify"
	errorBodyPreviewBytes              = 256
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RESTAdapter performs one HTTP call per Do. Each call is bounded by the
// request timeout and the response body limit.
type RESTAdapter struct {
	Client               HTTPDoer
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
	Now                  func() time.Time
}

func NewRESTAdapter(client HTTPDoer) *RESTAdapter {
	if client == nil {
		client = &http.Client{Timeout: defaultRESTClientTimeout}
	}
	return &RESTAdapter{
		Client:               client,
		DefaultHeaders:       map[string]string{"User-Agent": defaultUserAgent},
		MaxResponseBodyBytes: defaultRESTResponseBodyLimit,
		Now:                  time.Now,
	}
}

func (*RESTAdapter) Kind() string {
	return KindREST
}

func (a *RESTAdapter) Do(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if a == nil || a.Client == nil {
		return core.TransportResponse{}, transportError(
			"transport: rest adapter requires an http client",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			map[string]any{"adapter": KindREST},
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := a.buildRequest(ctx, req)
	if err != nil {
		return core.TransportResponse{}, err
	}
	fields := map[string]any{"adapter": KindREST, "method": httpReq.Method, "url": redactURL(httpReq.URL)}

	startedAt := a.now()
	httpRes, err := a.Client.Do(httpReq)
	if err != nil {
		return core.TransportResponse{}, transportWrapError(err, goerrors.CategoryExternal, "transport: execute http request", http.StatusBadGateway, fields)
	}
	defer httpRes.Body.Close()

	limit := resolveResponseBodyLimit(req.MaxResponseBodyBytes, a.MaxResponseBodyBytes)
	body, err := io.ReadAll(io.LimitReader(httpRes.Body, limit+1))
	if err != nil {
		fields["status_code"] = httpRes.StatusCode
		return core.TransportResponse{}, transportWrapError(err, goerrors.CategoryExternal, "transport: read response body", http.StatusBadGateway, fields)
	}
	if int64(len(body)) > limit {
		fields["status_code"] = httpRes.StatusCode
		fields["response_limit_b"] = limit
		return core.TransportResponse{}, transportError(
			fmt.Sprintf("transport: response body exceeds limit of %d bytes", limit),
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			fields,
		)
	}

	return core.TransportResponse{
		StatusCode: httpRes.StatusCode,
		Headers:    flattenHeaders(httpRes.Header),
		Body:       body,
		Metadata: map[string]any{
			"duration_ms": a.now().Sub(startedAt).Milliseconds(),
			"kind":        KindREST,
		},
	}, nil
}

func (a *RESTAdapter) buildRequest(ctx context.Context, req core.TransportRequest) (*http.Request, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	rawURL := strings.TrimSpace(req.URL)
	if rawURL == "" {
		return nil, transportError("transport: request url is required", goerrors.CategoryBadInput, http.StatusBadRequest, map[string]any{"adapter": KindREST})
	}
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, transportWrapError(err, goerrors.CategoryBadInput, "transport: invalid request url", http.StatusBadRequest, map[string]any{"adapter": KindREST})
	}
	if len(req.Query) > 0 {
		query := parsedURL.Query()
		for key, value := range req.Query {
			if key = strings.TrimSpace(key); key != "" {
				query.Set(key, strings.TrimSpace(value))
			}
		}
		parsedURL.RawQuery = query.Encode()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, parsedURL.String(), body)
	if err != nil {
		return nil, transportWrapError(err, goerrors.CategoryBadInput, "transport: create http request", http.StatusBadRequest, map[string]any{"adapter": KindREST, "method": method})
	}
	applyHeaders(httpReq.Header, a.DefaultHeaders)
	applyHeaders(httpReq.Header, req.Headers)
	if idempotency := strings.TrimSpace(req.Idempotency); idempotency != "" {
		httpReq.Header.Set("Idempotency-Key", idempotency)
	}
	return httpReq, nil
}

func (a *RESTAdapter) now() time.Time {
	if a != nil && a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// JSONRequest builds a POST request carrying payload as JSON.
func JSONRequest(rawURL string, payload any, timeout time.Duration) (core.TransportRequest, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return core.TransportRequest{}, transportWrapError(err, goerrors.CategoryBadInput, "transport: marshal json payload", http.StatusBadRequest, nil)
	}
	return core.TransportRequest{
		Method:  http.MethodPost,
		URL:     rawURL,
		Headers: map[string]string{"Content-Type": "application/json", "Accept": "application/json"},
		Body:    body,
		Timeout: timeout,
	}, nil
}

// CheckStatus turns a non-2xx response into an external error that carries a
// short preview of the body.
func CheckStatus(res core.TransportResponse) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	preview := strings.TrimSpace(string(res.Body))
	if len(preview) > errorBodyPreviewBytes {
		preview = preview[:errorBodyPreviewBytes]
	}
	category := goerrors.CategoryExternal
	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		category = goerrors.CategoryRateLimit
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		category = goerrors.CategoryAuth
	}
	return transportError(
		fmt.Sprintf("transport: unexpected status %d", res.StatusCode),
		category,
		http.StatusBadGateway,
		map[string]any{"status_code": res.StatusCode, "body": preview},
	)
}

func applyHeaders(dst http.Header, headers map[string]string) {
	for key, value := range headers {
		if key = strings.TrimSpace(key); key != "" {
			dst.Set(key, strings.TrimSpace(value))
		}
	}
}

// redactURL drops the path so bot tokens embedded in it never reach logs.
func redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func flattenHeaders(headers http.Header) map[string]string {
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		flat[key] = strings.Join(values, ",")
	}
	return flat
}

func resolveResponseBodyLimit(requestLimit int64, adapterLimit int64) int64 {
	if requestLimit > 0 {
		return requestLimit
	}
	if adapterLimit > 0 {
		return adapterLimit
	}
	return defaultRESTResponseBodyLimit
}

var _ core.TransportAdapter = (*RESTAdapter)(nil)
