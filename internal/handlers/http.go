package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/weftlabs/weft/internal/execution"
	"github.com/weftlabs/weft/internal/expressions"
	"github.com/weftlabs/weft/internal/workflow"
	"github.com/weftlabs/weft/pkg/schema"
)

// HTTPConfig configures the http_call handler.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
	Client          *http.Client
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

// HTTPCall performs an HTTP request. URL, method, and header values are
// templates resolved against the run scope; the node's resolved input is
// sent as the JSON request body for methods that carry one. Responses with
// status >= 400 produce a failed result rather than an infrastructure error
// so error routing can inspect the output.
type HTTPCall struct {
	config   HTTPConfig
	resolver *expressions.Resolver
}

// NewHTTPCall creates the http_call node handler.
func NewHTTPCall(cfg HTTPConfig, resolver *expressions.Resolver) *HTTPCall {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if resolver == nil {
		resolver = expressions.NewResolver()
	}
	return &HTTPCall{config: cfg, resolver: resolver}
}

func (h *HTTPCall) Kind() schema.NodeKind { return schema.NodeKindHTTPCall }

func (h *HTTPCall) Validate(node workflow.Node) []string {
	rawURL := node.Config.URL
	if rawURL == "" {
		return []string{fmt.Sprintf("http_call node %q: missing required config 'url'", node.ID)}
	}
	// Templated URLs are only checkable at run time.
	if strings.Contains(rawURL, "{{") {
		return nil
	}
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return []string{fmt.Sprintf("http_call node %q: invalid url %q", node.ID, rawURL)}
	}
	return nil
}

func (h *HTTPCall) Execute(ctx context.Context, node workflow.Node, run *execution.Context, input map[string]any) (*Result, error) {
	scope := runScope(run)

	rawURL := h.resolver.Resolve(node.Config.URL, scope)
	if rawURL == "" {
		return Failf(schema.ErrCodeValidation, "http_call node %q: missing required config 'url'", node.ID), nil
	}
	if u, err := url.ParseRequestURI(rawURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Failf(schema.ErrCodeValidation, "http_call node %q: invalid url %q", node.ID, rawURL), nil
	}

	method := strings.ToUpper(node.Config.Method)
	if method == "" {
		method = http.MethodGet
	}

	timeout := h.config.DefaultTimeout
	if node.Config.TimeoutMs > 0 {
		timeout = time.Duration(node.Config.TimeoutMs) * time.Millisecond
	}

	var bodyReader io.Reader
	if len(input) > 0 && method != http.MethodGet && method != http.MethodHead {
		b, err := json.Marshal(input)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeExecution, "http_call: marshal request body").WithCause(err).WithNode(node.ID)
		}
		bodyReader = strings.NewReader(string(b))
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, bodyReader)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "http_call: build request").WithCause(err).WithNode(node.ID)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// Header values resolve templates so auth tokens can live in vars.
	for k, v := range node.Config.ExtraMap("headers") {
		req.Header.Set(k, h.resolver.Resolve(fmt.Sprintf("%v", v), scope))
	}

	start := time.Now()
	resp, err := h.config.Client.Do(req)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		return Failf(schema.ErrCodeExecution, "http_call node %q: request failed: %v", node.ID, err), nil
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, h.config.MaxResponseBody)
	bodyBytes, err := io.ReadAll(limited)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "http_call: read response body").WithCause(err).WithNode(node.ID)
	}

	contentType := resp.Header.Get("Content-Type")
	var parsedBody any
	switch {
	case len(bodyBytes) == 0:
		parsedBody = nil
	case strings.Contains(contentType, "application/json"):
		var jsonBody any
		if err := json.Unmarshal(bodyBytes, &jsonBody); err == nil {
			parsedBody = jsonBody
		} else {
			parsedBody = string(bodyBytes)
		}
	default:
		parsedBody = string(bodyBytes)
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	output := map[string]any{
		"status_code":  resp.StatusCode,
		"status":       resp.Status,
		"headers":      respHeaders,
		"body":         parsedBody,
		"content_type": contentType,
		"duration_ms":  durationMs,
	}

	if resp.StatusCode >= 400 {
		return &Result{
			Success:      false,
			Output:       output,
			ErrorCode:    schema.ErrCodeExecution,
			ErrorMessage: fmt.Sprintf("http_call node %q: server returned %d", node.ID, resp.StatusCode),
		}, nil
	}

	return OK(output), nil
}
