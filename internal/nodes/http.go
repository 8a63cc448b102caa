package nodes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/flowgrid/internal/ctxlog"
	"github.com/specialistvlad/flowgrid/internal/expr"
)

// HTTPConfig performs one outbound HTTP request. URL, header values and the
// body are templates rendered against the pool.
type HTTPConfig struct {
	Method         string            `json:"method"`
	URL            string            `json:"url"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           string            `json:"body,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	Retry          *RetryConfig      `json:"retry,omitempty"`
}

// Validate implements Config.
func (c *HTTPConfig) Validate() error {
	switch strings.ToUpper(c.Method) {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead:
	case "":
		return fmt.Errorf("method is required")
	default:
		return fmt.Errorf("unsupported method %q", c.Method)
	}
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	if err := expr.CheckTemplate(c.URL); err != nil {
		return err
	}
	for name, tmpl := range c.Headers {
		if err := expr.CheckTemplate(tmpl); err != nil {
			return fmt.Errorf("header %q: %w", name, err)
		}
	}
	if c.Body != "" {
		if err := expr.CheckTemplate(c.Body); err != nil {
			return fmt.Errorf("body: %w", err)
		}
	}
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout_seconds must not be negative")
	}
	return c.Retry.validate()
}

// RetryPolicy implements Fallible.
func (c *HTTPConfig) RetryPolicy() *RetryConfig { return c.Retry }

func runHTTP(ctx context.Context, req *Request) (*Response, error) {
	cfg := req.Config.(*HTTPConfig)
	logger := ctxlog.FromContext(ctx)

	url, err := expr.EvalTemplate(cfg.URL, req.Pool)
	if err != nil {
		return nil, fmt.Errorf("rendering url: %w", err)
	}
	var body io.Reader
	if cfg.Body != "" {
		rendered, err := expr.EvalTemplate(cfg.Body, req.Pool)
		if err != nil {
			return nil, fmt.Errorf("rendering body: %w", err)
		}
		body = strings.NewReader(rendered)
	}

	if cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, strings.ToUpper(cfg.Method), url, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for name, tmpl := range cfg.Headers {
		rendered, err := expr.EvalTemplate(tmpl, req.Pool)
		if err != nil {
			return nil, fmt.Errorf("rendering header %q: %w", name, err)
		}
		httpReq.Header.Set(name, rendered)
	}

	logger.Debug("Making HTTP request.", "method", httpReq.Method, "url", url)
	resp, err := req.Caps.HTTPClient().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	logger.Debug("Received HTTP response.", "status", resp.Status)

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("request to %s returned status %d", url, resp.StatusCode)
	}

	return &Response{Outputs: map[string]cty.Value{
		"status_code": cty.NumberIntVal(int64(resp.StatusCode)),
		"body":        cty.StringVal(string(respBody)),
		"headers":     headerValues(resp.Header),
	}}, nil
}

func headerValues(h http.Header) cty.Value {
	if len(h) == 0 {
		return cty.EmptyObjectVal
	}
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	attrs := make(map[string]cty.Value, len(names))
	for _, name := range names {
		attrs[name] = cty.StringVal(h.Get(name))
	}
	return cty.ObjectVal(attrs)
}
