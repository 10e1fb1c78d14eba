package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	goahttp "goa.design/goa/v3/http"
)

// client calls the kotakwatch HTTP API.
type client struct {
	doer    goahttp.Doer
	base    *url.URL
	edgeKey string
	token   string
	debug   bool
	out     io.Writer
}

func newClient(rawURL, edgeKey, token string, timeout int, debug bool) (*client, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid URL %q", rawURL)
	}
	var (
		doer goahttp.Doer
	)
	{
		doer = &http.Client{Timeout: time.Duration(timeout) * time.Second}
		if debug {
			doer = goahttp.NewDebugDoer(doer)
		}
	}
	return &client{doer: doer, base: u, edgeKey: edgeKey, token: token, debug: debug, out: os.Stderr}, nil
}

// apiError is a non-2xx response.
type apiError struct {
	Status int
	Detail string
}

func (e *apiError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Detail)
}

// do sends body (if non-nil) as JSON and decodes the response into out.
func (c *client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.base.ResolveReference(&url.URL{Path: strings.TrimRight(c.base.Path, "/") + path})
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		if err := goahttp.RequestEncoder(req).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	if c.edgeKey != "" {
		req.Header.Set("X-Edge-Key", c.edgeKey)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.doer.Do(req)
	if c.debug {
		if dd, ok := c.doer.(goahttp.DebugDoer); ok {
			dd.Fprint(c.out)
		}
	}
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var eb struct {
			Detail string `json:"detail"`
		}
		goahttp.ResponseDecoder(resp).Decode(&eb)
		return &apiError{Status: resp.StatusCode, Detail: eb.Detail}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := goahttp.ResponseDecoder(resp).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
