package publishing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const maxErrorBody = 4 << 10

// Doer is the HTTP client adapters send requests through.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultHTTPClient is used by adapters constructed without a client.
func DefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// Call describes one JSON API request.
type Call struct {
	Op     string
	Method string
	URL    string
	Header http.Header
	Body   any
	Out    any
}

// DoJSON sends c and decodes a 2xx response into c.Out. Non-2xx responses
// become PlatformRejected with the body verbatim; transport errors become
// PlatformUnreachable. The status code is returned whenever a response
// arrived.
func DoJSON(ctx context.Context, client Doer, c Call) (int, error) {
	var body io.Reader
	if c.Body != nil {
		raw, err := json.Marshal(c.Body)
		if err != nil {
			return 0, fmt.Errorf("%s: encode body: %w", c.Op, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, c.Method, c.URL, body)
	if err != nil {
		return 0, fmt.Errorf("%s: build request: %w", c.Op, err)
	}
	for k, vals := range c.Header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if c.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, Unreachable(c.Op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, Rejected(c.Op, resp.StatusCode, string(raw))
	}
	if c.Out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(c.Out); err != nil && err != io.EOF {
		return resp.StatusCode, Unreachable(c.Op, fmt.Errorf("decode response: %w", err))
	}
	return resp.StatusCode, nil
}

// FormatID renders a JSON id that may arrive as a number or a string.
func FormatID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case json.Number:
		return id.String()
	default:
		return fmt.Sprint(id)
	}
}
