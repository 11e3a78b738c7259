package integrity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// DefaultOracleTimeout bounds a single oracle request.
const DefaultOracleTimeout = 10 * time.Second

// verdictFields lists the response fields read for the verdict, in order.
// The first one present decides.
var verdictFields = []string{"integrity", "Integrity", "INTEGRITY"}

// maxOracleBody caps how much of an oracle response is read.
const maxOracleBody = 1 << 16

// OracleClient asks a remote integrity oracle for a verdict.
type OracleClient struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
}

// OracleOption configures an OracleClient.
type OracleOption func(*OracleClient)

// WithHTTPClient replaces the default client (which has a 10s timeout).
func WithHTTPClient(hc *http.Client) OracleOption {
	return func(c *OracleClient) { c.httpClient = hc }
}

// NewOracleClient creates a client for the oracle at url.
func NewOracleClient(url string, logger *zap.Logger, opts ...OracleOption) *OracleClient {
	c := &OracleClient{
		url:        url,
		httpClient: &http.Client{Timeout: DefaultOracleTimeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check implements Prober. Transport errors, non-2xx responses, undecodable
// bodies and missing or unreadable verdict fields all yield StatusUnknown.
func (c *OracleClient) Check(ctx context.Context) Report {
	r := c.check(ctx)
	if r.Err != nil {
		c.logger.Debug("oracle check failed", zap.String("url", c.url), zap.Error(r.Err))
	}
	return r
}

func (c *OracleClient) check(ctx context.Context) Report {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return unknown(fmt.Errorf("build oracle request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return unknown(fmt.Errorf("oracle request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxOracleBody))
	if err != nil {
		return unknown(fmt.Errorf("read oracle response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Report{
			Status:  StatusUnknown,
			Details: jsonOrNil(body),
			Err:     fmt.Errorf("oracle returned HTTP %d", resp.StatusCode),
		}
	}

	status, err := ParseOracleBody(body)
	if err != nil {
		return Report{Status: StatusUnknown, Details: jsonOrNil(body), Err: err}
	}
	return Report{Status: status, Details: json.RawMessage(bytes.TrimSpace(body))}
}

// ParseOracleBody reads the verdict from an oracle response body. The
// value may be a JSON boolean or a string accepted by strconv.ParseBool.
func ParseOracleBody(body []byte) (Status, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return StatusUnknown, fmt.Errorf("decode oracle response: %w", err)
	}

	for _, name := range verdictFields {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		ok, err := parseVerdict(raw)
		if err != nil {
			return StatusUnknown, fmt.Errorf("oracle field %q: %w", name, err)
		}
		if ok {
			return StatusValid, nil
		}
		return StatusInvalid, nil
	}
	return StatusUnknown, fmt.Errorf("oracle response has no verdict field")
}

func parseVerdict(raw json.RawMessage) (bool, error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false, fmt.Errorf("verdict must be a boolean or string, got %s", raw)
	}
	return strconv.ParseBool(s)
}

func unknown(err error) Report {
	return Report{Status: StatusUnknown, Err: err}
}

func jsonOrNil(body []byte) json.RawMessage {
	body = bytes.TrimSpace(body)
	if !json.Valid(body) {
		return nil
	}
	return json.RawMessage(body)
}
