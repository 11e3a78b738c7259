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
	"sync"
	"time"
)

// ErrNotFound is returned when the server answers 404.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error %d: %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Code)
}

// IsViolation reports whether err is a refusal because the chain failed
// verification.
func IsViolation(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == "integrity_violation"
}

// IsIndeterminate reports whether err is a refusal because the server could
// not reach an integrity verdict.
func IsIndeterminate(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == "integrity_indeterminate"
}

// Document is a chain record as served by the API.
type Document struct {
	ID          string          `json:"id"`
	Sequence    int64           `json:"sequence"`
	PrevHash    string          `json:"prev_hash"`
	Hash        string          `json:"hash"`
	Payload     json.RawMessage `json:"payload"`
	PayloadKind string          `json:"payload_kind"`
	Timestamp   time.Time       `json:"timestamp"`
}

// IsSentinel reports whether d is the placeholder a lenient server returns
// instead of real records while the chain is compromised.
func (d *Document) IsSentinel() bool {
	return d.ID == "TAMPERED" && d.Sequence == -1
}

// ChainInfo is the ungated chain overview.
type ChainInfo struct {
	Records int    `json:"records"`
	Head    string `json:"head"`
}

// Verdict is the local verification result served by /chain/verify.
type Verdict struct {
	Integrity bool   `json:"Integrity"`
	Message   string `json:"message"`
	Sequence  *int64 `json:"sequence,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Records   int    `json:"records"`
}

// CheckResult is the outcome of an on-demand integrity check. Status is
// VALID, COMPROMISED or ERROR.
type CheckResult struct {
	Status         string          `json:"status"`
	AlertSent      bool            `json:"alertSent"`
	RecipientCount int             `json:"recipientCount,omitempty"`
	Details        json.RawMessage `json:"details,omitempty"`
	Message        string          `json:"message,omitempty"`
}

// RecipientsResult is the response of the recipient mutation routes.
type RecipientsResult struct {
	Success    bool     `json:"success"`
	Message    string   `json:"message"`
	Recipients []string `json:"recipients"`
}

// Client is the document chain SDK entry point.
type Client struct {
	base        string
	httpClient  *http.Client
	bearerToken string
	cache       *documentCache
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a token to every request. Mutating routes
// require one when the server has auth enabled.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithCacheTTL caches documents fetched by id for ttl. Records are
// immutable, so a cached copy is only stale with respect to later gate
// verdicts.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		if ttl <= 0 {
			return fmt.Errorf("cache ttl must be positive, got %s", ttl)
		}
		c.cache = newDocumentCache(ttl)
		return nil
	}
}

// New creates a Client for the server at base.
func New(base string, opts ...Option) (*Client, error) {
	if base == "" {
		return nil, errors.New("server URL is required")
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// ── Documents ─────────────────────────────────────────────────────────────

// AppendDocument appends data, which must marshal to a JSON string, number
// or object.
func (c *Client) AppendDocument(ctx context.Context, data any) (*Document, error) {
	var doc Document
	if err := c.call(ctx, http.MethodPost, "/api/v1/documents", map[string]any{"data": data}, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListDocuments returns every document.
func (c *Client) ListDocuments(ctx context.Context) ([]Document, error) {
	return c.documents(ctx, "/api/v1/documents")
}

// DocumentsByType returns object documents whose dataType field equals dataType.
func (c *Client) DocumentsByType(ctx context.Context, dataType string) ([]Document, error) {
	return c.documents(ctx, "/api/v1/documents/type/"+url.PathEscape(dataType))
}

// DocumentsByIdentifier returns object documents whose identifier field
// equals identifier.
func (c *Client) DocumentsByIdentifier(ctx context.Context, identifier string) ([]Document, error) {
	return c.documents(ctx, "/api/v1/documents/identifier/"+url.PathEscape(identifier))
}

// GetDocument fetches a document by id.
func (c *Client) GetDocument(ctx context.Context, id string) (*Document, error) {
	if c.cache != nil {
		if d, ok := c.cache.get(id); ok {
			return d, nil
		}
	}

	var doc Document
	if err := c.call(ctx, http.MethodGet, "/api/v1/documents/"+url.PathEscape(id), nil, &doc); err != nil {
		return nil, err
	}
	if c.cache != nil && !doc.IsSentinel() {
		c.cache.set(id, &doc)
	}
	return &doc, nil
}

// LatestDocument returns the chain head.
func (c *Client) LatestDocument(ctx context.Context) (*Document, error) {
	var doc Document
	if err := c.call(ctx, http.MethodGet, "/api/v1/documents/latest", nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *Client) documents(ctx context.Context, path string) ([]Document, error) {
	var wrapper struct {
		Documents []Document `json:"documents"`
	}
	if err := c.call(ctx, http.MethodGet, path, nil, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Documents, nil
}

// ── Chain ─────────────────────────────────────────────────────────────────

// Chain returns the record count and head hash.
func (c *Client) Chain(ctx context.Context) (*ChainInfo, error) {
	var info ChainInfo
	if err := c.call(ctx, http.MethodGet, "/api/v1/chain", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Verify asks the server to verify its chain from genesis.
func (c *Client) Verify(ctx context.Context) (*Verdict, error) {
	var v Verdict
	if err := c.call(ctx, http.MethodGet, "/api/v1/chain/verify", nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ── Integrity ─────────────────────────────────────────────────────────────

// Check runs an on-demand integrity check, alerting recipients when the
// chain is compromised. An ERROR result is returned without an error.
func (c *Client) Check(ctx context.Context) (*CheckResult, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/integrity/check", nil)
	if err != nil {
		return nil, err
	}
	status, body, err := c.doStatusBody(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusServiceUnavailable {
		return nil, apiError(status, body)
	}

	var res CheckResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode check response: %w", err)
	}
	return &res, nil
}

// Status returns the monitor's last-known status: valid, invalid or unknown.
func (c *Client) Status(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/integrity/status", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// ── Recipients ────────────────────────────────────────────────────────────

// ListRecipients returns the registered alert recipients.
func (c *Client) ListRecipients(ctx context.Context) ([]string, error) {
	var resp struct {
		Recipients []string `json:"recipients"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/recipients", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Recipients, nil
}

// AddRecipient registers email for integrity alerts.
func (c *Client) AddRecipient(ctx context.Context, email string) (*RecipientsResult, error) {
	var res RecipientsResult
	if err := c.call(ctx, http.MethodPost, "/api/v1/recipients", map[string]string{"email": email}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// RemoveRecipient unregisters email. It returns ErrNotFound when email was
// not registered.
func (c *Client) RemoveRecipient(ctx context.Context, email string) (*RecipientsResult, error) {
	var res RecipientsResult
	if err := c.call(ctx, http.MethodDelete, "/api/v1/recipients/"+url.PathEscape(email), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SendTestEmail asks the server to mail a test message to email.
func (c *Client) SendTestEmail(ctx context.Context, email string) error {
	return c.call(ctx, http.MethodPost, "/api/v1/recipients/test", map[string]string{"email": email}, nil)
}

// ── Transport ─────────────────────────────────────────────────────────────

func (c *Client) newRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// call sends in as JSON and decodes a 2xx response into out. out may be nil.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	req, err := c.newRequest(ctx, method, path, in)
	if err != nil {
		return err
	}
	body, err := c.do(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do executes an HTTP request, attaching the Bearer token if present.
func (c *Client) do(req *http.Request) ([]byte, error) {
	status, body, err := c.doStatusBody(req)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, req.URL.Path)
	}
	if status >= 300 {
		return nil, apiError(status, body)
	}
	return body, nil
}

// doStatusBody returns (statusCode, body, error) without failing on 4xx
// and 5xx responses.
func (c *Client) doStatusBody(req *http.Request) (int, []byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func apiError(status int, body []byte) *APIError {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err != nil || (e.Error == "" && e.Message == "") {
		return &APIError{StatusCode: status, Code: http.StatusText(status), Message: strings.TrimSpace(string(body))}
	}
	if e.Error == "" {
		e.Error = http.StatusText(status)
	}
	return &APIError{StatusCode: status, Code: e.Error, Message: e.Message}
}

// --- simple in-memory document cache ---

type cacheEntry struct {
	doc       *Document
	expiresAt time.Time
}

type documentCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

func newDocumentCache(ttl time.Duration) *documentCache {
	return &documentCache{entries: make(map[string]*cacheEntry), ttl: ttl}
}

func (dc *documentCache) get(id string) (*Document, bool) {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	e, ok := dc.entries[id]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.doc, true
}

func (dc *documentCache) set(id string, doc *Document) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.entries[id] = &cacheEntry{doc: doc, expiresAt: time.Now().Add(dc.ttl)}
}
