// Package remote is the HTTP client for the bulk-SMS backend API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// DefaultTimeout is the per-request timeout applied by NewHTTPClient.
const DefaultTimeout = 10 * time.Second

// ErrOffline is returned when the backend cannot be reached at all.
var ErrOffline = errors.New("OFFLINE")

// APIError is a request the backend received and rejected.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: HTTP %d: %s", e.StatusCode, e.Message)
}

// Contact is a contact as the backend returns it.
type Contact struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewContact is the payload for creating a contact.
type NewContact struct {
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Source string `json:"source,omitempty"`
}

// Recipient is one addressee of an SMS send.
type Recipient struct {
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	ContactID string `json:"contactId,omitempty"`
}

// Client is the subset of the backend API the sync core depends on.
type Client interface {
	CreateContact(ctx context.Context, c NewContact) (*Contact, error)
	GetContacts(ctx context.Context) ([]Contact, error)
	DeleteContact(ctx context.Context, id string) error
	BulkCreateContacts(ctx context.Context, cs []NewContact) ([]Contact, error)
}

// HTTPClient talks to the backend over JSON/HTTP.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithBaseURL sets the API root, e.g. http://host:4000/api.
func WithBaseURL(u string) Option {
	return func(c *HTTPClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithToken sets the bearer token sent with each request.
func WithToken(token string) Option {
	return func(c *HTTPClient) { c.token = token }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) { c.httpClient.Timeout = d }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.httpClient = hc }
}

// NewHTTPClient creates a backend client.
func NewHTTPClient(opts ...Option) *HTTPClient {
	c := &HTTPClient{
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the bearer token, e.g. after OTP verification.
func (c *HTTPClient) SetToken(token string) {
	c.token = token
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var e struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &e) == nil {
			apiErr.Message = e.Error
			if apiErr.Message == "" {
				apiErr.Message = e.Message
			}
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// classify maps failures to reach the server at all (dial, DNS, refused or
// reset connections) to ErrOffline. Timeouts stay generic since the server
// may have received the request, and so do TLS and malformed-URL errors,
// which are configuration problems.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request failed: %w", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("request failed: %w", err)
	}
	if unreachable(err) {
		return fmt.Errorf("%w: %v", ErrOffline, err)
	}
	return fmt.Errorf("request failed: %w", err)
}

func unreachable(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// CreateContact creates a contact on the backend.
func (c *HTTPClient) CreateContact(ctx context.Context, nc NewContact) (*Contact, error) {
	var resp struct {
		Contact Contact `json:"contact"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/contacts", nc, &resp); err != nil {
		return nil, err
	}
	if resp.Contact.ID == "" {
		return nil, fmt.Errorf("create contact: response has no contact id")
	}
	return &resp.Contact, nil
}

// GetContacts returns every contact the backend holds for the caller.
func (c *HTTPClient) GetContacts(ctx context.Context) ([]Contact, error) {
	var resp struct {
		Contacts []Contact `json:"contacts"`
	}
	if err := c.do(ctx, http.MethodGet, "/auth/contacts", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Contacts, nil
}

// DeleteContact deletes a contact on the backend.
func (c *HTTPClient) DeleteContact(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/auth/contacts/"+url.PathEscape(id), nil, nil)
}

// BulkCreateContacts creates several contacts in one request.
func (c *HTTPClient) BulkCreateContacts(ctx context.Context, cs []NewContact) ([]Contact, error) {
	var resp struct {
		Contacts []Contact `json:"contacts"`
	}
	payload := map[string]any{"contacts": cs}
	if err := c.do(ctx, http.MethodPost, "/auth/contacts/bulk", payload, &resp); err != nil {
		return nil, err
	}
	return resp.Contacts, nil
}

// SendSMS asks the backend to deliver message to recipients.
func (c *HTTPClient) SendSMS(ctx context.Context, message string, recipients []Recipient) error {
	payload := map[string]any{
		"message":    message,
		"recipients": recipients,
	}
	return c.do(ctx, http.MethodPost, "/auth/send-sms", payload, nil)
}

// Batch is one queued message addressed to its resolved recipients.
type Batch struct {
	ID         string      `json:"batchId"`
	UserID     string      `json:"userId"`
	Message    string      `json:"message"`
	Recipients []Recipient `json:"recipients"`
}

// Ready always succeeds: reachability of the API host is tracked by the
// network monitor, and each request is classified on its own.
func (c *HTTPClient) Ready(context.Context) error {
	return nil
}

// SendBatch delivers a queued batch through the send-sms endpoint.
func (c *HTTPClient) SendBatch(ctx context.Context, b Batch) error {
	return c.SendSMS(ctx, b.Message, b.Recipients)
}
