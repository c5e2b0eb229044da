// Package storefront is a Go client for the storefront checkout API.
//
// A Session holds the bearer token for one signed-in customer. Every response
// that carries a fresh Authorization header replaces the stored token, and a
// 401 ends the session.
package storefront

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

	"github.com/google/uuid"

	pkgcheckout "github.com/willshop/storefront/pkg/checkout"
)

const (
	defaultTimeout       = 10 * time.Second
	errorBodyReadLimit   = 64 << 10
	authorizationHeader  = "Authorization"
	idempotencyKeyHeader = "Idempotency-Key"
	bearerPrefix         = "Bearer "
)

var (
	// ErrSessionExpired is returned once the API rejects the session token.
	ErrSessionExpired  = errors.New("storefront: session expired")
	// ErrNotLoggedIn is returned when a call needs a token and none is set.
	ErrNotLoggedIn     = errors.New("storefront: not logged in")
	errBaseURLRequired = errors.New("storefront: base url is required")
)

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("storefront: %d %s: %s", e.Status, e.Code, e.Message)
}

// Client sends requests to one storefront deployment.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errBaseURLRequired
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("storefront: parse base url: %w", err)
	}

	client := &Client{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Session carries the credentials of one customer across calls.
type Session struct {
	client *Client

	mu    sync.RWMutex
	token string
}

func (c *Client) NewSession() *Session {
	return &Session{client: c}
}

// Login starts the session with a token obtained from the identity provider.
func (s *Session) Login(token string) error {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), bearerPrefix))
	if token == "" {
		return ErrNotLoggedIn
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

// Logout forgets the token.
func (s *Session) Logout() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

// Token returns the current bearer token, empty when signed out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) LoggedIn() bool {
	return s.Token() != ""
}

type successEnvelope struct {
	Data json.RawMessage `json:"data"`
}

type errorEnvelope struct {
	Error struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

type requestOptions struct {
	auth    bool
	headers map[string]string
}

func (s *Session) do(ctx context.Context, method, path string, query url.Values, body any, out any, opts requestOptions) error {
	var token string
	if opts.auth {
		token = s.Token()
		if token == "" {
			return ErrNotLoggedIn
		}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("storefront: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	target := s.client.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("storefront: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(authorizationHeader, bearerPrefix+token)
	}
	for k, v := range opts.headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("storefront: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if opts.auth {
		if resp.StatusCode == http.StatusUnauthorized {
			s.expire(token)
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, errorBodyReadLimit))
			return ErrSessionExpired
		}
		s.refresh(token, resp.Header.Get(authorizationHeader))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	var envelope successEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("storefront: decode response: %w", err)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("storefront: decode data: %w", err)
	}
	return nil
}

// refresh swaps in a token the server re-issued, unless the session moved on
// to a different token while the request was in flight.
func (s *Session) refresh(sent, header string) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return
	}
	next := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	if next == "" {
		return
	}
	s.mu.Lock()
	if s.token == sent {
		s.token = next
	}
	s.mu.Unlock()
}

func (s *Session) expire(sent string) {
	s.mu.Lock()
	if s.token == sent {
		s.token = ""
	}
	s.mu.Unlock()
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var envelope errorEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Code != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.Details = envelope.Error.Details
	}
	return apiErr
}

// Receipt is the answer to a successful checkout.
type Receipt struct {
	OrderNo     string    `json:"order_no"`
	OrderID     uuid.UUID `json:"order_id"`
	TotalFee    string    `json:"total_fee"`
	TotalAmount int       `json:"total_amount"`
}

// Checkout commits the selections as one order. A non-empty idempotencyKey
// makes retries of the same call return the first receipt.
func (s *Session) Checkout(ctx context.Context, selections []pkgcheckout.Selection, idempotencyKey string) (*Receipt, error) {
	body := struct {
		Selections []pkgcheckout.Selection `json:"selections"`
	}{Selections: selections}
	if body.Selections == nil {
		body.Selections = []pkgcheckout.Selection{}
	}

	var receipt Receipt
	err := s.do(ctx, http.MethodPost, "/api/v1/orders", nil, body, &receipt, requestOptions{
		auth:    true,
		headers: map[string]string{idempotencyKeyHeader: idempotencyKey},
	})
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// OrderLine is one product on an order.
type OrderLine struct {
	ProductID      uuid.UUID `json:"product_id"`
	Amount         int       `json:"amount"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	UnitPrice      string    `json:"unit_price"`
	SubtotalCents  int64     `json:"subtotal_cents"`
	Subtotal       string    `json:"subtotal"`
}

type Order struct {
	ID            uuid.UUID   `json:"id"`
	OrderNo       string      `json:"order_no"`
	Status        string      `json:"status"`
	TotalFeeCents int64       `json:"total_fee_cents"`
	TotalFee      string      `json:"total_fee"`
	TotalAmount   int         `json:"total_amount"`
	CreatedAt     time.Time   `json:"created_at"`
	Lines         []OrderLine `json:"lines"`
}

type OrderPage struct {
	Orders     []Order `json:"orders"`
	NextCursor string  `json:"next_cursor,omitempty"`
}

// ListOrders returns one page of the customer's orders. An empty cursor
// starts from the newest order; limit zero uses the server default.
func (s *Session) ListOrders(ctx context.Context, cursor string, limit int) (*OrderPage, error) {
	var page OrderPage
	if err := s.do(ctx, http.MethodGet, "/api/v1/orders", pageQuery(cursor, limit), nil, &page, requestOptions{auth: true}); err != nil {
		return nil, err
	}
	return &page, nil
}

func (s *Session) GetOrder(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	var order Order
	if err := s.do(ctx, http.MethodGet, "/api/v1/orders/"+orderID.String(), nil, nil, &order, requestOptions{auth: true}); err != nil {
		return nil, err
	}
	return &order, nil
}

// CancelOrder deletes the order and returns the server's acknowledgement.
func (s *Session) CancelOrder(ctx context.Context, orderID uuid.UUID) (string, error) {
	var info struct {
		Info string `json:"info"`
	}
	if err := s.do(ctx, http.MethodDelete, "/api/v1/orders/"+orderID.String(), nil, nil, &info, requestOptions{auth: true}); err != nil {
		return "", err
	}
	return info.Info, nil
}

type Product struct {
	ID          uuid.UUID `json:"id"`
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	PriceCents  int64     `json:"price_cents"`
	Price       string    `json:"price"`
	CreatedAt   time.Time `json:"created_at"`
}

type ProductPage struct {
	Products   []Product `json:"products"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// ListProducts searches the public catalog. It works without a token.
func (s *Session) ListProducts(ctx context.Context, q, cursor string, limit int) (*ProductPage, error) {
	query := pageQuery(cursor, limit)
	if q = strings.TrimSpace(q); q != "" {
		query.Set("q", q)
	}
	var page ProductPage
	if err := s.do(ctx, http.MethodGet, "/api/v1/products", query, nil, &page, requestOptions{}); err != nil {
		return nil, err
	}
	return &page, nil
}

func pageQuery(cursor string, limit int) url.Values {
	query := url.Values{}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}
	return query
}
