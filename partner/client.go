/*
Package partner is the HTTP client for the invoice-factoring partner.

PURPOSE:
  Typed request/response values for the three partner calls the payment
  engine needs. No loosely typed maps cross this boundary.

ENDPOINTS:
  POST /v1/credit-checks     debtor credit figures
  POST /v1/billing-requests  register worked hours, returns a request id
  POST /v1/direct-payments   ask for same-day release of funds

ERROR MAPPING:
  documented "rejected" status or 4xx on billing  -> ErrRejected
  transport error, timeout, 5xx, 408, 429         -> ErrUnavailable
  undecodable body or undocumented status         -> ErrUnavailable

  Every call is bounded by the client's timeout.
*/
package partner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	creditChecksPath    = "/v1/credit-checks"
	billingRequestsPath = "/v1/billing-requests"
	directPaymentsPath  = "/v1/direct-payments"

	defaultTimeout = 10 * time.Second
	maxErrorBody   = 4 << 10
)

var (
	// ErrUnavailable means the partner could not give a usable answer.
	ErrUnavailable = errors.New("payment partner unavailable")

	// ErrRejected means the partner refused the request.
	ErrRejected = errors.New("payment partner rejected request")
)

// Error carries the details of a failed partner call.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("partner %s: status %d: %s: %v", e.Op, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("partner %s: %s: %v", e.Op, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client talks to the partner API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTimeout bounds every call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// NewClient creates a partner client for baseURL authenticating with apiKey.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckCredit returns the debtor's credit figures. Any failure is
// ErrUnavailable; an ineligible debtor is a successful answer.
func (c *Client) CheckCredit(ctx context.Context, req CreditCheckRequest) (CreditCheckResponse, error) {
	const op = "credit check"
	var resp CreditCheckResponse
	if status, msg, err := c.do(ctx, op, creditChecksPath, req, &resp); err != nil {
		return CreditCheckResponse{}, unavailable(op, status, msg, err)
	}
	switch resp.Status {
	case CreditStatusOK, CreditStatusBlocked:
		return resp, nil
	default:
		return CreditCheckResponse{}, unavailable(op, http.StatusOK, "unrecognised status "+quote(resp.Status), nil)
	}
}

// CreateBillingRequest registers worked hours and returns the partner's
// request id.
func (c *Client) CreateBillingRequest(ctx context.Context, req BillingRequest) (BillingResponse, error) {
	const op = "billing request"
	var resp BillingResponse
	status, msg, err := c.do(ctx, op, billingRequestsPath, req, &resp)
	if err != nil {
		if isRejection(status) {
			return BillingResponse{}, &Error{Op: op, StatusCode: status, Message: msg, Err: ErrRejected}
		}
		return BillingResponse{}, unavailable(op, status, msg, err)
	}
	switch resp.Status {
	case BillingStatusAccepted:
		if resp.ID == "" {
			return BillingResponse{}, unavailable(op, status, "accepted without request id", nil)
		}
		return resp, nil
	case BillingStatusRejected:
		return BillingResponse{}, &Error{Op: op, StatusCode: status, Message: resp.Reason, Err: ErrRejected}
	default:
		return BillingResponse{}, unavailable(op, status, "unrecognised status "+quote(resp.Status), nil)
	}
}

// RequestDirectPayment asks the partner to pay the merchant now. A decline is
// a successful answer; check Approved on the response.
func (c *Client) RequestDirectPayment(ctx context.Context, req DirectPaymentRequest) (DirectPaymentResponse, error) {
	const op = "direct payment"
	var resp DirectPaymentResponse
	if status, msg, err := c.do(ctx, op, directPaymentsPath, req, &resp); err != nil {
		return DirectPaymentResponse{}, unavailable(op, status, msg, err)
	}
	switch resp.Status {
	case PaymentStatusApproved, PaymentStatusDeclined:
		return resp, nil
	default:
		return DirectPaymentResponse{}, unavailable(op, http.StatusOK, "unrecognised status "+quote(resp.Status), nil)
	}
}

// do posts body as JSON and decodes a 2xx answer into out. On failure it
// returns the HTTP status (0 if none) and a message for the error.
func (c *Client) do(ctx context.Context, op, path string, body, out any) (int, string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, "marshal request", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, "build request", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return 0, "send request", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var eb errorBody
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &eb) == nil && eb.Error.Message != "" {
			msg = eb.Error.Message
		}
		return resp.StatusCode, msg, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, "decode response", err
	}
	return resp.StatusCode, "", nil
}

// isRejection reports whether an HTTP status means the partner looked at the
// request and refused it, as opposed to not being able to answer.
func isRejection(status int) bool {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return false
	}
	return status >= 400 && status < 500 &&
		status != http.StatusUnauthorized && status != http.StatusForbidden
}

func unavailable(op string, status int, msg string, cause error) error {
	if cause == nil {
		cause = ErrUnavailable
	} else {
		cause = fmt.Errorf("%w: %v", ErrUnavailable, cause)
	}
	return &Error{Op: op, StatusCode: status, Message: msg, Err: cause}
}

func quote(s string) string {
	return fmt.Sprintf("%q", s)
}
