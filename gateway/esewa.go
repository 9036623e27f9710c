// Package gateway implements the eSewa ePay integration: building the signed
// redirect form a client submits to the gateway, and the server-to-server
// status lookup that is the only trusted source for a payment outcome.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

var (
	ErrNotConfigured = errors.New("gateway: merchant credentials not configured")
	// ErrTimeout marks a verification call that did not complete inside the
	// bounded window. Callers must treat it as "unknown", not as failed.
	ErrTimeout = errors.New("gateway: verification timed out")
)

// PaymentPayload is the redirect payload returned to the storefront. All
// three parts must be present; an incomplete payload is a build failure.
type PaymentPayload struct {
	PaymentURL string            `json:"paymentUrl"`
	FormData   map[string]string `json:"formData"`
	Signature  string            `json:"signature"`
}

// VerifyResult is the outcome of a server-to-server status lookup.
type VerifyResult struct {
	Verified bool
	Status   string
	RefID    string
	// Raw carries the gateway response body for audit metadata.
	Raw string
}

type Config struct {
	PaymentURL   string
	StatusURL    string
	MerchantCode string
	SecretKey    string
	SuccessURL   string
	FailureURL   string
	Timeout      time.Duration
}

// Client talks to the eSewa ePay API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

func (c *Client) Configured() bool {
	return c.cfg.MerchantCode != "" && c.cfg.SecretKey != ""
}

// VerifyCallbackSignature checks a signature carried by an inbound callback
// against the order's own locked amount and transaction.
func (c *Client) VerifyCallbackSignature(transactionUUID, productCode string, amount int64, signature string) bool {
	if !c.Configured() {
		return false
	}
	return VerifySignature(c.cfg.SecretKey, strconv.FormatInt(amount, 10), transactionUUID, productCode, signature)
}

// ProductCode returns the merchant product code used for a transaction.
// Card-hosted payments carry a distinct prefix on the same merchant code.
func (c *Client) ProductCode(method string) string {
	if method == "card" {
		return "CARD-" + c.cfg.MerchantCode
	}
	return c.cfg.MerchantCode
}

// BuildPayment constructs the signed redirect form for a transaction. The
// amount is the order's locked total in whole currency units.
func (c *Client) BuildPayment(transactionUUID, productCode string, amount int64) (*PaymentPayload, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if transactionUUID == "" || productCode == "" || amount <= 0 {
		return nil, fmt.Errorf("gateway: invalid payment parameters")
	}

	totalAmount := strconv.FormatInt(amount, 10)
	signature, err := Sign(c.cfg.SecretKey, totalAmount, transactionUUID, productCode)
	if err != nil {
		return nil, fmt.Errorf("gateway: signing failed: %w", err)
	}

	payload := &PaymentPayload{
		PaymentURL: c.cfg.PaymentURL,
		FormData: map[string]string{
			"amount":                  totalAmount,
			"tax_amount":              "0",
			"total_amount":            totalAmount,
			"transaction_uuid":        transactionUUID,
			"product_code":            productCode,
			"product_service_charge":  "0",
			"product_delivery_charge": "0",
			"success_url":             c.cfg.SuccessURL,
			"failure_url":             c.cfg.FailureURL,
			"signed_field_names":      "total_amount,transaction_uuid,product_code",
			"signature":               signature,
		},
		Signature: signature,
	}

	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return payload, nil
}

// Validate checks the payload shape before it is handed to a client.
func (p *PaymentPayload) Validate() error {
	if p.PaymentURL == "" || len(p.FormData) == 0 || p.Signature == "" {
		return fmt.Errorf("gateway: incomplete payment payload")
	}
	return nil
}

type statusResponse struct {
	Status          string      `json:"status"`
	RefID           string      `json:"ref_id"`
	TransactionUUID string      `json:"transaction_uuid"`
	TotalAmount     json.Number `json:"total_amount"`
}

// Verify performs the authoritative status lookup for a transaction. The
// amount passed here must be the order's locked amount, never a value taken
// from a callback.
func (c *Client) Verify(ctx context.Context, transactionUUID, productCode string, amount int64) (*VerifyResult, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	q := url.Values{}
	q.Set("product_code", productCode)
	q.Set("total_amount", strconv.FormatInt(amount, 10))
	q.Set("transaction_uuid", transactionUUID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.StatusURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded || isTimeout(err) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("gateway: status lookup failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("gateway: reading status response: %w", err)
	}

	// A non-200 answer is a gateway fault, not a verdict on the payment. The
	// outcome stays unknown, like a timeout.
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Gateway status lookup returned non-200",
			zap.Int("status_code", resp.StatusCode),
			zap.String("transaction_uuid", transactionUUID),
		)
		return nil, fmt.Errorf("gateway: status lookup returned %d", resp.StatusCode)
	}

	var sr statusResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, fmt.Errorf("gateway: malformed status response: %w", err)
	}

	result := &VerifyResult{
		Status: sr.Status,
		RefID:  sr.RefID,
		Raw:    string(raw),
	}

	// COMPLETE is the only verified state. The gateway must also echo the
	// transaction and amount we asked about.
	if sr.Status == "COMPLETE" && sr.TransactionUUID == transactionUUID {
		if claimed, err := sr.TotalAmount.Int64(); err == nil && claimed == amount {
			result.Verified = true
		}
	}
	return result, nil
}

func isTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
