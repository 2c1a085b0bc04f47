package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/discuno/discuno-sub000/internal/domain"
)

const providerName = "processor"

// Client calls the payment processor's REST API directly: form-encoded
// bodies, Basic Auth with the secret key, Idempotency-Key on state-mutating
// calls.
type Client struct {
	baseURL   string
	secretKey string
	hc        *http.Client
}

func NewClient(baseURL, secretKey string) *Client {
	return &Client{
		baseURL:   baseURL,
		secretKey: secretKey,
		hc:        &http.Client{Timeout: 15 * time.Second},
	}
}

type Account struct {
	ID             string `json:"id"`
	ChargesEnabled bool   `json:"charges_enabled"`
	PayoutsEnabled bool   `json:"payouts_enabled"`
}

type AccountSession struct {
	ClientSecret string `json:"client_secret"`
}

type CheckoutSession struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	PaymentIntent string `json:"payment_intent"`
}

type Transfer struct {
	ID string `json:"id"`
}

// CreateAccount provisions a connected account for mentor payouts.
func (c *Client) CreateAccount(ctx context.Context, email, country string) (*Account, error) {
	form := url.Values{}
	form.Set("type", "express")
	form.Set("email", email)
	form.Set("country", country)
	form.Set("capabilities[transfers][requested]", "true")

	var a Account
	if err := c.postForm(ctx, "/v1/accounts", form, "", &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAccount retrieves onboarding state; only the id and capability
// booleans are kept by callers.
func (c *Client) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/accounts/"+accountID, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.secretKey, "")
	res, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	raw, _ := io.ReadAll(res.Body)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &domain.ProcessorError{Provider: providerName, Op: "get-account", StatusCode: res.StatusCode, Body: string(raw)}
	}
	var a Account
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("parse account json: %w", err)
	}
	return &a, nil
}

// CreateAccountSession opens an embedded-onboarding session for a
// connected account.
func (c *Client) CreateAccountSession(ctx context.Context, accountID string) (*AccountSession, error) {
	form := url.Values{}
	form.Set("account", accountID)
	form.Set("components[account_onboarding][enabled]", "true")

	var s AccountSession
	if err := c.postForm(ctx, "/v1/account_sessions", form, "", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

type CheckoutInput struct {
	AmountMinor    int64
	Currency       string
	ProductName    string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
	Metadata       map[string]string
}

// CreateCheckoutSession creates a hosted checkout for one session charge.
func (c *Client) CreateCheckoutSession(ctx context.Context, in CheckoutInput) (*CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(in.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(in.AmountMinor, 10))
	form.Set("line_items[0][price_data][product_data][name]", in.ProductName)
	form.Set("success_url", in.SuccessURL)
	form.Set("cancel_url", in.CancelURL)
	for k, v := range in.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	var s CheckoutSession
	if err := c.postForm(ctx, "/v1/checkout/sessions", form, in.IdempotencyKey, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

type TransferInput struct {
	AmountMinor    int64
	Currency       string
	Destination    string // connected account id
	IdempotencyKey string
	Metadata       map[string]string
}

// CreateTransfer moves settled mentor fees to a connected account. The
// idempotency key makes at-least-once batch semantics safe on the
// processor side.
func (c *Client) CreateTransfer(ctx context.Context, in TransferInput) (*Transfer, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(in.AmountMinor, 10))
	form.Set("currency", strings.ToLower(in.Currency))
	form.Set("destination", in.Destination)
	for k, v := range in.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	var t Transfer
	if err := c.postForm(ctx, "/v1/transfers", form, in.IdempotencyKey, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, idemKey string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	req.SetBasicAuth(c.secretKey, "")

	res, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	raw, _ := io.ReadAll(res.Body)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &domain.ProcessorError{Provider: providerName, Op: "POST " + path, StatusCode: res.StatusCode, Body: string(raw)}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("parse %s response: %w", path, err)
	}
	return nil
}
