package processor

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discuno/discuno-sub000/internal/domain"
)

func TestCreateTransferFormAndIdempotency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/transfers", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.Equal(t, "pay-1", r.Header.Get("Idempotency-Key"))

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "sk_test_1", user)
		assert.Empty(t, pass)

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "4500", r.PostForm.Get("amount"))
		assert.Equal(t, "usd", r.PostForm.Get("currency"))
		assert.Equal(t, "acct_m1", r.PostForm.Get("destination"))
		assert.Equal(t, "pay-1", r.PostForm.Get("metadata[payment_id]"))

		fmt.Fprint(w, `{"id": "tr_1"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test_1")
	tr, err := c.CreateTransfer(context.Background(), TransferInput{
		AmountMinor:    4500,
		Currency:       "USD",
		Destination:    "acct_m1",
		IdempotencyKey: "pay-1",
		Metadata:       map[string]string{"payment_id": "pay-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "tr_1", tr.ID)
}

func TestCreateCheckoutSessionLineItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "uid-1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "payment", r.PostForm.Get("mode"))
		assert.Equal(t, "5000", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
		assert.Equal(t, "usd", r.PostForm.Get("line_items[0][price_data][currency]"))
		assert.Equal(t, "Mentoring session", r.PostForm.Get("line_items[0][price_data][product_data][name]"))
		assert.Equal(t, "https://app.example/ok", r.PostForm.Get("success_url"))
		assert.Equal(t, "m1", r.PostForm.Get("metadata[mentor_id]"))

		fmt.Fprint(w, `{"id": "cs_1", "url": "https://checkout.example/cs_1", "payment_intent": "pi_1"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test_1")
	sess, err := c.CreateCheckoutSession(context.Background(), CheckoutInput{
		AmountMinor:    5000,
		Currency:       "USD",
		ProductName:    "Mentoring session",
		SuccessURL:     "https://app.example/ok",
		CancelURL:      "https://app.example/cancel",
		IdempotencyKey: "uid-1",
		Metadata:       map[string]string{"mentor_id": "m1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_1", sess.ID)
	assert.Equal(t, "pi_1", sess.PaymentIntent)
}

func TestCreateAccountRequestsTransfers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "express", r.PostForm.Get("type"))
		assert.Equal(t, "m1@example.com", r.PostForm.Get("email"))
		assert.Equal(t, "true", r.PostForm.Get("capabilities[transfers][requested]"))
		fmt.Fprint(w, `{"id": "acct_1", "charges_enabled": false, "payouts_enabled": false}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test_1")
	acc, err := c.CreateAccount(context.Background(), "m1@example.com", "US")
	require.NoError(t, err)
	assert.Equal(t, "acct_1", acc.ID)
	assert.False(t, acc.PayoutsEnabled)
}

func TestGetAccountCapabilities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/accounts/acct_1", r.URL.Path)
		fmt.Fprint(w, `{"id": "acct_1", "charges_enabled": true, "payouts_enabled": true}`)
	}))
	defer srv.Close()

	acc, err := NewClient(srv.URL, "sk_test_1").GetAccount(context.Background(), "acct_1")
	require.NoError(t, err)
	assert.True(t, acc.ChargesEnabled)
	assert.True(t, acc.PayoutsEnabled)
}

func TestCreateAccountSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/account_sessions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "acct_1", r.PostForm.Get("account"))
		assert.Equal(t, "true", r.PostForm.Get("components[account_onboarding][enabled]"))
		fmt.Fprint(w, `{"client_secret": "acs_secret"}`)
	}))
	defer srv.Close()

	sess, err := NewClient(srv.URL, "sk_test_1").CreateAccountSession(context.Background(), "acct_1")
	require.NoError(t, err)
	assert.Equal(t, "acs_secret", sess.ClientSecret)
}

func TestProcessorErrorSurfacesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(w, `{"error": {"message": "insufficient funds"}}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "sk_test_1").CreateTransfer(context.Background(), TransferInput{
		AmountMinor: 100, Currency: "usd", Destination: "acct_1", IdempotencyKey: "pay-x",
	})
	var perr *domain.ProcessorError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusPaymentRequired, perr.StatusCode)
	assert.Contains(t, perr.Body, "insufficient funds")
}
