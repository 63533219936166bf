package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/jmylchreest/postforge-api/internal/config"
)

const testWebhookSecret = "whsec_test"

type resetCall struct {
	principal string
	allotment int64
	epoch     int64
}

type mockResetter struct {
	calls []resetCall
	err   error
}

func (m *mockResetter) ResetAllotment(ctx context.Context, principalID string, allotment, epoch int64) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	m.calls = append(m.calls, resetCall{principalID, allotment, epoch})
	return true, nil
}

func newWebhookHandler(ledger AllotmentResetter) *StripeWebhookHandler {
	quota := config.QuotaConfig{
		DefaultAllotment: 1000,
		PlanAllotments:   map[string]int64{"price_pro": 50000},
	}
	return NewStripeWebhookHandler(testWebhookSecret, quota, ledger, discardLogger())
}

func signedRequest(t *testing.T, payload []byte) *http.Request {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

const invoicePaidEvent = `{
  "id": "evt_1",
  "object": "event",
  "type": "invoice.paid",
  "data": {"object": {
    "id": "in_1",
    "object": "invoice",
    "created": 1767225600,
    "period_start": 1767225000,
    "metadata": {"principal_id": "user_42"},
    "lines": {"object": "list", "data": [
      {"id": "il_1", "object": "line_item", "price": {"id": "price_pro", "object": "price"}, "period": {"start": 1767225600, "end": 1769904000}}
    ]}
  }}
}`

// ========================================
// StripeWebhookHandler Tests
// ========================================

func TestStripeWebhook_InvoicePaid(t *testing.T) {
	ledger := &mockResetter{}
	h := newWebhookHandler(ledger)

	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, signedRequest(t, []byte(invoicePaidEvent)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if len(ledger.calls) != 1 {
		t.Fatalf("ResetAllotment calls = %d, want 1", len(ledger.calls))
	}
	got := ledger.calls[0]
	if got.principal != "user_42" || got.allotment != 50000 || got.epoch != 1767225600 {
		t.Errorf("call = %+v, want user_42/50000/1767225600", got)
	}
}

func TestStripeWebhook_BadSignature(t *testing.T) {
	ledger := &mockResetter{}
	h := newWebhookHandler(ledger)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader([]byte(invoicePaidEvent)))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if len(ledger.calls) != 0 {
		t.Errorf("ResetAllotment called %d times, want 0", len(ledger.calls))
	}
}

func TestStripeWebhook_LedgerFailureAsksForRedelivery(t *testing.T) {
	h := newWebhookHandler(&mockResetter{err: errors.New("db down")})

	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, signedRequest(t, []byte(invoicePaidEvent)))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestStripeWebhook_IgnoresOtherEvents(t *testing.T) {
	ledger := &mockResetter{}
	h := newWebhookHandler(ledger)

	payload := []byte(`{"id":"evt_2","object":"event","type":"customer.created","data":{"object":{}}}`)
	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, signedRequest(t, payload))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if len(ledger.calls) != 0 {
		t.Errorf("ResetAllotment called %d times, want 0", len(ledger.calls))
	}
}

func TestInvoicePrincipal(t *testing.T) {
	tests := []struct {
		name string
		inv  stripe.Invoice
		want string
	}{
		{"invoice metadata", stripe.Invoice{Metadata: map[string]string{PrincipalMetadataKey: "a"}}, "a"},
		{"subscription metadata", stripe.Invoice{Subscription: &stripe.Subscription{Metadata: map[string]string{PrincipalMetadataKey: "b"}}}, "b"},
		{"customer metadata", stripe.Invoice{Customer: &stripe.Customer{Metadata: map[string]string{PrincipalMetadataKey: "c"}}}, "c"},
		{"none", stripe.Invoice{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := invoicePrincipal(&tt.inv); got != tt.want {
				t.Errorf("invoicePrincipal() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInvoicePeriod_Fallbacks(t *testing.T) {
	price, epoch := invoicePeriod(&stripe.Invoice{PeriodStart: 100, Created: 200})
	if price != "" || epoch != 100 {
		t.Errorf("invoicePeriod() = %q, %d, want \"\", 100", price, epoch)
	}
	_, epoch = invoicePeriod(&stripe.Invoice{Created: 200})
	if epoch != 200 {
		t.Errorf("epoch = %d, want 200", epoch)
	}
}
