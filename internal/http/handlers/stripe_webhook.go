package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/jmylchreest/postforge-api/internal/config"
)

// PrincipalMetadataKey is the Stripe metadata key carrying the principal ID.
const PrincipalMetadataKey = "principal_id"

// AllotmentResetter starts a new billing period for a principal.
type AllotmentResetter interface {
	ResetAllotment(ctx context.Context, principalID string, allotment, epoch int64) (bool, error)
}

// StripeWebhookHandler handles Stripe webhook events.
type StripeWebhookHandler struct {
	secret string
	quota  config.QuotaConfig
	ledger AllotmentResetter
	logger *slog.Logger
}

// NewStripeWebhookHandler creates a new Stripe webhook handler.
func NewStripeWebhookHandler(secret string, quota config.QuotaConfig, ledger AllotmentResetter, logger *slog.Logger) *StripeWebhookHandler {
	return &StripeWebhookHandler{
		secret: secret,
		quota:  quota,
		ledger: ledger,
		logger: logger.With("component", "stripe_webhook"),
	}
}

// HandleWebhook processes incoming Stripe webhooks.
// This is a raw HTTP handler since huma doesn't handle raw body verification well.
func (h *StripeWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	const maxBodySize = 65536 // 64KB

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.logger.Warn("failed to verify webhook signature", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	if err := h.handleEvent(r.Context(), event); err != nil {
		// Resets are idempotent per period, so let Stripe redeliver.
		h.logger.Error("failed to handle webhook event", "type", event.Type, "id", event.ID, "error", err)
		http.Error(w, "failed to handle event", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *StripeWebhookHandler) handleEvent(ctx context.Context, event stripe.Event) error {
	h.logger.Info("received Stripe webhook", "type", event.Type, "id", event.ID)

	switch event.Type {
	case "invoice.paid":
		return h.handleInvoicePaid(ctx, event)
	default:
		h.logger.Debug("unhandled webhook event type", "type", event.Type)
		return nil
	}
}

// handleInvoicePaid resets the principal's allotment for the paid period.
func (h *StripeWebhookHandler) handleInvoicePaid(ctx context.Context, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("failed to unmarshal invoice: %w", err)
	}

	principalID := invoicePrincipal(&invoice)
	if principalID == "" {
		h.logger.Warn("invoice missing principal ID", "invoice_id", invoice.ID)
		return nil
	}

	priceID, epoch := invoicePeriod(&invoice)
	allotment := h.quota.AllotmentFor(priceID)

	applied, err := h.ledger.ResetAllotment(ctx, principalID, allotment, epoch)
	if err != nil {
		return fmt.Errorf("failed to reset allotment: %w", err)
	}

	h.logger.Info("invoice processed",
		"principal_id", principalID,
		"invoice_id", invoice.ID,
		"price_id", priceID,
		"allotment", allotment,
		"epoch", epoch,
		"applied", applied,
	)
	return nil
}

// invoicePrincipal looks for the principal on the invoice, then its
// subscription, then its customer.
func invoicePrincipal(inv *stripe.Invoice) string {
	if id := inv.Metadata[PrincipalMetadataKey]; id != "" {
		return id
	}
	if inv.Subscription != nil {
		if id := inv.Subscription.Metadata[PrincipalMetadataKey]; id != "" {
			return id
		}
	}
	if inv.Customer != nil {
		if id := inv.Customer.Metadata[PrincipalMetadataKey]; id != "" {
			return id
		}
	}
	return ""
}

// invoicePeriod returns the first priced line's price and the start of the
// billed period, used as the allotment epoch.
func invoicePeriod(inv *stripe.Invoice) (priceID string, epoch int64) {
	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			if line == nil || line.Price == nil {
				continue
			}
			priceID = line.Price.ID
			if line.Period != nil && line.Period.Start > 0 {
				epoch = line.Period.Start
			}
			break
		}
	}
	if epoch == 0 {
		epoch = inv.PeriodStart
	}
	if epoch == 0 {
		epoch = inv.Created
	}
	return priceID, epoch
}
