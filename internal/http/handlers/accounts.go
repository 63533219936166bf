package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmylchreest/postforge-api/internal/logging"
	"github.com/jmylchreest/postforge-api/internal/models"
	"github.com/jmylchreest/postforge-api/internal/service"
)

// AccountStore manages destination credentials.
type AccountStore interface {
	Save(ctx context.Context, ownerID string, in service.AccountInput) (*models.DestinationAccount, error)
	List(ctx context.Context, ownerID string) ([]*models.DestinationAccount, error)
	Delete(ctx context.Context, ownerID string, dest models.Destination) error
}

// AccountsHandler handles destination account endpoints.
type AccountsHandler struct {
	svc    AccountStore
	logger *slog.Logger
}

// NewAccountsHandler creates a new accounts handler.
func NewAccountsHandler(svc AccountStore, logger *slog.Logger) *AccountsHandler {
	return &AccountsHandler{svc: svc, logger: logger}
}

// ListAccountsOutput represents the owner's connected accounts. Tokens are
// never returned.
type ListAccountsOutput struct {
	Body struct {
		Accounts []*models.DestinationAccount `json:"accounts"`
	}
}

// List handles GET /api/v1/accounts.
func (h *AccountsHandler) List(ctx context.Context, input *struct{}) (*ListAccountsOutput, error) {
	owner, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	accounts, err := h.svc.List(ctx, owner)
	if err != nil {
		return nil, h.fail(ctx, "account list failed", err)
	}
	out := &ListAccountsOutput{}
	out.Body.Accounts = accounts
	if out.Body.Accounts == nil {
		out.Body.Accounts = []*models.DestinationAccount{}
	}
	return out, nil
}

// DestinationPath identifies one destination account.
type DestinationPath struct {
	Destination string `path:"destination" enum:"facebook,instagram,tiktok"`
}

// SaveAccountInput stores credentials for a destination.
type SaveAccountInput struct {
	DestinationPath
	Body struct {
		AccountID   string     `json:"account_id" minLength:"1" doc:"Page, business account, or creator ID on the platform"`
		AccountName string     `json:"account_name,omitempty"`
		AccessToken string     `json:"access_token" minLength:"1" doc:"Platform access token; stored encrypted"`
		ExpiresAt   *time.Time `json:"expires_at,omitempty" doc:"Token expiry, if known"`
	}
}

// AccountOutput wraps one account.
type AccountOutput struct {
	Body *models.DestinationAccount
}

// Save handles PUT /api/v1/accounts/{destination}.
func (h *AccountsHandler) Save(ctx context.Context, input *SaveAccountInput) (*AccountOutput, error) {
	owner, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	account, err := h.svc.Save(ctx, owner, service.AccountInput{
		Destination: models.Destination(input.Destination),
		AccountID:   input.Body.AccountID,
		AccountName: input.Body.AccountName,
		AccessToken: input.Body.AccessToken,
		ExpiresAt:   input.Body.ExpiresAt,
	})
	if err != nil {
		return nil, h.fail(ctx, "account save failed", err)
	}
	return &AccountOutput{Body: account}, nil
}

// DeleteAccountInput removes a destination account.
type DeleteAccountInput struct {
	DestinationPath
}

// Delete handles DELETE /api/v1/accounts/{destination}.
func (h *AccountsHandler) Delete(ctx context.Context, input *DeleteAccountInput) (*struct{}, error) {
	owner, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.svc.Delete(ctx, owner, models.Destination(input.Destination)); err != nil {
		return nil, h.fail(ctx, "account delete failed", err)
	}
	return nil, nil
}

func (h *AccountsHandler) fail(ctx context.Context, msg string, err error) error {
	httpErr := ToHTTPError(err)
	if statusOfErr(httpErr) >= 500 {
		logging.FromContext(ctx, h.logger).Error(msg, "error", err)
	}
	return httpErr
}
