package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmylchreest/postforge-api/internal/crypto"
	"github.com/jmylchreest/postforge-api/internal/destination"
	"github.com/jmylchreest/postforge-api/internal/models"
	"github.com/jmylchreest/postforge-api/internal/repository"
)

var (
	// ErrAccountNotFound is returned when an owner has no account for a destination.
	ErrAccountNotFound = errors.New("destination account not found")

	// ErrInvalidAccount is returned for malformed account input.
	ErrInvalidAccount = errors.New("invalid destination account")
)

// AccountInput is the caller-supplied credential for one destination.
type AccountInput struct {
	Destination models.Destination
	AccountID   string
	AccountName string
	AccessToken string
	ExpiresAt   *time.Time
}

// AccountService stores destination credentials sealed at rest.
type AccountService struct {
	repo      repository.DestinationAccountRepository
	encryptor *crypto.Encryptor
	logger    *slog.Logger
}

// NewAccountService creates a new account service.
func NewAccountService(repo repository.DestinationAccountRepository, encryptor *crypto.Encryptor, logger *slog.Logger) *AccountService {
	return &AccountService{
		repo:      repo,
		encryptor: encryptor,
		logger:    logger.With("component", "accounts"),
	}
}

// tokenAAD binds a sealed token to its owner and destination.
func tokenAAD(ownerID string, dest models.Destination) string {
	return ownerID + "/" + string(dest)
}

// Save seals the token and stores the account, replacing any previous one.
func (s *AccountService) Save(ctx context.Context, ownerID string, in AccountInput) (*models.DestinationAccount, error) {
	if !in.Destination.IsValid() {
		return nil, fmt.Errorf("%w: unknown destination %q", ErrInvalidAccount, in.Destination)
	}
	if strings.TrimSpace(in.AccountID) == "" || strings.TrimSpace(in.AccessToken) == "" {
		return nil, fmt.Errorf("%w: account_id and access_token are required", ErrInvalidAccount)
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(time.Now()) {
		return nil, fmt.Errorf("%w: access token already expired", ErrInvalidAccount)
	}

	sealed, err := s.encryptor.Seal(in.AccessToken, tokenAAD(ownerID, in.Destination))
	if err != nil {
		return nil, fmt.Errorf("failed to seal access token: %w", err)
	}

	acct := &models.DestinationAccount{
		OwnerID:              ownerID,
		Destination:          in.Destination,
		AccountID:            strings.TrimSpace(in.AccountID),
		AccountName:          in.AccountName,
		AccessTokenEncrypted: sealed,
		ExpiresAt:            in.ExpiresAt,
	}
	if err := s.repo.Upsert(ctx, acct); err != nil {
		return nil, err
	}

	s.logger.Info("destination account saved",
		"owner_id", ownerID,
		"destination", in.Destination,
		"account_id", acct.AccountID,
	)
	return acct, nil
}

// List returns the owner's accounts without tokens.
func (s *AccountService) List(ctx context.Context, ownerID string) ([]*models.DestinationAccount, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

// Delete removes the owner's account for dest.
func (s *AccountService) Delete(ctx context.Context, ownerID string, dest models.Destination) error {
	deleted, err := s.repo.Delete(ctx, ownerID, dest)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrAccountNotFound
	}
	return nil
}

// Credentials opens the stored token for publishing. A missing account is
// reported as destination.ErrCredentialExpired so the attempt fails
// permanently instead of retrying.
func (s *AccountService) Credentials(ctx context.Context, ownerID string, dest models.Destination) (destination.Credentials, error) {
	acct, err := s.repo.Get(ctx, ownerID, dest)
	if err != nil {
		return destination.Credentials{}, err
	}
	if acct == nil {
		return destination.Credentials{}, &destination.PublishError{
			Err:         destination.ErrCredentialExpired,
			Destination: dest,
			Message:     "no account connected",
		}
	}
	token, err := s.encryptor.Open(acct.AccessTokenEncrypted, tokenAAD(ownerID, dest))
	if err != nil {
		return destination.Credentials{}, &destination.PublishError{
			Err:         destination.ErrCredentialExpired,
			Cause:       err,
			Destination: dest,
			Message:     "stored access token could not be opened",
		}
	}
	return destination.Credentials{
		AccountID:   acct.AccountID,
		AccessToken: token,
		ExpiresAt:   acct.ExpiresAt,
	}, nil
}
