package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jmylchreest/postforge-api/internal/crypto"
	"github.com/jmylchreest/postforge-api/internal/destination"
	"github.com/jmylchreest/postforge-api/internal/models"
)

func newTestAccountService(t *testing.T) (*AccountService, *crypto.Encryptor) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	enc, err := crypto.NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}
	repos := setupTestRepos(t)
	return NewAccountService(repos.Account, enc, testLogger()), enc
}

func TestAccountService_SaveAndCredentials(t *testing.T) {
	svc, _ := newTestAccountService(t)
	ctx := context.Background()
	expires := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)

	acct, err := svc.Save(ctx, "owner_1", AccountInput{
		Destination: models.DestinationFacebook,
		AccountID:   " page_123 ",
		AccountName: "Corner Bakery",
		AccessToken: "EAAG-secret",
		ExpiresAt:   &expires,
	})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if acct.AccountID != "page_123" {
		t.Errorf("AccountID = %q, want page_123", acct.AccountID)
	}
	if !strings.HasPrefix(acct.AccessTokenEncrypted, "v1:") || strings.Contains(acct.AccessTokenEncrypted, "EAAG-secret") {
		t.Errorf("AccessTokenEncrypted = %q, want sealed value", acct.AccessTokenEncrypted)
	}

	creds, err := svc.Credentials(ctx, "owner_1", models.DestinationFacebook)
	if err != nil {
		t.Fatalf("Credentials() error = %v", err)
	}
	if creds.AccessToken != "EAAG-secret" || creds.AccountID != "page_123" {
		t.Errorf("Credentials() = %+v", creds)
	}
	if creds.ExpiresAt == nil || !creds.ExpiresAt.Equal(expires) {
		t.Errorf("ExpiresAt = %v, want %v", creds.ExpiresAt, expires)
	}

	accounts, err := svc.List(ctx, "owner_1")
	if err != nil || len(accounts) != 1 {
		t.Fatalf("List() = %d, %v", len(accounts), err)
	}
}

func TestAccountService_SaveValidation(t *testing.T) {
	svc, _ := newTestAccountService(t)
	past := time.Now().Add(-time.Hour)

	tests := []struct {
		name string
		in   AccountInput
	}{
		{"unknown destination", AccountInput{Destination: "myspace", AccountID: "a", AccessToken: "t"}},
		{"missing account id", AccountInput{Destination: models.DestinationTikTok, AccessToken: "t"}},
		{"missing token", AccountInput{Destination: models.DestinationTikTok, AccountID: "a"}},
		{"expired token", AccountInput{Destination: models.DestinationTikTok, AccountID: "a", AccessToken: "t", ExpiresAt: &past}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Save(context.Background(), "owner_1", tt.in); !errors.Is(err, ErrInvalidAccount) {
				t.Errorf("Save() error = %v, want ErrInvalidAccount", err)
			}
		})
	}
}

func TestAccountService_MissingAccountIsPermanent(t *testing.T) {
	svc, _ := newTestAccountService(t)

	_, err := svc.Credentials(context.Background(), "owner_1", models.DestinationInstagram)
	if !errors.Is(err, destination.ErrCredentialExpired) {
		t.Fatalf("Credentials() error = %v, want ErrCredentialExpired", err)
	}
	if destination.IsRetryable(err) {
		t.Error("missing account should not be retryable")
	}
}

func TestAccountService_TokenBoundToOwner(t *testing.T) {
	svc, _ := newTestAccountService(t)
	ctx := context.Background()

	acct, err := svc.Save(ctx, "owner_1", AccountInput{Destination: models.DestinationTikTok, AccountID: "tt_1", AccessToken: "act.secret"})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Copy owner_1's sealed token onto owner_2's row.
	stolen := *acct
	stolen.ID = ""
	stolen.OwnerID = "owner_2"
	if err := svc.repo.Upsert(ctx, &stolen); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	_, err = svc.Credentials(ctx, "owner_2", models.DestinationTikTok)
	if !errors.Is(err, destination.ErrCredentialExpired) {
		t.Errorf("Credentials() error = %v, want ErrCredentialExpired", err)
	}
}

func TestAccountService_Delete(t *testing.T) {
	svc, _ := newTestAccountService(t)
	ctx := context.Background()

	if _, err := svc.Save(ctx, "owner_1", AccountInput{Destination: models.DestinationFacebook, AccountID: "p", AccessToken: "t"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := svc.Delete(ctx, "owner_1", models.DestinationFacebook); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := svc.Delete(ctx, "owner_1", models.DestinationFacebook); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("second Delete() error = %v, want ErrAccountNotFound", err)
	}
}
