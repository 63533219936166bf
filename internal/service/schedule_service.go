package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/postforge-api/internal/models"
	"github.com/jmylchreest/postforge-api/internal/repository"
)

var (
	// ErrInvalidItem is returned for a malformed scheduled item.
	ErrInvalidItem = errors.New("invalid scheduled item")

	// ErrItemNotFound is returned when the item does not exist or belongs to
	// another owner.
	ErrItemNotFound = errors.New("scheduled item not found")

	// ErrNotWithdrawable is returned once dispatch has started.
	ErrNotWithdrawable = errors.New("scheduled item can no longer be withdrawn")
)

// Item limits.
const (
	MaxItemTextChars = 5000
	MaxItemHashtags  = 30
	maxListItems     = 200
)

// SubmitInput is a post to schedule.
type SubmitInput struct {
	Text         string
	MediaRef     string
	Hashtags     []string
	ScheduledAt  time.Time
	Destinations []models.Destination
}

// ItemStatusView is an item with its per-destination attempts.
type ItemStatusView struct {
	Item         *models.ScheduledItem
	Destinations []DestinationOutcome
}

// ScheduleService accepts and manages scheduled items.
type ScheduleService struct {
	items      repository.ScheduledItemRepository
	attempts   repository.AttemptRepository
	dispatcher *DispatchService
	logger     *slog.Logger
	now        func() time.Time
}

// NewScheduleService creates a new schedule service. The dispatcher supplies
// the attempt rows so submission and dispatch agree on idempotency keys.
func NewScheduleService(repos *repository.Repositories, dispatcher *DispatchService, logger *slog.Logger) *ScheduleService {
	return &ScheduleService{
		items:      repos.ScheduledItem,
		attempts:   repos.Attempt,
		dispatcher: dispatcher,
		logger:     logger.With("component", "schedule"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Submit validates and persists a new item with one pending attempt per
// destination.
func (s *ScheduleService) Submit(ctx context.Context, ownerID string, in SubmitInput) (*models.ScheduledItem, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidItem)
	}

	text := strings.TrimSpace(in.Text)
	mediaRef := strings.TrimSpace(in.MediaRef)
	if text == "" && mediaRef == "" {
		return nil, fmt.Errorf("%w: text or media_ref is required", ErrInvalidItem)
	}
	if len([]rune(text)) > MaxItemTextChars {
		return nil, fmt.Errorf("%w: text exceeds %d characters", ErrInvalidItem, MaxItemTextChars)
	}

	dests, err := normalizeDestinations(in.Destinations)
	if err != nil {
		return nil, err
	}
	for _, d := range dests {
		if mediaRef == "" && (d == models.DestinationInstagram || d == models.DestinationTikTok) {
			return nil, fmt.Errorf("%w: %s requires media_ref", ErrInvalidItem, d)
		}
	}

	tags := NormalizeHashtags(in.Hashtags)
	if len(tags) > MaxItemHashtags {
		return nil, fmt.Errorf("%w: at most %d hashtags allowed", ErrInvalidItem, MaxItemHashtags)
	}

	now := s.now()
	scheduledAt := in.ScheduledAt.UTC()
	if in.ScheduledAt.IsZero() {
		scheduledAt = now
	}

	item := &models.ScheduledItem{
		ID:           ulid.Make().String(),
		OwnerID:      ownerID,
		MediaRef:     mediaRef,
		Text:         text,
		Hashtags:     tags,
		ScheduledAt:  scheduledAt,
		DueAt:        scheduledAt,
		Destinations: dests,
		Status:       models.ItemStatusScheduled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	attempts := s.dispatcher.AttemptsFor(item)
	for _, a := range attempts {
		a.CreatedAt = now
		a.UpdatedAt = now
	}

	if err := s.items.Create(ctx, item, attempts); err != nil {
		return nil, err
	}

	s.logger.Info("item scheduled",
		"item_id", item.ID,
		"owner_id", ownerID,
		"destinations", len(dests),
		"scheduled_at", scheduledAt,
	)
	return item, nil
}

func normalizeDestinations(in []models.Destination) ([]models.Destination, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: at least one destination is required", ErrInvalidItem)
	}
	seen := make(map[models.Destination]bool, len(in))
	out := make([]models.Destination, 0, len(in))
	for _, d := range in {
		d = models.Destination(strings.ToLower(strings.TrimSpace(string(d))))
		if !d.IsValid() {
			return nil, fmt.Errorf("%w: unknown destination %q", ErrInvalidItem, d)
		}
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out, nil
}

// NormalizeHashtags trims, prefixes with '#', and drops duplicates
// case-insensitively while keeping the first spelling.
func NormalizeHashtags(in []string) []string {
	var out []string
	seen := make(map[string]bool, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		t = strings.TrimLeft(t, "#")
		t = strings.Join(strings.Fields(t), "")
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, "#"+t)
	}
	return out
}

// Withdraw cancels an item that has not started dispatching.
func (s *ScheduleService) Withdraw(ctx context.Context, ownerID, itemID string) error {
	ok, err := s.items.Withdraw(ctx, itemID, ownerID, s.now())
	if err != nil {
		return err
	}
	if ok {
		s.logger.Info("item withdrawn", "item_id", itemID, "owner_id", ownerID)
		return nil
	}

	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return err
	}
	if item == nil || item.OwnerID != ownerID {
		return ErrItemNotFound
	}
	if item.Status == models.ItemStatusWithdrawn {
		return nil
	}
	return fmt.Errorf("%w: status is %s", ErrNotWithdrawable, item.Status)
}

// Status returns the item and each destination's dispatch state.
func (s *ScheduleService) Status(ctx context.Context, ownerID, itemID string) (*ItemStatusView, error) {
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil || item.OwnerID != ownerID {
		return nil, ErrItemNotFound
	}
	attempts, err := s.attempts.ListByItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return &ItemStatusView{
		Item:         item,
		Destinations: destinationOutcomes(item, attempts),
	}, nil
}

// List returns the owner's items, newest first. An empty status matches all.
func (s *ScheduleService) List(ctx context.Context, ownerID string, status models.ItemStatus, limit int) ([]*models.ScheduledItem, error) {
	if limit <= 0 || limit > maxListItems {
		limit = 50
	}
	return s.items.ListByOwner(ctx, ownerID, status, limit)
}
