package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/postforge-api/internal/destination"
	"github.com/jmylchreest/postforge-api/internal/metrics"
	"github.com/jmylchreest/postforge-api/internal/models"
	"github.com/jmylchreest/postforge-api/internal/repository"
)

var dispatchTracer = otel.Tracer("github.com/jmylchreest/postforge-api/internal/service/dispatch")

// idempotencyNamespace scopes the UUIDv5 keys handed to destinations.
var idempotencyNamespace = uuid.MustParse("6f1d0c3e-8a51-4c55-9a3f-2d0c5b7e4a10")

// IdempotencyKey returns the stable key for (item, destination). Every
// attempt for the pair carries the same key.
func IdempotencyKey(itemID string, dest models.Destination) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(itemID+"/"+string(dest))).String()
}

// deliveredLookback reaches back before a first attempt when collecting post
// ids recorded by other items, covering remote clock skew.
const deliveredLookback = time.Minute

// AdapterLookup resolves a destination adapter.
type AdapterLookup interface {
	Get(kind models.Destination) (destination.Adapter, bool)
}

// CredentialSource supplies publishing credentials for an owner.
type CredentialSource interface {
	Credentials(ctx context.Context, ownerID string, dest models.Destination) (destination.Credentials, error)
}

// DispatchConfig controls retry behaviour for publishing.
type DispatchConfig struct {
	MaxAttempts       int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	AttemptTimeout    time.Duration
	InlineRetryWindow time.Duration
	Lease             time.Duration
}

// DestinationOutcome is the state of one destination after a dispatch pass.
type DestinationOutcome struct {
	Destination    models.Destination  `json:"destination"`
	State          models.AttemptState `json:"state"`
	AttemptCount   int                 `json:"attempt_count"`
	PlatformPostID string              `json:"platform_post_id,omitempty"`
	ErrorClass     string              `json:"error_class,omitempty"`
	Error          string              `json:"error,omitempty"`
	NextRetryAt    *time.Time          `json:"next_retry_at,omitempty"`
}

// DispatchOutcome is the item-level result of a dispatch pass.
type DispatchOutcome struct {
	ItemID       string               `json:"item_id"`
	Status       models.ItemStatus    `json:"status"`
	DueAt        *time.Time           `json:"due_at,omitempty"`
	Destinations []DestinationOutcome `json:"destinations"`
}

// DispatchService publishes a claimed item to each enabled destination.
// Destinations progress independently; the item status is derived from them.
type DispatchService struct {
	items    repository.ScheduledItemRepository
	attempts repository.AttemptRepository
	adapters AdapterLookup
	creds    CredentialSource
	cfg      DispatchConfig
	logger   *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatchService creates a new dispatch service.
func NewDispatchService(repos *repository.Repositories, adapters AdapterLookup, creds CredentialSource, cfg DispatchConfig, logger *slog.Logger) *DispatchService {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	if cfg.Lease <= cfg.AttemptTimeout {
		cfg.Lease = cfg.AttemptTimeout + 30*time.Second
	}
	return &DispatchService{
		items:    repos.ScheduledItem,
		attempts: repos.Attempt,
		adapters: adapters,
		creds:    creds,
		cfg:      cfg,
		logger:   logger.With("component", "dispatch"),
		now:      func() time.Time { return time.Now().UTC() },
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Backoff returns the delay before attempt n+1 after n failed attempts.
// A platform hint longer than the computed delay wins.
func (s *DispatchService) Backoff(n int, hint time.Duration) time.Duration {
	d := s.cfg.BaseBackoff
	for i := 1; i < n && d < s.cfg.MaxBackoff; i++ {
		d *= 2
	}
	if s.cfg.MaxBackoff > 0 && d > s.cfg.MaxBackoff {
		d = s.cfg.MaxBackoff
	}
	if hint > d {
		d = hint
	}
	return d
}

// AttemptsFor builds the initial attempt rows for an item.
func (s *DispatchService) AttemptsFor(item *models.ScheduledItem) []*models.DestinationAttempt {
	out := make([]*models.DestinationAttempt, 0, len(item.Destinations))
	for _, dest := range item.Destinations {
		out = append(out, &models.DestinationAttempt{
			ItemID:         item.ID,
			Destination:    dest,
			IdempotencyKey: IdempotencyKey(item.ID, dest),
			State:          models.AttemptPending,
			MaxAttempts:    s.cfg.MaxAttempts,
		})
	}
	return out
}

// Dispatch runs one pass over a claimed item. Each destination is attempted
// concurrently; transient failures whose backoff fits the inline window are
// retried in place, longer ones defer the item. The returned outcome reflects
// the persisted state after the pass.
func (s *DispatchService) Dispatch(ctx context.Context, item *models.ScheduledItem) (*DispatchOutcome, error) {
	ctx, span := dispatchTracer.Start(ctx, "dispatch.item")
	defer span.End()
	span.SetAttributes(
		attribute.String("item.id", item.ID),
		attribute.Int("item.destinations", len(item.Destinations)),
	)

	// Bookkeeping writes must land even when the caller is shutting down.
	bookCtx := context.WithoutCancel(ctx)

	if err := s.attempts.EnsureForItem(bookCtx, s.AttemptsFor(item)); err != nil {
		return nil, err
	}
	if _, err := s.attempts.ExpireExhausted(bookCtx, item.ID, s.now()); err != nil {
		return nil, err
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, dest := range item.Destinations {
		g.Go(func() error {
			if err := s.runDestination(ctx, bookCtx, item, dest); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", dest, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	outcome, err := s.settleItem(bookCtx, item)
	if err != nil {
		errs = append(errs, err)
	}
	if joined := errors.Join(errs...); joined != nil {
		span.RecordError(joined)
		span.SetStatus(codes.Error, "dispatch incomplete")
		if outcome == nil {
			return nil, joined
		}
		s.logger.Error("dispatch finished with errors", "item_id", item.ID, "error", joined)
	}

	span.SetAttributes(attribute.String("item.status", string(outcome.Status)))
	return outcome, nil
}

// runDestination drives one destination until it is terminal, deferred, or
// held by another worker.
func (s *DispatchService) runDestination(ctx, bookCtx context.Context, item *models.ScheduledItem, dest models.Destination) error {
	log := s.logger.With("item_id", item.ID, "destination", dest)

	for {
		if ctx.Err() != nil {
			return nil
		}

		token := ulid.Make().String()
		attempt, err := s.attempts.Claim(bookCtx, item.ID, dest, token, s.now(), s.cfg.Lease)
		if err != nil {
			return err
		}
		if attempt == nil {
			// Terminal, waiting on backoff, or in flight elsewhere.
			return nil
		}

		postID, elapsed, pubErr := s.publishOnce(ctx, item, attempt)
		now := s.now()

		if pubErr == nil {
			if _, err := s.attempts.MarkSucceeded(bookCtx, attempt.ID, token, postID, now); err != nil {
				return err
			}
			metrics.ObservePublish(string(dest), string(models.AttemptSucceeded), "", elapsed)
			log.Info("published",
				"attempt", attempt.AttemptCount,
				"platform_post_id", postID,
				"duration_ms", elapsed.Milliseconds(),
			)
			return nil
		}

		class := destination.Class(pubErr)
		if ctx.Err() != nil && errors.Is(pubErr, ctx.Err()) {
			class = "interrupted"
		}
		retryable := destination.IsRetryable(pubErr) && attempt.AttemptCount < attempt.MaxAttempts

		if !retryable {
			if _, err := s.attempts.MarkFailed(bookCtx, attempt.ID, token, models.AttemptFailedPermanent, class, pubErr.Error(), nil, now); err != nil {
				return err
			}
			metrics.ObservePublish(string(dest), string(models.AttemptFailedPermanent), class, elapsed)
			log.Warn("publish failed permanently",
				"attempt", attempt.AttemptCount,
				"max_attempts", attempt.MaxAttempts,
				"class", class,
				"error", pubErr,
			)
			return nil
		}

		// Keep the remote handle so the next attempt resumes it instead of
		// publishing a second copy.
		if ref := destination.RemoteRef(pubErr); ref != "" {
			if _, err := s.attempts.SetRemoteRef(bookCtx, attempt.ID, token, ref, now); err != nil {
				return err
			}
		}

		wait := s.Backoff(attempt.AttemptCount, destination.RetryAfter(pubErr))
		next := now.Add(wait)
		if _, err := s.attempts.MarkFailed(bookCtx, attempt.ID, token, models.AttemptFailedRetryable, class, pubErr.Error(), &next, now); err != nil {
			return err
		}
		metrics.ObservePublish(string(dest), string(models.AttemptFailedRetryable), class, elapsed)
		log.Info("publish failed, will retry",
			"attempt", attempt.AttemptCount,
			"class", class,
			"retry_in", wait,
			"error", pubErr,
		)

		if wait > s.cfg.InlineRetryWindow {
			return nil
		}
		if err := s.sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

// publishOnce resolves credentials and calls the adapter under the attempt
// timeout.
func (s *DispatchService) publishOnce(ctx context.Context, item *models.ScheduledItem, a *models.DestinationAttempt) (string, time.Duration, error) {
	ctx, span := dispatchTracer.Start(ctx, "dispatch.publish")
	defer span.End()
	span.SetAttributes(
		attribute.String("destination", string(a.Destination)),
		attribute.Int("attempt", a.AttemptCount),
		attribute.String("idempotency_key", a.IdempotencyKey),
	)

	start := time.Now()
	adapter, ok := s.adapters.Get(a.Destination)
	if !ok {
		err := &destination.PublishError{
			Err:         destination.ErrPayloadRejected,
			Destination: a.Destination,
			Message:     "destination not configured",
		}
		return "", time.Since(start), err
	}

	creds, err := s.creds.Credentials(ctx, item.OwnerID, a.Destination)
	if err != nil {
		span.RecordError(err)
		return "", time.Since(start), err
	}

	payload := destination.Payload{
		ItemID:         item.ID,
		IdempotencyKey: a.IdempotencyKey,
		Attempt:        a.AttemptCount,
		Text:           item.Text,
		Hashtags:       item.Hashtags,
		MediaURL:       item.MediaRef,
		Credentials:    creds,
		RemoteRef:      a.RemoteRef,
	}
	if a.FirstAttemptAt != nil {
		payload.FirstAttemptAt = *a.FirstAttemptAt
	}
	if a.AttemptCount > 1 && a.FirstAttemptAt != nil {
		// Posts other items already recorded can never be this attempt's.
		delivered, err := s.attempts.ListPostIDsSince(ctx, a.Destination, a.FirstAttemptAt.Add(-deliveredLookback))
		if err != nil {
			span.RecordError(err)
			return "", time.Since(start), err
		}
		payload.DeliveredPostIDs = delivered
	}

	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
	defer cancel()

	postID, err := adapter.Publish(attemptCtx, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, destination.Class(err))
	}
	return postID, time.Since(start), err
}

// settleItem derives the item status from its attempts and persists it.
func (s *DispatchService) settleItem(ctx context.Context, item *models.ScheduledItem) (*DispatchOutcome, error) {
	now := s.now()
	if _, err := s.attempts.ExpireExhausted(ctx, item.ID, now); err != nil {
		return nil, err
	}
	attempts, err := s.attempts.ListByItem(ctx, item.ID)
	if err != nil {
		return nil, err
	}

	status, dueAt := DeriveItemStatus(item, attempts, now)
	outcome := &DispatchOutcome{
		ItemID:       item.ID,
		Status:       status,
		Destinations: destinationOutcomes(item, attempts),
	}

	if status.IsTerminal() {
		ok, err := s.items.Finalize(ctx, item.ID, item.ClaimToken, status, now)
		if err != nil {
			return outcome, err
		}
		if !ok {
			s.logger.Warn("item claim lost before finalize", "item_id", item.ID, "status", status)
			return outcome, nil
		}
		metrics.ItemsFinalizedTotal.WithLabelValues(string(status)).Inc()
		s.logger.Info("item finalized", "item_id", item.ID, "status", status)
		return outcome, nil
	}

	outcome.DueAt = &dueAt
	ok, err := s.items.Defer(ctx, item.ID, item.ClaimToken, dueAt, now)
	if err != nil {
		return outcome, err
	}
	if !ok {
		s.logger.Warn("item claim lost before defer", "item_id", item.ID, "due_at", dueAt)
		return outcome, nil
	}
	s.logger.Info("item deferred", "item_id", item.ID, "due_at", dueAt)
	return outcome, nil
}

// DeriveItemStatus maps destination states onto the item lifecycle. When any
// destination is still open it returns retrying and the earliest time one of
// them can be claimed again.
func DeriveItemStatus(item *models.ScheduledItem, attempts []*models.DestinationAttempt, now time.Time) (models.ItemStatus, time.Time) {
	var succeeded, permanent, open int
	var due time.Time

	byDest := make(map[models.Destination]*models.DestinationAttempt, len(attempts))
	for _, a := range attempts {
		byDest[a.Destination] = a
	}

	for _, dest := range item.Destinations {
		a, ok := byDest[dest]
		if !ok {
			open++
			due = earliest(due, now)
			continue
		}
		switch a.State {
		case models.AttemptSucceeded:
			succeeded++
		case models.AttemptFailedPermanent:
			permanent++
		case models.AttemptFailedRetryable:
			open++
			if a.NextRetryAt != nil {
				due = earliest(due, *a.NextRetryAt)
			} else {
				due = earliest(due, now)
			}
		case models.AttemptInFlight:
			open++
			if a.LeaseExpiresAt != nil {
				due = earliest(due, *a.LeaseExpiresAt)
			} else {
				due = earliest(due, now)
			}
		default:
			open++
			due = earliest(due, now)
		}
	}

	switch {
	case open > 0:
		return models.ItemStatusRetrying, due
	case permanent == 0:
		return models.ItemStatusFullyPublished, time.Time{}
	case succeeded == 0:
		return models.ItemStatusFailed, time.Time{}
	default:
		return models.ItemStatusPartiallyPublished, time.Time{}
	}
}

func earliest(cur, t time.Time) time.Time {
	if cur.IsZero() || t.Before(cur) {
		return t
	}
	return cur
}

func destinationOutcomes(item *models.ScheduledItem, attempts []*models.DestinationAttempt) []DestinationOutcome {
	out := make([]DestinationOutcome, 0, len(attempts))
	for _, a := range attempts {
		if !item.HasDestination(a.Destination) {
			continue
		}
		out = append(out, DestinationOutcome{
			Destination:    a.Destination,
			State:          a.State,
			AttemptCount:   a.AttemptCount,
			PlatformPostID: a.PlatformPostID,
			ErrorClass:     a.LastErrorClass,
			Error:          a.LastError,
			NextRetryAt:    a.NextRetryAt,
		})
	}
	return out
}
