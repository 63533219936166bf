// Package models defines the domain models for the application.
// PrincipalID and OwnerID fields carry the subject of the verified bearer token.
package models

import (
	"time"
)

// QuotaState holds the per-principal quota counters.
// Consumed never exceeds Allotment for committed usage; Reserved tracks
// outstanding holds that have not yet been committed or released.
type QuotaState struct {
	PrincipalID string    `json:"principal_id"`
	Allotment   int64     `json:"allotment"`
	Consumed    int64     `json:"consumed"`
	Reserved    int64     `json:"reserved"`
	Epoch       int64     `json:"epoch"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Remaining returns the units still available for new reservations.
func (q *QuotaState) Remaining() int64 {
	if q == nil {
		return 0
	}
	r := q.Allotment - q.Consumed - q.Reserved
	if r < 0 {
		return 0
	}
	return r
}

// ReservationStatus is the lifecycle state of a quota reservation.
type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "held"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
)

// Reservation is a provisional quota hold taken before an upstream call.
type Reservation struct {
	ID          string            `json:"id"`
	PrincipalID string            `json:"principal_id"`
	Amount      int64             `json:"amount"`
	Epoch       int64             `json:"epoch"`
	Status      ReservationStatus `json:"status"`
	Charged     int64             `json:"charged"`
	CreatedAt   time.Time         `json:"created_at"`
	SettledAt   *time.Time        `json:"settled_at,omitempty"`
}

// UsageOutcome is the result recorded for one generation attempt.
type UsageOutcome string

const (
	UsageOutcomeSuccess UsageOutcome = "success"
	UsageOutcomeFailure UsageOutcome = "failure"
)

// UsageRecord is an immutable audit row for one generation attempt.
type UsageRecord struct {
	ID            string       `json:"id"`
	PrincipalID   string       `json:"principal_id"`
	ReservationID string       `json:"reservation_id,omitempty"`
	Provider      string       `json:"provider"`
	Model         string       `json:"model"`
	Capability    string       `json:"capability"`
	InputTokens   int          `json:"input_tokens"`
	OutputTokens  int          `json:"output_tokens"`
	CostUnits     int64        `json:"cost_units"`
	CostUSD       float64      `json:"cost_usd"`
	Outcome       UsageOutcome `json:"outcome"`
	ErrorClass    string       `json:"error_class,omitempty"`
	ErrorMessage  string       `json:"error_message,omitempty"`
	DurationMs    int64        `json:"duration_ms"`
	CreatedAt     time.Time    `json:"created_at"`
}

// UsageSummary aggregates usage records for a principal.
type UsageSummary struct {
	TotalRequests int64   `json:"total_requests"`
	Successful    int64   `json:"successful"`
	Failed        int64   `json:"failed"`
	InputTokens   int64   `json:"input_tokens"`
	OutputTokens  int64   `json:"output_tokens"`
	CostUnits     int64   `json:"cost_units"`
	CostUSD       float64 `json:"cost_usd"`
}

// Destination identifies a publishing platform.
type Destination string

const (
	DestinationFacebook  Destination = "facebook"
	DestinationInstagram Destination = "instagram"
	DestinationTikTok    Destination = "tiktok"
)

// AllDestinations lists every supported destination in a stable order.
var AllDestinations = []Destination{DestinationFacebook, DestinationInstagram, DestinationTikTok}

// IsValid reports whether d is a known destination.
func (d Destination) IsValid() bool {
	switch d {
	case DestinationFacebook, DestinationInstagram, DestinationTikTok:
		return true
	}
	return false
}

// ItemStatus is the lifecycle status of a scheduled item.
type ItemStatus string

const (
	ItemStatusScheduled          ItemStatus = "scheduled"
	ItemStatusDispatching        ItemStatus = "dispatching"
	ItemStatusRetrying           ItemStatus = "retrying"
	ItemStatusFullyPublished     ItemStatus = "fully_published"
	ItemStatusPartiallyPublished ItemStatus = "partially_published"
	ItemStatusFailed             ItemStatus = "failed"
	ItemStatusWithdrawn          ItemStatus = "withdrawn"
)

// IsTerminal reports whether no further automatic transition occurs.
func (s ItemStatus) IsTerminal() bool {
	switch s {
	case ItemStatusFullyPublished, ItemStatusPartiallyPublished, ItemStatusFailed, ItemStatusWithdrawn:
		return true
	}
	return false
}

// ScheduledItem is a post queued for publication to one or more destinations.
type ScheduledItem struct {
	ID             string        `json:"id"`
	OwnerID        string        `json:"owner_id"`
	MediaRef       string        `json:"media_ref,omitempty"`
	Text           string        `json:"text"`
	Hashtags       []string      `json:"hashtags,omitempty"`
	ScheduledAt    time.Time     `json:"scheduled_at"`
	DueAt          time.Time     `json:"due_at"`
	Destinations   []Destination `json:"destinations"`
	Status         ItemStatus    `json:"status"`
	ClaimToken     string        `json:"-"`
	LeaseExpiresAt *time.Time    `json:"-"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// HasDestination reports whether d is enabled for the item.
func (i *ScheduledItem) HasDestination(d Destination) bool {
	for _, dest := range i.Destinations {
		if dest == d {
			return true
		}
	}
	return false
}

// AttemptState is the per-destination dispatch state.
type AttemptState string

const (
	AttemptPending         AttemptState = "pending"
	AttemptInFlight        AttemptState = "in_flight"
	AttemptSucceeded       AttemptState = "succeeded"
	AttemptFailedRetryable AttemptState = "failed_retryable"
	AttemptFailedPermanent AttemptState = "failed_permanent"
)

// IsTerminal reports whether the attempt has reached a final state.
func (s AttemptState) IsTerminal() bool {
	return s == AttemptSucceeded || s == AttemptFailedPermanent
}

// DestinationAttempt tracks delivery of one item to one destination.
type DestinationAttempt struct {
	ID             string       `json:"id"`
	ItemID         string       `json:"item_id"`
	Destination    Destination  `json:"destination"`
	IdempotencyKey string       `json:"idempotency_key"`
	State          AttemptState `json:"state"`
	AttemptCount   int          `json:"attempt_count"`
	MaxAttempts    int          `json:"max_attempts"`
	LastError      string       `json:"last_error,omitempty"`
	LastErrorClass string       `json:"last_error_class,omitempty"`
	PlatformPostID string       `json:"platform_post_id,omitempty"`
	NextRetryAt    *time.Time   `json:"next_retry_at,omitempty"`
	ClaimToken     string       `json:"-"`
	LeaseExpiresAt *time.Time   `json:"-"`
	LastAttemptAt  *time.Time   `json:"last_attempt_at,omitempty"`
	FirstAttemptAt *time.Time   `json:"first_attempt_at,omitempty"`

	// RemoteRef is the platform handle of work started by an attempt whose
	// outcome was not confirmed (a TikTok publish_id, an Instagram container).
	RemoteRef string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DestinationAccount holds the credentials used to publish to a destination.
type DestinationAccount struct {
	ID                   string      `json:"id"`
	OwnerID              string      `json:"owner_id"`
	Destination          Destination `json:"destination"`
	AccountID            string      `json:"account_id"`
	AccountName          string      `json:"account_name,omitempty"`
	AccessTokenEncrypted string      `json:"-"`
	ExpiresAt            *time.Time  `json:"expires_at,omitempty"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}
