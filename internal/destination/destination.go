// Package destination publishes scheduled items to social platforms.
package destination

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/postforge-api/internal/models"
)

const (
	// DefaultTimeout bounds a single platform request at the transport level.
	DefaultTimeout = 30 * time.Second

	// maxResponseBytes caps how much of a platform body is read.
	maxResponseBytes = 1 << 20

	// recentPostsScan is how many recent remote posts are checked for a
	// previous delivery of the same payload.
	recentPostsScan = 25

	// RemoteClockSkew is how far a platform timestamp may trail ours and
	// still count as created by the first attempt.
	RemoteClockSkew = 5 * time.Second
)

// Credentials are the account credentials for one destination. Token validity
// is a precondition; refresh happens elsewhere.
type Credentials struct {
	AccountID   string
	AccessToken string
	ExpiresAt   *time.Time
}

// Payload is one item prepared for one destination.
type Payload struct {
	ItemID string
	// IdempotencyKey is stable across every attempt for (item, destination).
	IdempotencyKey string
	// Attempt is 1 for the first try.
	Attempt     int
	Text        string
	Hashtags    []string
	MediaURL    string
	Credentials Credentials

	// FirstAttemptAt is when attempt 1 for the key started. A retry only
	// treats remote posts created after it as its own.
	FirstAttemptAt time.Time
	// RemoteRef is the handle an earlier attempt left in PublishError.Ref.
	RemoteRef string
	// DeliveredPostIDs were already recorded by other items and are never
	// claimed by a retry.
	DeliveredPostIDs []string
}

// Caption returns the text followed by the hashtags.
func (p Payload) Caption() string {
	text := strings.TrimSpace(p.Text)
	if len(p.Hashtags) == 0 {
		return text
	}
	tags := strings.Join(p.Hashtags, " ")
	if text == "" {
		return tags
	}
	return text + "\n\n" + tags
}

// ownsRemotePost reports whether a post found on the platform while retrying
// can only be the result of an earlier attempt for this payload. Posts older
// than the first attempt or already recorded for another item never match.
func (p Payload) ownsRemotePost(id, text string, created time.Time) bool {
	if id == "" || p.FirstAttemptAt.IsZero() || created.IsZero() {
		return false
	}
	if created.Before(p.FirstAttemptAt.Add(-RemoteClockSkew)) {
		return false
	}
	if strings.TrimSpace(text) != p.Caption() {
		return false
	}
	return !slices.Contains(p.DeliveredPostIDs, id)
}

// Adapter is the uniform interface to one publishing platform.
// Implementations are stateless and safe for concurrent use.
type Adapter interface {
	Kind() models.Destination
	// Validate checks the payload shape and credential expiry without any
	// network call.
	Validate(p Payload, now time.Time) error
	// Publish validates and creates the remote post, returning its platform id.
	// Errors are *PublishError. A retry first follows RemoteRef when set, then
	// (Attempt > 1) looks for the post an ambiguous earlier attempt may have
	// created.
	Publish(ctx context.Context, p Payload) (string, error)
}

// validateCredentials is shared by every adapter.
func validateCredentials(dest models.Destination, c Credentials, now time.Time) error {
	if strings.TrimSpace(c.AccessToken) == "" {
		return newError(dest, ErrCredentialExpired, "no access token linked")
	}
	if strings.TrimSpace(c.AccountID) == "" {
		return newError(dest, ErrCredentialExpired, "no account id linked")
	}
	if c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
		return newError(dest, ErrCredentialExpired, "access token expired at %s", c.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return nil
}

func defaultHTTPClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: DefaultTimeout}
}

// Registry maps destination kinds to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.Destination]Adapter
}

// NewRegistry creates a registry holding the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.Destination]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Kind()] = a
	}
	return r
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Kind()] = a
}

// Get returns the adapter for kind.
func (r *Registry) Get(kind models.Destination) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[kind]
	return a, ok
}

// Config configures the built-in adapters.
type Config struct {
	GraphBaseURL  string
	TikTokBaseURL string
	HTTPClient    *http.Client
	// Limiter, when set, gates every outbound publish per account.
	Limiter Limiter
}

// NewDefaultRegistry builds the facebook, instagram, and tiktok adapters.
func NewDefaultRegistry(cfg Config) *Registry {
	adapters := []Adapter{
		NewFacebookAdapter(cfg.GraphBaseURL, cfg.HTTPClient),
		NewInstagramAdapter(cfg.GraphBaseURL, cfg.HTTPClient),
		NewTikTokAdapter(cfg.TikTokBaseURL, cfg.HTTPClient),
	}
	if cfg.Limiter != nil {
		for i, a := range adapters {
			adapters[i] = WithLimiter(a, cfg.Limiter)
		}
	}
	return NewRegistry(adapters...)
}
