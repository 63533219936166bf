package destination

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jmylchreest/postforge-api/internal/models"
)

const (
	instagramMaxCaption  = 2200
	instagramMaxHashtags = 30
)

// InstagramAdapter publishes an image with a caption to a business account
// using the two-step container flow.
type InstagramAdapter struct {
	graph graphClient
	now   func() time.Time
}

// NewInstagramAdapter creates an instagram adapter.
func NewInstagramAdapter(baseURL string, httpClient *http.Client) *InstagramAdapter {
	return &InstagramAdapter{
		graph: newGraphClient(models.DestinationInstagram, baseURL, httpClient),
		now:   time.Now,
	}
}

// Kind returns models.DestinationInstagram.
func (a *InstagramAdapter) Kind() models.Destination { return models.DestinationInstagram }

// Validate requires a public image URL and enforces caption limits.
func (a *InstagramAdapter) Validate(p Payload, now time.Time) error {
	if err := validateCredentials(models.DestinationInstagram, p.Credentials, now); err != nil {
		return err
	}
	if err := validateMediaURL(models.DestinationInstagram, p.MediaURL); err != nil {
		return err
	}
	if n := utf8.RuneCountInString(p.Caption()); n > instagramMaxCaption {
		return newError(models.DestinationInstagram, ErrPayloadRejected, "caption is %d characters, maximum is %d", n, instagramMaxCaption)
	}
	if len(p.Hashtags) > instagramMaxHashtags {
		return newError(models.DestinationInstagram, ErrPayloadRejected, "%d hashtags, maximum is %d", len(p.Hashtags), instagramMaxHashtags)
	}
	return nil
}

// Container status codes reported by the Graph API.
const (
	containerFinished   = "FINISHED"
	containerPublished  = "PUBLISHED"
	containerInProgress = "IN_PROGRESS"
)

type containerStatus struct {
	ID         string `json:"id"`
	StatusCode string `json:"status_code"`
}

// Publish creates a media container and publishes it. A container left by an
// earlier attempt is resumed instead of creating another one.
func (a *InstagramAdapter) Publish(ctx context.Context, p Payload) (string, error) {
	if err := a.Validate(p, a.now()); err != nil {
		return "", err
	}
	user := "/" + url.PathEscape(p.Credentials.AccountID)
	token := p.Credentials.AccessToken

	switch {
	case p.RemoteRef != "":
		id, done, err := a.resume(ctx, user, token, p)
		if err != nil || done {
			return id, err
		}
	case p.Attempt > 1:
		id, found, err := a.findPublished(ctx, user, token, p)
		if err != nil || found {
			return id, err
		}
	}

	var container graphIDResponse
	err := a.graph.post(ctx, user+"/media", token, url.Values{
		"image_url": {p.MediaURL},
		"caption":   {p.Caption()},
	}, &container)
	if err != nil {
		return "", err
	}
	if container.ID == "" {
		return "", newError(models.DestinationInstagram, ErrUpstreamUnavailable, "media container returned no id")
	}
	return a.publishContainer(ctx, user, token, container.ID)
}

func (a *InstagramAdapter) publishContainer(ctx context.Context, user, token, containerID string) (string, error) {
	var published graphIDResponse
	err := a.graph.post(ctx, user+"/media_publish", token, url.Values{"creation_id": {containerID}}, &published)
	if err != nil {
		return "", withRef(err, containerID)
	}
	if published.ID == "" {
		return "", withRef(newError(models.DestinationInstagram, ErrUpstreamUnavailable, "media_publish returned no id"), containerID)
	}
	return published.ID, nil
}

// resume continues from the container an earlier attempt created. done is
// false when the container is unusable and a new one should be made.
func (a *InstagramAdapter) resume(ctx context.Context, user, token string, p Payload) (string, bool, error) {
	ref := p.RemoteRef
	var status containerStatus
	if err := a.graph.get(ctx, "/"+url.PathEscape(ref), token, url.Values{"fields": {"id,status_code"}}, &status); err != nil {
		return "", false, withRef(err, ref)
	}

	switch status.StatusCode {
	case containerFinished:
		id, err := a.publishContainer(ctx, user, token, ref)
		return id, true, err
	case containerPublished:
		id, found, err := a.findPublished(ctx, user, token, p)
		if err != nil {
			return "", true, withRef(err, ref)
		}
		if !found {
			err := newError(models.DestinationInstagram, ErrUpstreamUnavailable, "container %s is published but its media is not listed yet", ref)
			return "", true, withRef(err, ref)
		}
		return id, true, nil
	case containerInProgress:
		err := newError(models.DestinationInstagram, ErrTransientNetwork, "container %s is still processing", ref)
		return "", true, withRef(err, ref)
	default:
		// ERROR or EXPIRED: nothing was published from it.
		return "", false, nil
	}
}

// findPublished looks for media an earlier attempt published.
func (a *InstagramAdapter) findPublished(ctx context.Context, user, token string, p Payload) (string, bool, error) {
	if p.FirstAttemptAt.IsZero() {
		return "", false, nil
	}
	var media graphListResponse
	err := a.graph.get(ctx, user+"/media", token, url.Values{
		"fields": {"id,caption,timestamp"},
		"limit":  {strconv.Itoa(recentPostsScan)},
	}, &media)
	if err != nil {
		return "", false, err
	}
	for _, m := range media.Data {
		if p.ownsRemotePost(m.ID, m.Caption, m.created()) {
			return m.ID, true, nil
		}
	}
	return "", false, nil
}

// validateMediaURL requires an absolute http(s) URL the platform can fetch.
func validateMediaURL(dest models.Destination, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return newError(dest, ErrPayloadRejected, "media url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return newError(dest, ErrPayloadRejected, "media url %q is not a public http(s) url", raw)
	}
	return nil
}
