package destination

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/jmylchreest/postforge-api/internal/models"
)

// facebookMaxChars is the page post message limit.
const facebookMaxChars = 63206

// FacebookAdapter publishes text posts to a page feed.
type FacebookAdapter struct {
	graph graphClient
	now   func() time.Time
}

// NewFacebookAdapter creates a facebook adapter. An empty baseURL uses the
// public Graph API.
func NewFacebookAdapter(baseURL string, httpClient *http.Client) *FacebookAdapter {
	return &FacebookAdapter{
		graph: newGraphClient(models.DestinationFacebook, baseURL, httpClient),
		now:   time.Now,
	}
}

// Kind returns models.DestinationFacebook.
func (a *FacebookAdapter) Kind() models.Destination { return models.DestinationFacebook }

// Validate checks the page credentials and message length.
func (a *FacebookAdapter) Validate(p Payload, now time.Time) error {
	if err := validateCredentials(models.DestinationFacebook, p.Credentials, now); err != nil {
		return err
	}
	msg := p.Caption()
	if msg == "" {
		return newError(models.DestinationFacebook, ErrPayloadRejected, "post text is empty")
	}
	if n := utf8.RuneCountInString(msg); n > facebookMaxChars {
		return newError(models.DestinationFacebook, ErrPayloadRejected, "post is %d characters, maximum is %d", n, facebookMaxChars)
	}
	return nil
}

// Publish creates a page feed post. On retries the feed since the first
// attempt is checked so an ambiguous earlier attempt is not posted twice.
func (a *FacebookAdapter) Publish(ctx context.Context, p Payload) (string, error) {
	if err := a.Validate(p, a.now()); err != nil {
		return "", err
	}
	page := "/" + url.PathEscape(p.Credentials.AccountID)
	token := p.Credentials.AccessToken

	if p.Attempt > 1 && !p.FirstAttemptAt.IsZero() {
		var feed graphListResponse
		err := a.graph.get(ctx, page+"/feed", token, url.Values{
			"fields": {"id,message,created_time"},
			"since":  {strconv.FormatInt(p.FirstAttemptAt.Add(-RemoteClockSkew).Unix(), 10)},
			"limit":  {strconv.Itoa(recentPostsScan)},
		}, &feed)
		if err != nil {
			return "", err
		}
		for _, post := range feed.Data {
			if p.ownsRemotePost(post.ID, post.Message, post.created()) {
				return post.ID, nil
			}
		}
	}

	var created graphIDResponse
	if err := a.graph.post(ctx, page+"/feed", token, url.Values{"message": {p.Caption()}}, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", newError(models.DestinationFacebook, ErrUpstreamUnavailable, "feed post returned no id")
	}
	return created.ID, nil
}
