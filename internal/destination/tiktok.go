package destination

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jmylchreest/postforge-api/internal/models"
	"github.com/jmylchreest/postforge-api/internal/version"
)

const (
	// DefaultTikTokBaseURL is the TikTok Content Posting API root.
	DefaultTikTokBaseURL = "https://open.tiktokapis.com"

	tiktokMaxDescription = 2200

	// defaultTikTokPoll is the interval between publish status checks.
	defaultTikTokPoll = 3 * time.Second
)

// TikTokAdapter publishes a video from a public URL. Publish waits for
// TikTok to finish processing and returns the public video id, the same id
// the video list reports.
type TikTokAdapter struct {
	baseURL      string
	httpClient   *http.Client
	now          func() time.Time
	pollInterval time.Duration
}

// NewTikTokAdapter creates a tiktok adapter.
func NewTikTokAdapter(baseURL string, httpClient *http.Client) *TikTokAdapter {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = DefaultTikTokBaseURL
	}
	return &TikTokAdapter{
		baseURL:      baseURL,
		httpClient:   defaultHTTPClient(httpClient),
		now:          time.Now,
		pollInterval: defaultTikTokPoll,
	}
}

// Kind returns models.DestinationTikTok.
func (a *TikTokAdapter) Kind() models.Destination { return models.DestinationTikTok }

// Validate requires a video URL and enforces the description limit.
func (a *TikTokAdapter) Validate(p Payload, now time.Time) error {
	if err := validateCredentials(models.DestinationTikTok, p.Credentials, now); err != nil {
		return err
	}
	if err := validateMediaURL(models.DestinationTikTok, p.MediaURL); err != nil {
		return err
	}
	if n := utf8.RuneCountInString(p.Caption()); n > tiktokMaxDescription {
		return newError(models.DestinationTikTok, ErrPayloadRejected, "description is %d characters, maximum is %d", n, tiktokMaxDescription)
	}
	return nil
}

type tiktokError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	LogID   string `json:"log_id"`
}

type tiktokPostInfo struct {
	Title         string `json:"title"`
	PrivacyLevel  string `json:"privacy_level"`
	DisableDuet   bool   `json:"disable_duet"`
	DisableStitch bool   `json:"disable_stitch"`
}

type tiktokSourceInfo struct {
	Source   string `json:"source"`
	VideoURL string `json:"video_url"`
}

type tiktokInitRequest struct {
	PostInfo   tiktokPostInfo   `json:"post_info"`
	SourceInfo tiktokSourceInfo `json:"source_info"`
}

type tiktokInitResponse struct {
	Data struct {
		PublishID string `json:"publish_id"`
	} `json:"data"`
	Error tiktokError `json:"error"`
}

type tiktokListResponse struct {
	Data struct {
		Videos []struct {
			ID               string `json:"id"`
			VideoDescription string `json:"video_description"`
			CreateTime       int64  `json:"create_time"`
		} `json:"videos"`
	} `json:"data"`
	Error tiktokError `json:"error"`
}

// Publish status values from /v2/post/publish/status/fetch/.
const (
	tiktokPublishComplete = "PUBLISH_COMPLETE"
	tiktokPublishFailed   = "FAILED"
)

type tiktokStatusResponse struct {
	Data struct {
		Status     string `json:"status"`
		FailReason string `json:"fail_reason"`
		// Spelled as TikTok spells it.
		PostIDs []int64 `json:"publicaly_available_post_id"`
	} `json:"data"`
	Error tiktokError `json:"error"`
}

// Publish starts a PULL_FROM_URL upload and waits for the public video id.
// A publish_id left by an earlier attempt is followed instead of uploading
// again.
func (a *TikTokAdapter) Publish(ctx context.Context, p Payload) (string, error) {
	if err := a.Validate(p, a.now()); err != nil {
		return "", err
	}
	token := p.Credentials.AccessToken

	switch {
	case p.RemoteRef != "":
		id, failReason, err := a.awaitPublish(ctx, token, p.RemoteRef)
		if err != nil || failReason == "" {
			return id, err
		}
		// The earlier upload failed on TikTok's side; start a new one.
	case p.Attempt > 1 && !p.FirstAttemptAt.IsZero():
		var list tiktokListResponse
		if err := a.call(ctx, "/v2/video/list/?fields=id,video_description,create_time", token, map[string]int{"max_count": 20}, &list, &list.Error); err != nil {
			return "", err
		}
		for _, v := range list.Data.Videos {
			if p.ownsRemotePost(v.ID, v.VideoDescription, time.Unix(v.CreateTime, 0)) {
				return v.ID, nil
			}
		}
	}

	desc := p.Caption()
	var resp tiktokInitResponse
	req := tiktokInitRequest{
		PostInfo:   tiktokPostInfo{Title: desc, PrivacyLevel: "PUBLIC_TO_EVERYONE"},
		SourceInfo: tiktokSourceInfo{Source: "PULL_FROM_URL", VideoURL: p.MediaURL},
	}
	if err := a.call(ctx, "/v2/post/publish/video/init/", token, req, &resp, &resp.Error); err != nil {
		return "", err
	}
	publishID := resp.Data.PublishID
	if publishID == "" {
		return "", newError(models.DestinationTikTok, ErrUpstreamUnavailable, "video init returned no publish_id")
	}

	id, failReason, err := a.awaitPublish(ctx, token, publishID)
	if err != nil {
		return "", err
	}
	if failReason != "" {
		return "", newError(models.DestinationTikTok, ErrPayloadRejected, "upload failed: %s", failReason)
	}
	return id, nil
}

// awaitPublish polls the publish status until TikTok reports completion or
// failure. Running out of time returns a retryable error carrying publishID
// so the next attempt keeps waiting on the same upload.
func (a *TikTokAdapter) awaitPublish(ctx context.Context, token, publishID string) (postID, failReason string, err error) {
	for {
		var st tiktokStatusResponse
		if err := a.call(ctx, "/v2/post/publish/status/fetch/", token, map[string]string{"publish_id": publishID}, &st, &st.Error); err != nil {
			return "", "", withRef(err, publishID)
		}
		switch st.Data.Status {
		case tiktokPublishComplete:
			if len(st.Data.PostIDs) == 0 {
				return "", "", withRef(newError(models.DestinationTikTok, ErrUpstreamUnavailable,
					"publish %s complete but no public post id reported", publishID), publishID)
			}
			return strconv.FormatInt(st.Data.PostIDs[0], 10), "", nil
		case tiktokPublishFailed:
			reason := st.Data.FailReason
			if reason == "" {
				reason = "unknown"
			}
			return "", reason, nil
		}

		t := time.NewTimer(a.pollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", "", &PublishError{
				Err:         ErrUpstreamUnavailable,
				Cause:       ctx.Err(),
				Destination: models.DestinationTikTok,
				Message:     "upload " + publishID + " still processing",
				Ref:         publishID,
			}
		case <-t.C:
		}
	}
}

// call POSTs a JSON body and decodes the envelope into out. apiErr must point
// at the envelope's error field.
func (a *TikTokAdapter) call(ctx context.Context, path, token string, body, out any, apiErr *tiktokError) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return newError(models.DestinationTikTok, ErrPayloadRejected, "failed to encode request: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return newError(models.DestinationTikTok, ErrPayloadRejected, "failed to create request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return classifyTransport(ctx, models.DestinationTikTok, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return classifyTransport(ctx, models.DestinationTikTok, fmt.Errorf("failed to read response: %w", err))
	}
	decodeErr := json.Unmarshal(data, out)

	if resp.StatusCode >= 300 || (apiErr.Code != "" && apiErr.Code != "ok") {
		return classifyTikTokError(resp.StatusCode, *apiErr, string(data), parseRetryAfter(resp.Header))
	}
	if decodeErr != nil {
		return &PublishError{Err: ErrUpstreamUnavailable, Cause: decodeErr, Destination: models.DestinationTikTok,
			StatusCode: resp.StatusCode, Message: "failed to parse response"}
	}
	return nil
}

// classifyTikTokError maps Content Posting API error codes onto publishing classes.
func classifyTikTokError(status int, te tiktokError, raw string, retryAfter time.Duration) *PublishError {
	pe := &PublishError{
		Destination:  models.DestinationTikTok,
		StatusCode:   status,
		PlatformCode: te.Code,
		Message:      te.Message,
		RetryAfter:   retryAfter,
	}
	if pe.Message == "" {
		pe.Message = truncate(raw, 200)
	}

	switch te.Code {
	case "access_token_invalid", "scope_not_authorized", "scope_permission_missed", "token_expired":
		pe.Err = ErrCredentialExpired
	case "rate_limit_exceeded", "spam_risk_too_many_posts", "spam_risk_too_many_pending_share":
		pe.Err = ErrRateLimited
	case "invalid_params", "url_ownership_unverified", "privacy_level_option_mismatch",
		"unaudited_client_can_only_post_to_private_accounts", "file_format_check_failed",
		"duration_check_failed", "spam_risk_user_banned_from_posting", "picture_size_check_failed":
		pe.Err = ErrPayloadRejected
	case "internal_error":
		pe.Err = ErrUpstreamUnavailable
	default:
		pe.Err = classifyHTTPStatus(status)
	}
	return pe
}
