package destination

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/postforge-api/internal/models"
	"github.com/jmylchreest/postforge-api/internal/version"
)

// DefaultGraphBaseURL is the Meta Graph API root used by facebook and instagram.
const DefaultGraphBaseURL = "https://graph.facebook.com/v19.0"

// graphClient is the shared Meta Graph API transport.
type graphClient struct {
	dest       models.Destination
	baseURL    string
	httpClient *http.Client
}

func newGraphClient(dest models.Destination, baseURL string, httpClient *http.Client) graphClient {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = DefaultGraphBaseURL
	}
	return graphClient{dest: dest, baseURL: baseURL, httpClient: defaultHTTPClient(httpClient)}
}

type graphError struct {
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode"`
	IsTransient  bool   `json:"is_transient"`
}

type graphErrorEnvelope struct {
	Error *graphError `json:"error"`
}

// graphIDResponse is returned by every create endpoint.
type graphIDResponse struct {
	ID string `json:"id"`
}

// graphTimeLayout is the Graph API timestamp format.
const graphTimeLayout = "2006-01-02T15:04:05-0700"

// graphPost is one entry from a feed or media listing. Feeds report
// created_time, instagram media reports timestamp.
type graphPost struct {
	ID          string `json:"id"`
	Message     string `json:"message,omitempty"`
	Caption     string `json:"caption,omitempty"`
	CreatedTime string `json:"created_time,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
}

func (p graphPost) created() time.Time {
	v := p.CreatedTime
	if v == "" {
		v = p.Timestamp
	}
	t, err := time.Parse(graphTimeLayout, v)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, v)
	}
	return t
}

type graphListResponse struct {
	Data []graphPost `json:"data"`
}

// get issues a GET with params as the query string.
func (c graphClient) get(ctx context.Context, path, token string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("access_token", token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return newError(c.dest, ErrPayloadRejected, "failed to create request: %v", err)
	}
	return c.do(ctx, req, out)
}

// post issues a form-encoded POST.
func (c graphClient) post(ctx context.Context, path, token string, form url.Values, out any) error {
	if form == nil {
		form = url.Values{}
	}
	form.Set("access_token", token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return newError(c.dest, ErrPayloadRejected, "failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(ctx, req, out)
}

func (c graphClient) do(ctx context.Context, req *http.Request, out any) error {
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(ctx, c.dest, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return classifyTransport(ctx, c.dest, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode >= 300 {
		var env graphErrorEnvelope
		_ = json.Unmarshal(body, &env)
		return classifyGraphError(c.dest, resp.StatusCode, env.Error, string(body), parseRetryAfter(resp.Header))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &PublishError{Err: ErrUpstreamUnavailable, Cause: err, Destination: c.dest, StatusCode: resp.StatusCode,
			Message: "failed to parse response"}
	}
	return nil
}

// classifyGraphError maps Graph API error codes onto publishing classes.
// See https://developers.facebook.com/docs/graph-api/guides/error-handling.
func classifyGraphError(dest models.Destination, status int, ge *graphError, raw string, retryAfter time.Duration) *PublishError {
	pe := &PublishError{Destination: dest, StatusCode: status, RetryAfter: retryAfter}
	if ge == nil {
		pe.Err = classifyHTTPStatus(status)
		pe.Message = truncate(raw, 200)
		return pe
	}
	pe.PlatformCode = strconv.Itoa(ge.Code)
	pe.Message = ge.Message

	switch {
	case ge.Code == 190, ge.Code == 102,
		ge.ErrorSubcode == 458, ge.ErrorSubcode == 459, ge.ErrorSubcode == 460,
		ge.ErrorSubcode == 463, ge.ErrorSubcode == 464, ge.ErrorSubcode == 467:
		pe.Err = ErrCredentialExpired
	case ge.Code == 10, ge.Code >= 200 && ge.Code < 300:
		// Missing permission; only re-linking the account fixes it.
		pe.Err = ErrCredentialExpired
	case ge.Code == 4, ge.Code == 17, ge.Code == 32, ge.Code == 613, ge.Code >= 80001 && ge.Code <= 80014:
		pe.Err = ErrRateLimited
	case ge.Code == 1, ge.Code == 2, ge.IsTransient:
		pe.Err = ErrTransientNetwork
	case ge.Code == 9007:
		// Instagram media container still processing.
		pe.Err = ErrTransientNetwork
	case ge.Code == 100, ge.Code == 324, ge.Code == 352, ge.Code == 368, ge.Code == 506, ge.Code == 36003:
		pe.Err = ErrPayloadRejected
	default:
		pe.Err = classifyHTTPStatus(status)
	}
	return pe
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
