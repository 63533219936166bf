package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmylchreest/postforge-api/internal/llm"
	"github.com/jmylchreest/postforge-api/internal/models"
)

// ========================================
// Test doubles
// ========================================

// fakeLLM implements llm.Adapter with a scripted response.
type fakeLLM struct {
	mu       sync.Mutex
	calls    int
	result   *llm.Result
	err      error
	block    bool
	validate error
	started  chan struct{}
}

func (f *fakeLLM) Name() string                   { return llm.ProviderOpenAI }
func (f *fakeLLM) Supports(c llm.Capability) bool { return true }

func (f *fakeLLM) Validate(llm.Capability, string, llm.Params) error { return f.validate }

func (f *fakeLLM) Generate(ctx context.Context, c llm.Capability, prompt string, p llm.Params) (*llm.Result, error) {
	f.mu.Lock()
	f.calls++
	block, result, err := f.block, f.result, f.err
	f.mu.Unlock()

	if block {
		if f.started != nil {
			close(f.started)
		}
		<-ctx.Done()
		return nil, llm.ClassifyError(ctx.Err(), f.Name(), p.Model, 0, 0)
	}
	if err != nil {
		return nil, err
	}
	out := *result
	out.Model = p.Model
	return &out, nil
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAdapters map[string]llm.Adapter

func (f fakeAdapters) Get(provider string) (llm.Adapter, error) {
	a, ok := f[provider]
	if !ok {
		return nil, llm.NewInvalidParams(provider, "", "provider %s is not configured", provider)
	}
	return a, nil
}

// milliPricing charges $1 per 1000 tokens.
type milliPricing struct{}

func (milliPricing) CostUSD(_, _ string, u llm.Usage) float64 {
	return float64(u.InputTokens+u.OutputTokens) / 1000
}

type fakeMirror struct {
	enabled bool
	err     error
	got     string
}

func (m *fakeMirror) IsEnabled() bool { return m.enabled }

func (m *fakeMirror) MirrorImage(_ context.Context, principalID, b64, srcURL string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.got = srcURL
	return "https://bucket.example/generated/" + principalID + "/x.png", nil
}

func newGenerationFixture(t *testing.T, allotment int64, adapter llm.Adapter, timeout time.Duration) (*GenerationService, *LedgerService, func() []*models.UsageRecord) {
	t.Helper()
	repos := setupTestRepos(t)
	ledger := NewLedgerService(repos, testQuota(allotment), testLogger())
	svc := NewGenerationService(fakeAdapters{llm.ProviderOpenAI: adapter}, ledger, milliPricing{}, nil,
		GenerationServiceConfig{Timeout: timeout, DefaultProvider: llm.ProviderOpenAI}, testLogger())
	records := func() []*models.UsageRecord {
		recs, err := repos.Usage.ListByPrincipal(context.Background(), "user_1", 50)
		if err != nil {
			t.Fatalf("ListByPrincipal() error = %v", err)
		}
		return recs
	}
	return svc, ledger, records
}

// ========================================
// GenerationService Tests
// ========================================

func TestGenerate_Success(t *testing.T) {
	adapter := &fakeLLM{result: &llm.Result{Content: "Fresh bread daily", Usage: llm.Usage{InputTokens: 40, OutputTokens: 60}}}
	svc, ledger, records := newGenerationFixture(t, 10000, adapter, time.Second)

	out, err := svc.Generate(context.Background(), GenerateInput{
		PrincipalID: "user_1",
		Capability:  llm.CapabilityText,
		Prompt:      "Write about bread",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out.Content != "Fresh bread daily" {
		t.Errorf("Content = %q", out.Content)
	}
	if out.CostUnits != 100 {
		t.Errorf("CostUnits = %d, want 100", out.CostUnits)
	}
	if out.CostUSD != 0.1 {
		t.Errorf("CostUSD = %v, want 0.1", out.CostUSD)
	}
	if out.Model != llm.DefaultModel(llm.ProviderOpenAI, llm.CapabilityText) {
		t.Errorf("Model = %q, want provider default", out.Model)
	}

	state, _ := ledger.State(context.Background(), "user_1")
	if state.Consumed != 100 || state.Reserved != 0 {
		t.Errorf("state = %+v, want consumed 100 reserved 0", state)
	}
	recs := records()
	if len(recs) != 1 || recs[0].Outcome != models.UsageOutcomeSuccess || recs[0].ReservationID != out.ReservationID {
		t.Errorf("records = %+v", recs)
	}
}

func TestGenerate_ProviderFailureReleases(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantClass error
		record    string
	}{
		{"rate limited", &llm.ProviderError{Err: llm.ErrRateLimited, RetryAfter: 3 * time.Second}, llm.ErrRateLimited, "rate_limited"},
		{"unauthorized", &llm.ProviderError{Err: llm.ErrUnauthorized}, llm.ErrUnauthorized, "unauthorized"},
		{"content rejected", &llm.ProviderError{Err: llm.ErrContentRejected}, llm.ErrContentRejected, "content_rejected"},
		{"raw transport error", errors.New("connection reset by peer"), llm.ErrUpstreamUnavailable, "upstream_unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, ledger, records := newGenerationFixture(t, 10000, &fakeLLM{err: tt.err}, time.Second)

			_, err := svc.Generate(context.Background(), GenerateInput{
				PrincipalID: "user_1", Capability: llm.CapabilityText, Prompt: "hi",
			})
			if !errors.Is(err, tt.wantClass) {
				t.Fatalf("error = %v, want %v", err, tt.wantClass)
			}
			state, _ := ledger.State(context.Background(), "user_1")
			if state.Consumed != 0 || state.Reserved != 0 {
				t.Errorf("state = %+v, want untouched counters", state)
			}
			recs := records()
			if len(recs) != 1 || recs[0].Outcome != models.UsageOutcomeFailure || recs[0].ErrorClass != tt.record || recs[0].CostUnits != 0 {
				t.Errorf("records = %+v", recs)
			}
		})
	}
}

func TestGenerate_RetryAfterPreserved(t *testing.T) {
	svc, _, _ := newGenerationFixture(t, 10000, &fakeLLM{err: &llm.ProviderError{Err: llm.ErrRateLimited, RetryAfter: 7 * time.Second}}, time.Second)
	_, err := svc.Generate(context.Background(), GenerateInput{PrincipalID: "user_1", Capability: llm.CapabilityText, Prompt: "hi"})
	var pe *llm.ProviderError
	if !errors.As(err, &pe) || pe.RetryAfter != 7*time.Second {
		t.Errorf("error = %#v, want RetryAfter 7s", err)
	}
}

func TestGenerate_QuotaExceeded(t *testing.T) {
	adapter := &fakeLLM{result: &llm.Result{Content: "x"}}
	svc, _, records := newGenerationFixture(t, 10, adapter, time.Second)

	_, err := svc.Generate(context.Background(), GenerateInput{
		PrincipalID: "user_1", Capability: llm.CapabilityText, Prompt: "hi",
	})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("error = %v, want ErrQuotaExceeded", err)
	}
	if adapter.callCount() != 0 {
		t.Error("provider should not be called when quota is exceeded")
	}
	recs := records()
	if len(recs) != 1 || recs[0].ErrorClass != "quota_exceeded" || recs[0].CostUnits != 0 {
		t.Errorf("records = %+v", recs)
	}
}

func TestGenerate_InvalidInput(t *testing.T) {
	adapter := &fakeLLM{result: &llm.Result{}}
	svc, _, records := newGenerationFixture(t, 10000, adapter, time.Second)

	tests := []struct {
		name string
		in   GenerateInput
	}{
		{"no principal", GenerateInput{Capability: llm.CapabilityText, Prompt: "x"}},
		{"bad capability", GenerateInput{PrincipalID: "user_1", Capability: "video", Prompt: "x"}},
		{"empty prompt", GenerateInput{PrincipalID: "user_1", Capability: llm.CapabilityText, Prompt: "  "}},
		{"unconfigured provider", GenerateInput{PrincipalID: "user_1", Capability: llm.CapabilityText, Prompt: "x", Provider: llm.ProviderAnthropic}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Generate(context.Background(), tt.in); !errors.Is(err, llm.ErrInvalidParameters) {
				t.Errorf("error = %v, want ErrInvalidParameters", err)
			}
		})
	}

	adapter.validate = llm.NewInvalidParams(llm.ProviderOpenAI, "m", "max_tokens too large")
	if _, err := svc.Generate(context.Background(), GenerateInput{PrincipalID: "user_1", Capability: llm.CapabilityText, Prompt: "x"}); !errors.Is(err, llm.ErrInvalidParameters) {
		t.Errorf("adapter validation error = %v", err)
	}
	if adapter.callCount() != 0 || len(records()) != 0 {
		t.Error("invalid requests must not reach the provider or the ledger")
	}
}

func TestGenerate_CancellationLeavesQuotaUnchanged(t *testing.T) {
	adapter := &fakeLLM{block: true, started: make(chan struct{})}
	svc, ledger, records := newGenerationFixture(t, 10000, adapter, time.Minute)

	before, _ := ledger.State(context.Background(), "user_1")

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := svc.Generate(ctx, GenerateInput{PrincipalID: "user_1", Capability: llm.CapabilityText, Prompt: "hi"})
		errc <- err
	}()
	<-adapter.started
	cancel()

	err := <-errc
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	after, _ := ledger.State(context.Background(), "user_1")
	if after.Consumed != before.Consumed || after.Reserved != before.Reserved || after.Allotment != before.Allotment {
		t.Errorf("state after cancel = %+v, want %+v", after, before)
	}
	recs := records()
	if len(recs) != 1 || recs[0].ErrorClass != "cancelled" {
		t.Errorf("records = %+v", recs)
	}
}

func TestGenerate_TimeoutIsUpstreamUnavailable(t *testing.T) {
	adapter := &fakeLLM{block: true}
	svc, ledger, _ := newGenerationFixture(t, 10000, adapter, 20*time.Millisecond)

	_, err := svc.Generate(context.Background(), GenerateInput{PrincipalID: "user_1", Capability: llm.CapabilityText, Prompt: "hi"})
	if !errors.Is(err, llm.ErrUpstreamUnavailable) {
		t.Fatalf("error = %v, want ErrUpstreamUnavailable", err)
	}
	state, _ := ledger.State(context.Background(), "user_1")
	if state.Reserved != 0 || state.Consumed != 0 {
		t.Errorf("state = %+v", state)
	}
}

func TestGenerate_ImageMirror(t *testing.T) {
	adapter := &fakeLLM{result: &llm.Result{ImageURL: "https://provider.example/img.png", Usage: llm.Usage{Images: 1}}}
	repos := setupTestRepos(t)
	ledger := NewLedgerService(repos, testQuota(100000), testLogger())
	mirror := &fakeMirror{enabled: true}
	svc := NewGenerationService(fakeAdapters{llm.ProviderOpenAI: adapter}, ledger, nil, mirror,
		GenerationServiceConfig{DefaultProvider: llm.ProviderOpenAI}, testLogger())

	out, err := svc.Generate(context.Background(), GenerateInput{
		PrincipalID: "user_1", Capability: llm.CapabilityImage, Prompt: "a loaf", ImageSize: "1024x1024",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !strings.HasPrefix(out.ImageURL, "https://bucket.example/generated/user_1/") {
		t.Errorf("ImageURL = %q, want mirrored url", out.ImageURL)
	}
	if mirror.got != "https://provider.example/img.png" {
		t.Errorf("mirrored source = %q", mirror.got)
	}
	if out.CostUnits != llm.ImageUnits("1024x1024") {
		t.Errorf("CostUnits = %d, want %d", out.CostUnits, llm.ImageUnits("1024x1024"))
	}

	// A failed mirror keeps the provider URL.
	mirror.err = errors.New("bucket unavailable")
	out, err = svc.Generate(context.Background(), GenerateInput{
		PrincipalID: "user_1", Capability: llm.CapabilityImage, Prompt: "a loaf", ImageSize: "1024x1024",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out.ImageURL != "https://provider.example/img.png" {
		t.Errorf("ImageURL = %q, want provider url", out.ImageURL)
	}
}

func TestGenerateHashtags(t *testing.T) {
	adapter := &fakeLLM{result: &llm.Result{Items: []string{"#bread", "#bakery"}, Usage: llm.Usage{InputTokens: 5, OutputTokens: 5}}}
	svc, _, _ := newGenerationFixture(t, 10000, adapter, time.Second)

	out, err := svc.GenerateHashtags(context.Background(), "user_1", "", "", "Sourdough launch", "instagram", 0)
	if err != nil {
		t.Fatalf("GenerateHashtags() error = %v", err)
	}
	if len(out.Items) != 2 || out.Capability != string(llm.CapabilityHashtags) {
		t.Errorf("out = %+v", out)
	}
	if _, err := svc.GenerateHashtags(context.Background(), "user_1", "", "", "", "instagram", 5); !errors.Is(err, llm.ErrInvalidParameters) {
		t.Errorf("empty content error = %v", err)
	}
}

func TestGeneratePost_RequiresBusiness(t *testing.T) {
	svc, _, _ := newGenerationFixture(t, 10000, &fakeLLM{result: &llm.Result{}}, time.Second)
	_, err := svc.GeneratePost(context.Background(), PostInput{PrincipalID: "user_1"})
	if !errors.Is(err, llm.ErrInvalidParameters) {
		t.Errorf("error = %v, want ErrInvalidParameters", err)
	}
}
