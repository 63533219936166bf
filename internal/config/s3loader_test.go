package config

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeGetter struct {
	mu       sync.Mutex
	body     string
	etag     string
	err      error
	calls    int
	lastIfNM string
}

func (f *fakeGetter) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastIfNM = aws.ToString(in.IfNoneMatch)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(strings.NewReader(f.body)),
		ETag: aws.String(`"` + f.etag + `"`),
	}, nil
}

type notModifiedErr struct{}

func (notModifiedErr) Error() string     { return "not modified" }
func (notModifiedErr) ErrorCode() string { return "NotModified" }

// ========================================
// S3Loader Tests
// ========================================

func TestS3Loader_Disabled(t *testing.T) {
	l := NewS3Loader(S3LoaderConfig{Bucket: "b", Key: "k"})
	if l.IsEnabled() {
		t.Error("IsEnabled() should be false without a getter")
	}
	res, err := l.Fetch(context.Background())
	if res != nil || err != nil {
		t.Errorf("Fetch() = (%v, %v), want (nil, nil)", res, err)
	}
}

func TestS3Loader_FetchAndCache(t *testing.T) {
	g := &fakeGetter{body: `{"a":1}`, etag: "v1"}
	l := NewS3Loader(S3LoaderConfig{Getter: g, Bucket: "b", Key: "k", CacheTTL: time.Hour})

	if !l.NeedsRefresh() {
		t.Error("NeedsRefresh() should be true before first fetch")
	}
	res, err := l.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if res == nil || string(res.Data) != `{"a":1}` {
		t.Fatalf("Fetch() data = %v, want {\"a\":1}", res)
	}
	if res.Etag != "v1" {
		t.Errorf("Etag = %q, want v1", res.Etag)
	}

	// Within TTL: no call.
	res, err = l.Fetch(context.Background())
	if res != nil || err != nil {
		t.Errorf("second Fetch() = (%v, %v), want (nil, nil)", res, err)
	}
	if g.calls != 1 {
		t.Errorf("calls = %d, want 1", g.calls)
	}
	if l.NeedsRefresh() {
		t.Error("NeedsRefresh() should be false within TTL")
	}
	if st := l.Stats(); !st.Initialized || st.Etag != "v1" {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestS3Loader_ConditionalFetch(t *testing.T) {
	g := &fakeGetter{body: `{}`, etag: "v1"}
	l := NewS3Loader(S3LoaderConfig{Getter: g, Bucket: "b", Key: "k", CacheTTL: time.Nanosecond})

	if _, err := l.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	time.Sleep(time.Millisecond)

	g.err = notModifiedErr{}
	res, err := l.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if res == nil || !res.NotChanged {
		t.Errorf("Fetch() = %+v, want NotChanged", res)
	}
	if g.lastIfNM != `"v1"` {
		t.Errorf("If-None-Match = %q, want %q", g.lastIfNM, `"v1"`)
	}
}

func TestS3Loader_NoSuchKey(t *testing.T) {
	g := &fakeGetter{err: &types.NoSuchKey{}}
	l := NewS3Loader(S3LoaderConfig{Getter: g, Bucket: "b", Key: "k"})

	res, err := l.Fetch(context.Background())
	if res != nil || err != nil {
		t.Errorf("Fetch() = (%v, %v), want (nil, nil)", res, err)
	}
	if l.NeedsRefresh() {
		t.Error("NeedsRefresh() should be false right after a missing-key check")
	}
}

func TestS3Loader_ErrorBackoff(t *testing.T) {
	g := &fakeGetter{err: errors.New("boom")}
	l := NewS3Loader(S3LoaderConfig{Getter: g, Bucket: "b", Key: "k", ErrorBackoff: time.Hour})

	if _, err := l.Fetch(context.Background()); err == nil {
		t.Fatal("Fetch() should return the getter error")
	}
	if l.NeedsRefresh() {
		t.Error("NeedsRefresh() should be false during error backoff")
	}
}
