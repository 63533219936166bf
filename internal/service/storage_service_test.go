package service

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	appconfig "github.com/jmylchreest/postforge-api/internal/config"
)

// ========================================
// StorageService Tests
// ========================================

type memObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// memStore implements ObjectStore and Presigner in memory.
type memStore struct {
	mu      sync.Mutex
	objects map[string]memObject
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string]memObject)}
}

func (m *memStore) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[aws.ToString(in.Key)] = memObject{data: data, contentType: aws.ToString(in.ContentType), modified: time.Now()}
	return &s3.PutObjectOutput{}, nil
}

func (m *memStore) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(string(obj.data)))}, nil
}

func (m *memStore) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (m *memStore) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := &s3.ListObjectsV2Output{}
	for k, obj := range m.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(k), LastModified: aws.Time(obj.modified)})
		}
	}
	return out, nil
}

func (m *memStore) PresignGetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{URL: "https://bucket.example/" + aws.ToString(in.Key) + "?sig=1", Method: http.MethodGet}, nil
}

func (m *memStore) get(key string) (memObject, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj, ok
}

func (m *memStore) age(key string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj := m.objects[key]
	obj.modified = obj.modified.Add(-d)
	m.objects[key] = obj
}

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

func TestNewStorageService_Disabled(t *testing.T) {
	svc, err := NewStorageService(&appconfig.Config{StorageEnabled: false}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc.IsEnabled() {
		t.Error("expected storage to be disabled")
	}
	if svc.Getter() != nil {
		t.Error("expected nil getter when disabled")
	}
	if err := svc.Put(context.Background(), "k", "text/plain", []byte("x")); err != nil {
		t.Errorf("Put() on disabled storage error = %v", err)
	}
	if _, err := svc.MirrorImage(context.Background(), "u", "aGk=", ""); err == nil {
		t.Error("MirrorImage() on disabled storage should fail")
	}
}

func TestStorageService_MirrorImage_Base64(t *testing.T) {
	store := newMemStore()
	svc := NewStorageServiceWithStore(store, store, "media", testLogger())

	raw := []byte("\x89PNG fake")
	url, err := svc.MirrorImage(context.Background(), "user_1", base64.StdEncoding.EncodeToString(raw), "")
	if err != nil {
		t.Fatalf("MirrorImage() error = %v", err)
	}
	if !strings.HasPrefix(url, "https://bucket.example/generated/user_1/") || !strings.Contains(url, ".png") {
		t.Errorf("url = %q", url)
	}
	key := strings.TrimSuffix(strings.TrimPrefix(url, "https://bucket.example/"), "?sig=1")
	obj, ok := store.get(key)
	if !ok {
		t.Fatalf("object %q not stored", key)
	}
	if string(obj.data) != string(raw) || obj.contentType != "image/png" {
		t.Errorf("stored %q (%s)", obj.data, obj.contentType)
	}
}

func TestStorageService_MirrorImage_URL(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpegdata"))
	}))
	defer src.Close()

	store := newMemStore()
	svc := NewStorageServiceWithStore(store, store, "media", testLogger())

	url, err := svc.MirrorImage(context.Background(), "user_1", "", src.URL+"/img")
	if err != nil {
		t.Fatalf("MirrorImage() error = %v", err)
	}
	if !strings.Contains(url, ".jpg") {
		t.Errorf("url = %q, want .jpg key", url)
	}

	if _, err := svc.MirrorImage(context.Background(), "user_1", "", src.URL+"/missing"); err == nil {
		t.Error("MirrorImage() of a 404 should fail")
	}
	if _, err := svc.MirrorImage(context.Background(), "user_1", "", ""); err == nil {
		t.Error("MirrorImage() with nothing should fail")
	}
}

func TestStorageService_DeleteOlderThan(t *testing.T) {
	store := newMemStore()
	svc := NewStorageServiceWithStore(store, store, "media", testLogger())
	ctx := context.Background()

	_ = svc.Put(ctx, "generated/u/old.png", "image/png", []byte("a"))
	_ = svc.Put(ctx, "generated/u/new.png", "image/png", []byte("b"))
	_ = svc.Put(ctx, "config/model_pricing.json", "application/json", []byte("{}"))
	store.age("generated/u/old.png", 48*time.Hour)
	store.age("config/model_pricing.json", 48*time.Hour)

	deleted, err := svc.DeleteOlderThan(ctx, generatedPrefix, 24*time.Hour)
	if err != nil {
		t.Fatalf("DeleteOlderThan() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if _, ok := store.get("generated/u/new.png"); !ok {
		t.Error("recent object was deleted")
	}
	if store.len() != 2 {
		t.Errorf("objects = %d, want 2", store.len())
	}
}

func TestExtensionFor(t *testing.T) {
	tests := map[string]string{
		"image/jpeg":               "jpg",
		"image/webp; charset=bin":  "webp",
		"image/gif":                "gif",
		"image/png":                "png",
		"application/octet-stream": "png",
	}
	for ct, want := range tests {
		if got := extensionFor(ct); got != want {
			t.Errorf("extensionFor(%q) = %q, want %q", ct, got, want)
		}
	}
}
