package destination

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/jmylchreest/postforge-api/internal/models"
)

func TestLocalLimiter(t *testing.T) {
	l := NewLocalLimiter(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _, err := l.Allow(ctx, "k")
		if err != nil || !ok {
			t.Fatalf("Allow() #%d = %v, %v, want allowed", i+1, ok, err)
		}
	}
	ok, wait, err := l.Allow(ctx, "k")
	if err != nil || ok {
		t.Fatalf("Allow() #4 = %v, %v, want denied", ok, err)
	}
	if wait <= 0 || wait > 20*time.Second {
		t.Errorf("wait = %v, want about 20s", wait)
	}

	// Keys are independent.
	if ok, _, _ := l.Allow(ctx, "other"); !ok {
		t.Error("a different key should be allowed")
	}
}

func newTestRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisLimiter(t *testing.T) {
	rdb := newTestRedis(t)
	l := NewRedisLimiter(rdb, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := l.Allow(ctx, "acct")
		if err != nil || !ok {
			t.Fatalf("Allow() #%d = %v, %v, want allowed", i+1, ok, err)
		}
	}
	ok, wait, err := l.Allow(ctx, "acct")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if ok {
		t.Fatal("third call should be denied")
	}
	if wait <= 0 || wait > time.Minute {
		t.Errorf("wait = %v, want within the window", wait)
	}
}

func TestRedisLimiter_Concurrent(t *testing.T) {
	rdb := newTestRedis(t)
	l := NewRedisLimiter(rdb, 5, time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _, err := l.Allow(context.Background(), "shared")
			if err != nil {
				t.Errorf("Allow() error = %v", err)
				return
			}
			if ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 5 {
		t.Errorf("allowed = %d, want 5", allowed)
	}
}

type countingAdapter struct {
	mu    sync.Mutex
	calls int
}

func (c *countingAdapter) Kind() models.Destination { return models.DestinationFacebook }

func (c *countingAdapter) Validate(p Payload, now time.Time) error {
	return validateCredentials(models.DestinationFacebook, p.Credentials, now)
}

func (c *countingAdapter) Publish(context.Context, Payload) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return "post-1", nil
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	return false, 0, errors.New("redis down")
}

func TestWithLimiter(t *testing.T) {
	inner := &countingAdapter{}
	a := WithLimiter(inner, NewLocalLimiter(1))
	p := Payload{Attempt: 1, Text: "x", Credentials: validCreds("page-1")}

	if _, err := a.Publish(context.Background(), p); err != nil {
		t.Fatalf("first Publish() error = %v", err)
	}
	_, err := a.Publish(context.Background(), p)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second Publish() error = %v, want ErrRateLimited", err)
	}
	if RetryAfter(err) <= 0 {
		t.Error("denied publish should carry a retry hint")
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls)
	}

	// Another account has its own budget.
	p.Credentials = validCreds("page-2")
	if _, err := a.Publish(context.Background(), p); err != nil {
		t.Errorf("other account Publish() error = %v", err)
	}
}

func TestWithLimiter_FailsOpen(t *testing.T) {
	inner := &countingAdapter{}
	a := WithLimiter(inner, brokenLimiter{})
	if _, err := a.Publish(context.Background(), Payload{Credentials: validCreds("p")}); err != nil {
		t.Errorf("Publish() error = %v, want fail-open", err)
	}
}

func TestNewDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry(Config{Limiter: NewLocalLimiter(10)})
	for _, d := range models.AllDestinations {
		a, ok := r.Get(d)
		if !ok {
			t.Fatalf("Get(%s) missing", d)
		}
		if a.Kind() != d {
			t.Errorf("Get(%s).Kind() = %s", d, a.Kind())
		}
	}
}
