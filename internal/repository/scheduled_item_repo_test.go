package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/postforge-api/internal/models"
)

func TestScheduledItemRepository_CreateAndGet(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	item, attempts := newTestItem("item_1", "user_1", testNow, models.DestinationFacebook, models.DestinationInstagram)
	if err := repos.ScheduledItem.Create(ctx, item, attempts); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repos.ScheduledItem.GetByID(ctx, "item_1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetByID() returned nil")
	}
	if len(got.Destinations) != 2 || !got.HasDestination(models.DestinationInstagram) {
		t.Errorf("Destinations = %v", got.Destinations)
	}
	if len(got.Hashtags) != 1 || got.Hashtags[0] != "#go" {
		t.Errorf("Hashtags = %v", got.Hashtags)
	}
	if !got.DueAt.Equal(testNow) {
		t.Errorf("DueAt = %v, want %v", got.DueAt, testNow)
	}

	list, err := repos.Attempt.ListByItem(ctx, "item_1")
	if err != nil {
		t.Fatalf("ListByItem() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("attempts = %d, want 2", len(list))
	}
	for _, a := range list {
		if a.State != models.AttemptPending || a.AttemptCount != 0 {
			t.Errorf("attempt %s = %s/%d, want pending/0", a.Destination, a.State, a.AttemptCount)
		}
	}

	missing, err := repos.ScheduledItem.GetByID(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetByID(nope) = %v, %v; want nil, nil", missing, err)
	}
}

func TestScheduledItemRepository_ClaimDue(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	future, fa := newTestItem("item_future", "user_1", testNow.Add(time.Hour), models.DestinationFacebook)
	due, da := newTestItem("item_due", "user_1", testNow.Add(-time.Minute), models.DestinationFacebook)
	_ = repos.ScheduledItem.Create(ctx, future, fa)
	_ = repos.ScheduledItem.Create(ctx, due, da)

	got, err := repos.ScheduledItem.ClaimDue(ctx, "tok_a", testNow, time.Minute)
	if err != nil {
		t.Fatalf("ClaimDue() error = %v", err)
	}
	if got == nil || got.ID != "item_due" {
		t.Fatalf("ClaimDue() = %+v, want item_due", got)
	}
	if got.Status != models.ItemStatusDispatching || got.ClaimToken != "tok_a" {
		t.Errorf("claimed = %s/%s", got.Status, got.ClaimToken)
	}

	again, err := repos.ScheduledItem.ClaimDue(ctx, "tok_b", testNow, time.Minute)
	if err != nil {
		t.Fatalf("ClaimDue() error = %v", err)
	}
	if again != nil {
		t.Errorf("second ClaimDue() = %s, want nil", again.ID)
	}

	// Lease expiry makes the item claimable again.
	stale, err := repos.ScheduledItem.ClaimDue(ctx, "tok_c", testNow.Add(2*time.Minute), time.Minute)
	if err != nil {
		t.Fatalf("ClaimDue() error = %v", err)
	}
	if stale == nil || stale.ID != "item_due" || stale.ClaimToken != "tok_c" {
		t.Errorf("ClaimDue() after lease = %+v", stale)
	}
}

func TestScheduledItemRepository_ClaimDueConcurrent(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	item, attempts := newTestItem("item_1", "user_1", testNow, models.DestinationFacebook)
	_ = repos.ScheduledItem.Create(ctx, item, attempts)

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := repos.ScheduledItem.ClaimDue(ctx, ulid.Make().String(), testNow, time.Minute)
			if err != nil {
				t.Errorf("ClaimDue() error = %v", err)
				return
			}
			if got != nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want 1", winners)
	}
}

func TestScheduledItemRepository_Withdraw(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	item, attempts := newTestItem("item_1", "user_1", testNow.Add(time.Hour), models.DestinationFacebook)
	_ = repos.ScheduledItem.Create(ctx, item, attempts)

	ok, err := repos.ScheduledItem.Withdraw(ctx, "item_1", "user_2", testNow)
	if err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}
	if ok {
		t.Error("Withdraw() by another owner should not apply")
	}

	ok, err = repos.ScheduledItem.Withdraw(ctx, "item_1", "user_1", testNow)
	if err != nil || !ok {
		t.Fatalf("Withdraw() = %v, %v; want true", ok, err)
	}
	got, _ := repos.ScheduledItem.GetByID(ctx, "item_1")
	if got.Status != models.ItemStatusWithdrawn {
		t.Errorf("Status = %s, want withdrawn", got.Status)
	}

	// Withdrawn items are never claimed.
	claimed, _ := repos.ScheduledItem.ClaimDue(ctx, "tok", testNow.Add(2*time.Hour), time.Minute)
	if claimed != nil {
		t.Error("withdrawn item was claimed")
	}
}

func TestScheduledItemRepository_WithdrawAfterDispatch(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	item, attempts := newTestItem("item_1", "user_1", testNow, models.DestinationFacebook)
	_ = repos.ScheduledItem.Create(ctx, item, attempts)
	if _, err := repos.ScheduledItem.ClaimDue(ctx, "tok", testNow, time.Minute); err != nil {
		t.Fatalf("ClaimDue() error = %v", err)
	}

	ok, err := repos.ScheduledItem.Withdraw(ctx, "item_1", "user_1", testNow)
	if err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}
	if ok {
		t.Error("Withdraw() should not apply to a dispatching item")
	}
}

func TestScheduledItemRepository_DeferAndFinalize(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	item, attempts := newTestItem("item_1", "user_1", testNow, models.DestinationFacebook)
	_ = repos.ScheduledItem.Create(ctx, item, attempts)
	_, _ = repos.ScheduledItem.ClaimDue(ctx, "tok", testNow, time.Minute)

	later := testNow.Add(10 * time.Minute)
	ok, err := repos.ScheduledItem.Defer(ctx, "item_1", "tok", later, testNow)
	if err != nil || !ok {
		t.Fatalf("Defer() = %v, %v", ok, err)
	}
	got, _ := repos.ScheduledItem.GetByID(ctx, "item_1")
	if got.Status != models.ItemStatusRetrying || !got.DueAt.Equal(later) || got.ClaimToken != "" {
		t.Errorf("deferred item = %s due %v token %q", got.Status, got.DueAt, got.ClaimToken)
	}

	if c, _ := repos.ScheduledItem.ClaimDue(ctx, "tok2", testNow.Add(time.Minute), time.Minute); c != nil {
		t.Error("deferred item claimed before its due time")
	}
	if c, _ := repos.ScheduledItem.ClaimDue(ctx, "tok3", later, time.Minute); c == nil {
		t.Fatal("deferred item not claimed at its due time")
	}

	ok, err = repos.ScheduledItem.Finalize(ctx, "item_1", "tok3", models.ItemStatusFullyPublished, later)
	if err != nil || !ok {
		t.Fatalf("Finalize() = %v, %v", ok, err)
	}
	ok, _ = repos.ScheduledItem.Finalize(ctx, "item_1", "tok3", models.ItemStatusFailed, later)
	if ok {
		t.Error("Finalize() should not overwrite a terminal status")
	}
	if _, err := repos.ScheduledItem.Finalize(ctx, "item_1", "tok3", models.ItemStatusRetrying, later); err == nil {
		t.Error("Finalize() with non-terminal status should error")
	}
}

func TestScheduledItemRepository_StaleClaimCannotSettle(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	item, attempts := newTestItem("item_1", "user_1", testNow, models.DestinationFacebook)
	if err := repos.ScheduledItem.Create(ctx, item, attempts); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if c, _ := repos.ScheduledItem.ClaimDue(ctx, "slow", testNow, time.Minute); c == nil {
		t.Fatal("ClaimDue() claimed nothing")
	}
	// The first lease runs out and another worker takes the item.
	takeover := testNow.Add(2 * time.Minute)
	if c, _ := repos.ScheduledItem.ClaimDue(ctx, "fresh", takeover, time.Minute); c == nil || c.ClaimToken != "fresh" {
		t.Fatalf("ClaimDue() after lease expiry = %v", c)
	}

	ok, err := repos.ScheduledItem.Defer(ctx, "item_1", "slow", takeover.Add(time.Hour), takeover)
	if err != nil || ok {
		t.Errorf("Defer() with stale token = %v, %v, want false", ok, err)
	}
	ok, err = repos.ScheduledItem.Finalize(ctx, "item_1", "slow", models.ItemStatusFailed, takeover)
	if err != nil || ok {
		t.Errorf("Finalize() with stale token = %v, %v, want false", ok, err)
	}

	got, _ := repos.ScheduledItem.GetByID(ctx, "item_1")
	if got.Status != models.ItemStatusDispatching || got.ClaimToken != "fresh" {
		t.Errorf("item = %s/%q, want dispatching held by fresh", got.Status, got.ClaimToken)
	}

	ok, err = repos.ScheduledItem.Finalize(ctx, "item_1", "fresh", models.ItemStatusFullyPublished, takeover)
	if err != nil || !ok {
		t.Errorf("Finalize() with current token = %v, %v", ok, err)
	}
}

func TestScheduledItemRepository_ListByOwner(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		item, attempts := newTestItem(id, "user_1", testNow.Add(time.Hour), models.DestinationTikTok)
		_ = repos.ScheduledItem.Create(ctx, item, attempts)
	}
	other, oa := newTestItem("z", "user_2", testNow, models.DestinationTikTok)
	_ = repos.ScheduledItem.Create(ctx, other, oa)
	_, _ = repos.ScheduledItem.Withdraw(ctx, "a", "user_1", testNow)

	all, err := repos.ScheduledItem.ListByOwner(ctx, "user_1", "", 10)
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len = %d, want 3", len(all))
	}
	withdrawn, _ := repos.ScheduledItem.ListByOwner(ctx, "user_1", models.ItemStatusWithdrawn, 10)
	if len(withdrawn) != 1 || withdrawn[0].ID != "a" {
		t.Errorf("withdrawn = %v", withdrawn)
	}
}
