package service

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/jmylchreest/postforge-api/internal/models"
)

func TestScheduleSubmit_Validation(t *testing.T) {
	f := newDispatchFixture(t, testDispatchConfig(), nil)

	tests := []struct {
		name  string
		owner string
		in    SubmitInput
	}{
		{"missing owner", "", SubmitInput{Text: "hi", Destinations: []models.Destination{models.DestinationFacebook}}},
		{"empty content", "owner_1", SubmitInput{Text: "  ", Destinations: []models.Destination{models.DestinationFacebook}}},
		{"no destinations", "owner_1", SubmitInput{Text: "hi"}},
		{"unknown destination", "owner_1", SubmitInput{Text: "hi", Destinations: []models.Destination{"myspace"}}},
		{"instagram without media", "owner_1", SubmitInput{Text: "hi", Destinations: []models.Destination{models.DestinationInstagram}}},
		{"tiktok without media", "owner_1", SubmitInput{Text: "hi", Destinations: []models.Destination{models.DestinationFacebook, models.DestinationTikTok}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.schedule.Submit(context.Background(), tt.owner, tt.in)
			if !errors.Is(err, ErrInvalidItem) {
				t.Errorf("Submit() error = %v, want ErrInvalidItem", err)
			}
		})
	}
}

func TestScheduleSubmit_CreatesAttempts(t *testing.T) {
	f := newDispatchFixture(t, testDispatchConfig(), nil)
	ctx := context.Background()
	at := f.clock.now().Add(2 * time.Hour)

	item, err := f.schedule.Submit(ctx, "owner_1", SubmitInput{
		Text:         "  Launch day  ",
		MediaRef:     "https://cdn.example/a.jpg",
		Hashtags:     []string{"launch", "#Launch", " new product ", ""},
		ScheduledAt:  at,
		Destinations: []models.Destination{"Facebook", models.DestinationInstagram, models.DestinationFacebook},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if item.Text != "Launch day" {
		t.Errorf("Text = %q, want %q", item.Text, "Launch day")
	}
	wantTags := []string{"#launch", "#newproduct"}
	if !reflect.DeepEqual(item.Hashtags, wantTags) {
		t.Errorf("Hashtags = %v, want %v", item.Hashtags, wantTags)
	}
	wantDests := []models.Destination{models.DestinationFacebook, models.DestinationInstagram}
	if !reflect.DeepEqual(item.Destinations, wantDests) {
		t.Errorf("Destinations = %v, want %v", item.Destinations, wantDests)
	}
	if !item.DueAt.Equal(at) || item.Status != models.ItemStatusScheduled {
		t.Errorf("item = %s due %v, want scheduled due %v", item.Status, item.DueAt, at)
	}

	view, err := f.schedule.Status(ctx, "owner_1", item.ID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(view.Destinations) != 2 {
		t.Fatalf("len(Destinations) = %d, want 2", len(view.Destinations))
	}
	for _, d := range view.Destinations {
		if d.State != models.AttemptPending || d.AttemptCount != 0 {
			t.Errorf("%s = %s/%d, want pending/0", d.Destination, d.State, d.AttemptCount)
		}
	}
	a := f.attempt(t, item.ID, models.DestinationInstagram)
	if a.IdempotencyKey != IdempotencyKey(item.ID, models.DestinationInstagram) || a.MaxAttempts != 5 {
		t.Errorf("attempt = key %s max %d", a.IdempotencyKey, a.MaxAttempts)
	}

	// Not due for two hours.
	if claimed, _ := f.repos.ScheduledItem.ClaimDue(ctx, "w", f.clock.now(), time.Minute); claimed != nil {
		t.Error("ClaimDue() claimed an item scheduled in the future")
	}
}

func TestScheduleSubmit_DefaultsToNow(t *testing.T) {
	f := newDispatchFixture(t, testDispatchConfig(), nil)
	item, err := f.schedule.Submit(context.Background(), "owner_1", SubmitInput{
		Text:         "now",
		Destinations: []models.Destination{models.DestinationFacebook},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !item.ScheduledAt.Equal(f.clock.now()) {
		t.Errorf("ScheduledAt = %v, want %v", item.ScheduledAt, f.clock.now())
	}
}

func TestScheduleWithdraw(t *testing.T) {
	f := newDispatchFixture(t, testDispatchConfig(), nil)
	ctx := context.Background()
	submit := func() *models.ScheduledItem {
		item, err := f.schedule.Submit(ctx, "owner_1", SubmitInput{
			Text:         "withdraw me",
			Destinations: []models.Destination{models.DestinationFacebook},
		})
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		return item
	}

	t.Run("before dispatch", func(t *testing.T) {
		item := submit()
		if err := f.schedule.Withdraw(ctx, "owner_1", item.ID); err != nil {
			t.Fatalf("Withdraw() error = %v", err)
		}
		if got := f.itemStatus(t, item.ID).Status; got != models.ItemStatusWithdrawn {
			t.Errorf("status = %s, want withdrawn", got)
		}
		// Repeating is harmless.
		if err := f.schedule.Withdraw(ctx, "owner_1", item.ID); err != nil {
			t.Errorf("second Withdraw() error = %v", err)
		}
		if claimed, _ := f.repos.ScheduledItem.ClaimDue(ctx, "w", f.clock.now(), time.Minute); claimed != nil {
			t.Error("ClaimDue() returned a withdrawn item")
		}
	})

	t.Run("other owner", func(t *testing.T) {
		item := submit()
		if err := f.schedule.Withdraw(ctx, "owner_2", item.ID); !errors.Is(err, ErrItemNotFound) {
			t.Errorf("Withdraw() error = %v, want ErrItemNotFound", err)
		}
		_ = f.schedule.Withdraw(ctx, "owner_1", item.ID)
	})

	t.Run("after dispatch", func(t *testing.T) {
		item := submit()
		claimed, err := f.repos.ScheduledItem.ClaimDue(ctx, "w", f.clock.now(), time.Minute)
		if err != nil || claimed == nil {
			t.Fatalf("ClaimDue() = %v, %v", claimed, err)
		}
		if _, err := f.dispatch.Dispatch(ctx, claimed); err != nil {
			t.Fatalf("Dispatch() error = %v", err)
		}
		if err := f.schedule.Withdraw(ctx, "owner_1", item.ID); !errors.Is(err, ErrNotWithdrawable) {
			t.Errorf("Withdraw() error = %v, want ErrNotWithdrawable", err)
		}
	})

	t.Run("unknown item", func(t *testing.T) {
		if err := f.schedule.Withdraw(ctx, "owner_1", "nope"); !errors.Is(err, ErrItemNotFound) {
			t.Errorf("Withdraw() error = %v, want ErrItemNotFound", err)
		}
	})
}

func TestScheduleStatus_OwnerScoped(t *testing.T) {
	f := newDispatchFixture(t, testDispatchConfig(), nil)
	item := f.submitAndClaim(t, models.DestinationFacebook)

	if _, err := f.schedule.Status(context.Background(), "owner_2", item.ID); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Status() error = %v, want ErrItemNotFound", err)
	}
}

func TestScheduleList(t *testing.T) {
	f := newDispatchFixture(t, testDispatchConfig(), nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := f.schedule.Submit(ctx, "owner_1", SubmitInput{Text: "post", Destinations: []models.Destination{models.DestinationFacebook}}); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		f.clock.advance(time.Second)
	}
	if _, err := f.schedule.Submit(ctx, "owner_2", SubmitInput{Text: "post", Destinations: []models.Destination{models.DestinationFacebook}}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	items, err := f.schedule.List(ctx, "owner_1", "", 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("len(items) = %d, want 3", len(items))
	}
	if !items[0].CreatedAt.After(items[2].CreatedAt) {
		t.Error("List() not newest first")
	}

	withdrawn, err := f.schedule.List(ctx, "owner_1", models.ItemStatusWithdrawn, 10)
	if err != nil || len(withdrawn) != 0 {
		t.Errorf("List(withdrawn) = %d, %v", len(withdrawn), err)
	}
}

func TestNormalizeHashtags(t *testing.T) {
	tests := []struct {
		in   []string
		want []string
	}{
		{nil, nil},
		{[]string{"go"}, []string{"#go"}},
		{[]string{"##go", "#Go", "GO"}, []string{"#go"}},
		{[]string{"small business", " ", "#"}, []string{"#smallbusiness"}},
	}
	for _, tt := range tests {
		if got := NormalizeHashtags(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("NormalizeHashtags(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
