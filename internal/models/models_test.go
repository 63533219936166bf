package models

import "testing"

// ========================================
// QuotaState Tests
// ========================================

func TestQuotaState_Remaining(t *testing.T) {
	tests := []struct {
		name  string
		state *QuotaState
		want  int64
	}{
		{"nil state", nil, 0},
		{"untouched", &QuotaState{Allotment: 1000}, 1000},
		{"consumed and reserved", &QuotaState{Allotment: 1000, Consumed: 300, Reserved: 200}, 500},
		{"over committed after reset", &QuotaState{Allotment: 100, Consumed: 80, Reserved: 50}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Remaining(); got != tt.want {
				t.Errorf("Remaining() = %d, want %d", got, tt.want)
			}
		})
	}
}

// ========================================
// Status Tests
// ========================================

func TestItemStatus_IsTerminal(t *testing.T) {
	terminal := map[ItemStatus]bool{
		ItemStatusScheduled:          false,
		ItemStatusDispatching:        false,
		ItemStatusRetrying:           false,
		ItemStatusFullyPublished:     true,
		ItemStatusPartiallyPublished: true,
		ItemStatusFailed:             true,
		ItemStatusWithdrawn:          true,
	}
	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

func TestAttemptState_IsTerminal(t *testing.T) {
	terminal := map[AttemptState]bool{
		AttemptPending:         false,
		AttemptInFlight:        false,
		AttemptFailedRetryable: false,
		AttemptSucceeded:       true,
		AttemptFailedPermanent: true,
	}
	for state, want := range terminal {
		if got := state.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", state, got, want)
		}
	}
}

func TestDestination_IsValid(t *testing.T) {
	for _, d := range AllDestinations {
		if !d.IsValid() {
			t.Errorf("%s.IsValid() = false, want true", d)
		}
	}
	if Destination("myspace").IsValid() {
		t.Error("unknown destination reported valid")
	}
}

func TestScheduledItem_HasDestination(t *testing.T) {
	item := &ScheduledItem{Destinations: []Destination{DestinationFacebook, DestinationTikTok}}
	if !item.HasDestination(DestinationFacebook) {
		t.Error("expected facebook to be enabled")
	}
	if item.HasDestination(DestinationInstagram) {
		t.Error("expected instagram to be disabled")
	}
}
