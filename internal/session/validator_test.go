package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/desertthunder/spotauth/internal/services"
	"github.com/desertthunder/spotauth/internal/shared"
)

// fakeProber answers UserProfile with err. When gate is set, it waits for gate to close first.
type fakeProber struct {
	slot *services.TokenSlot

	mu    sync.Mutex
	err   error
	panic bool
	gate  chan struct{}
	seen  []string
}

func (p *fakeProber) UserProfile(ctx context.Context) (*services.SpotifyUser, error) {
	p.mu.Lock()
	gate := p.gate
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, p.slot.Current())
	if p.panic {
		panic("prober exploded")
	}
	if p.err != nil {
		return nil, p.err
	}
	return &services.SpotifyUser{ID: "user1"}, nil
}

func (p *fakeProber) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

var (
	errUnauthorized = &services.APIError{StatusCode: 401, Message: "The access token expired"}
	errNetwork      = errors.New("dial tcp 127.0.0.1:443: connect: connection refused")
)

func TestValidator(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		err      error
		want     Verdict
		rejected bool
	}{
		{"success", nil, Accepted, false},
		{"unauthorized", errUnauthorized, Unauthorized, true},
		{"wrapped unauthorized", fmt.Errorf("probe: %w", errUnauthorized), Unauthorized, true},
		{"network failure", errNetwork, Inconclusive, false},
		{"server error", &services.APIError{StatusCode: 503}, Inconclusive, false},
		{"forbidden", &services.APIError{StatusCode: 403}, Inconclusive, false},
		{"empty slot", shared.ErrNotAuthenticated, Inconclusive, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slot := services.NewTokenSlot()
			prober := &fakeProber{slot: slot, err: tt.err}
			v := NewValidator(slot, prober, nil)

			var rejected []string
			v.OnRejected(func(token string) { rejected = append(rejected, token) })

			got := v.Confirm(ctx, "abc")
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
			if got.Accepted() != (tt.want == Accepted) {
				t.Errorf("Accepted() mismatch for %v", got)
			}
			if tt.rejected && (len(rejected) != 1 || rejected[0] != "abc") {
				t.Errorf("expected rejection hook with abc, got %v", rejected)
			}
			if !tt.rejected && len(rejected) != 0 {
				t.Errorf("rejection hook should not fire, got %v", rejected)
			}
		})
	}

	t.Run("Confirm probes with the given token", func(t *testing.T) {
		slot := services.NewTokenSlot()
		slot.Set("old")
		prober := &fakeProber{slot: slot}

		NewValidator(slot, prober, nil).Confirm(ctx, "new")

		if seen := prober.calls(); len(seen) != 1 || seen[0] != "new" {
			t.Errorf("expected probe with new, got %v", seen)
		}
		if slot.Current() != "new" {
			t.Errorf("expected slot to hold new, got %q", slot.Current())
		}
	})

	t.Run("verdict strings", func(t *testing.T) {
		for v, want := range map[Verdict]string{Accepted: "accepted", Unauthorized: "unauthorized", Inconclusive: "inconclusive"} {
			if v.String() != want {
				t.Errorf("expected %s, got %s", want, v)
			}
		}
	})
}
