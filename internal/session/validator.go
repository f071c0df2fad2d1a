package session

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/spotauth/internal/metrics"
	"github.com/desertthunder/spotauth/internal/services"
	"github.com/desertthunder/spotauth/internal/shared"
)

// Verdict classifies one identity probe.
type Verdict int

const (
	// Accepted means the Web API answered the probe successfully.
	Accepted Verdict = iota
	// Unauthorized means the Web API explicitly rejected the credential (401).
	Unauthorized
	// Inconclusive covers every other failure: the credential may still be good.
	Inconclusive
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case Unauthorized:
		return "unauthorized"
	default:
		return "inconclusive"
	}
}

// Accepted is the boolean outcome of a probe. Unauthorized and Inconclusive are both false.
func (v Verdict) Accepted() bool {
	return v == Accepted
}

// Prober performs the lightweight "who am I" call. [services.SpotifyService] satisfies it.
type Prober interface {
	UserProfile(ctx context.Context) (*services.SpotifyUser, error)
}

// Validator confirms a credential against the Web API through the token slot.
type Validator struct {
	slot   *services.TokenSlot
	prober Prober
	logger *log.Logger

	mu         sync.RWMutex
	onRejected func(token string)
}

func NewValidator(slot *services.TokenSlot, prober Prober, logger *log.Logger) *Validator {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Validator{slot: slot, prober: prober, logger: logger}
}

// OnRejected registers fn to run, before Confirm returns, when the probe is answered with 401.
func (v *Validator) OnRejected(fn func(token string)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onRejected = fn
}

// Confirm installs token in the slot and probes with it.
func (v *Validator) Confirm(ctx context.Context, token string) Verdict {
	v.slot.Set(token)
	return v.probe(ctx, token)
}

// probe checks whatever the slot currently holds, attributing the answer to token.
func (v *Validator) probe(ctx context.Context, token string) Verdict {
	_, err := v.prober.UserProfile(ctx)
	verdict := classify(err)
	metrics.ValidationResults.WithLabelValues(verdict.String()).Inc()

	switch verdict {
	case Accepted:
		v.logger.Debug("credential confirmed", "token", shared.MaskToken(token))
	case Unauthorized:
		v.logger.Info("credential rejected", "token", shared.MaskToken(token))
		v.mu.RLock()
		fn := v.onRejected
		v.mu.RUnlock()
		if fn != nil {
			fn(token)
		}
	default:
		v.logger.Warn("could not confirm credential", "token", shared.MaskToken(token), "err", err)
	}

	return verdict
}

func classify(err error) Verdict {
	switch {
	case err == nil:
		return Accepted
	case errors.Is(err, shared.ErrTokenExpired):
		return Unauthorized
	default:
		return Inconclusive
	}
}
