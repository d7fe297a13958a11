package verifier

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"vetsmint/internal/backoff"
	"vetsmint/internal/chain"

	log "github.com/sirupsen/logrus"
)

// CampaignReader is the read-only contract surface needed for verification.
type CampaignReader interface {
	TotalCampaigns(ctx context.Context) (*big.Int, error)
	Campaign(ctx context.Context, id *big.Int) (chain.Campaign, error)
}

var (
	ErrNotVisible = errors.New("campaign not yet visible on chain")
	ErrNotActive  = errors.New("campaign is not active")
	ErrClosed     = errors.New("campaign is closed")
	ErrSoldOut    = errors.New("campaign has no editions left")
)

// NotVisibleError means the id is at or beyond the observed campaign count, usually RPC lag.
type NotVisibleError struct {
	ID    *big.Int
	Total *big.Int
}

func (e *NotVisibleError) Error() string {
	return fmt.Sprintf("campaign %s not found (total campaigns: %s)", e.ID, e.Total)
}

func (e *NotVisibleError) Unwrap() error { return ErrNotVisible }

// Error is the terminal verification failure surfaced to the purchase flow.
type Error struct {
	Attempts int
	Elapsed  time.Duration
	Err      error
	message  string
}

func (e *Error) Error() string { return e.message }
func (e *Error) Unwrap() error { return e.Err }

// Verifier confirms a campaign exists, is active and is open before any mint is attempted.
type Verifier struct {
	cfg backoff.Config
}

func New(cfg backoff.Config) *Verifier {
	return &Verifier{cfg: cfg}
}

// Verify retries transient absence and RPC errors within the backoff budget, and fails fast
// on a successfully read campaign that is inactive, closed or sold out.
func (v *Verifier) Verify(ctx context.Context, reader CampaignReader, id *big.Int, onProgress func(backoff.Status)) (chain.Campaign, error) {
	logger := log.WithField("campaign_id", id.String())

	res := backoff.Run(ctx, v.cfg, func(ctx context.Context, attempt int) (chain.Campaign, error) {
		total, err := reader.TotalCampaigns(ctx)
		if err != nil {
			return chain.Campaign{}, err
		}
		if id.Cmp(total) >= 0 {
			return chain.Campaign{}, &NotVisibleError{ID: id, Total: total}
		}

		camp, err := reader.Campaign(ctx, id)
		if err != nil {
			return chain.Campaign{}, err
		}
		switch {
		case !camp.Active:
			return camp, backoff.Permanent(ErrNotActive)
		case camp.Closed:
			return camp, backoff.Permanent(ErrClosed)
		case camp.SoldOut():
			return camp, backoff.Permanent(ErrSoldOut)
		}
		return camp, nil
	}, func(s backoff.Status) {
		logger.WithFields(log.Fields{
			"attempt":      s.Attempt,
			"max_attempts": s.MaxAttempts,
			"delay_ms":     s.Delay.Milliseconds(),
		}).WithError(s.Err).Warn("campaign verification retry")
		if onProgress != nil {
			onProgress(s)
		}
	})

	if res.Success {
		logger.WithField("attempts", res.Attempts).Debug("campaign verified")
		return res.Data, nil
	}
	return chain.Campaign{}, v.failure(id, res)
}

func (v *Verifier) failure(id *big.Int, res backoff.Result[chain.Campaign]) error {
	e := &Error{Attempts: res.Attempts, Elapsed: res.Elapsed, Err: res.Err}

	var notVisible *NotVisibleError
	switch {
	case errors.Is(res.Err, ErrNotActive):
		e.message = fmt.Sprintf("Campaign #%s is not active on-chain yet. An administrator must activate it before editions can be purchased.", id)
	case errors.Is(res.Err, ErrClosed):
		e.message = fmt.Sprintf("Campaign #%s is closed and no longer accepts purchases.", id)
	case errors.Is(res.Err, ErrSoldOut):
		e.message = fmt.Sprintf("Campaign #%s has sold all of its editions.", id)
	case errors.As(res.Err, &notVisible):
		e.message = fmt.Sprintf("Campaign #%s still not found after %d attempts (total campaigns: %s). It may not be created on-chain yet.", id, res.Attempts, notVisible.Total)
	case errors.Is(res.Err, context.Canceled), errors.Is(res.Err, context.DeadlineExceeded):
		e.message = fmt.Sprintf("Verification of campaign #%s was interrupted.", id)
	default:
		e.message = fmt.Sprintf("Could not verify campaign #%s: RPC errors after %d attempts (elapsed %s): %v", id, res.Attempts, res.Elapsed.Round(time.Millisecond), res.Err)
	}
	return e
}
