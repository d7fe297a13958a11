package verifier

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"vetsmint/internal/backoff"
	"vetsmint/internal/chain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	total      int64
	campaign   chain.Campaign
	totalErrs  []error
	totalCalls int
	readCalls  int
}

func (f *fakeReader) TotalCampaigns(context.Context) (*big.Int, error) {
	f.totalCalls++
	if len(f.totalErrs) > 0 {
		err := f.totalErrs[0]
		f.totalErrs = f.totalErrs[1:]
		return nil, err
	}
	return big.NewInt(f.total), nil
}

func (f *fakeReader) Campaign(context.Context, *big.Int) (chain.Campaign, error) {
	f.readCalls++
	return f.campaign, nil
}

var fastRetry = backoff.Config{
	MaxAttempts:       5,
	InitialDelay:      time.Millisecond,
	MaxDelay:          4 * time.Millisecond,
	BackoffMultiplier: 2,
}

func TestVerifyActiveCampaign(t *testing.T) {
	reader := &fakeReader{total: 10, campaign: chain.Campaign{ID: big.NewInt(3), Active: true}}
	camp, err := New(fastRetry).Verify(context.Background(), reader, big.NewInt(3), nil)
	require.NoError(t, err)
	assert.True(t, camp.Active)
	assert.Equal(t, 1, reader.totalCalls)
}

func TestVerifyInactiveIsNotRetried(t *testing.T) {
	reader := &fakeReader{total: 10, campaign: chain.Campaign{Active: false}}
	progress := 0
	_, err := New(fastRetry).Verify(context.Background(), reader, big.NewInt(3), func(backoff.Status) { progress++ })

	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, ErrNotActive)
	assert.Equal(t, 1, verr.Attempts)
	assert.Equal(t, 0, progress)
	assert.Equal(t, 1, reader.readCalls)
	assert.Contains(t, err.Error(), "not active")
}

func TestVerifyClosedIsNotRetried(t *testing.T) {
	reader := &fakeReader{total: 10, campaign: chain.Campaign{Active: true, Closed: true}}
	_, err := New(fastRetry).Verify(context.Background(), reader, big.NewInt(3), nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Contains(t, err.Error(), "closed")
	assert.Equal(t, 1, reader.readCalls)
}

func TestVerifySoldOut(t *testing.T) {
	reader := &fakeReader{total: 10, campaign: chain.Campaign{
		Active: true, EditionsMinted: big.NewInt(5), MaxEditions: big.NewInt(5),
	}}
	_, err := New(fastRetry).Verify(context.Background(), reader, big.NewInt(1), nil)
	assert.ErrorIs(t, err, ErrSoldOut)
}

func TestVerifyBeyondTotalRetriesToBudget(t *testing.T) {
	reader := &fakeReader{total: 40}
	var delays []time.Duration
	_, err := New(fastRetry).Verify(context.Background(), reader, big.NewInt(50), func(s backoff.Status) {
		delays = append(delays, s.Delay)
	})

	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, ErrNotVisible)
	assert.Equal(t, 5, verr.Attempts)
	assert.Equal(t, 5, reader.totalCalls)
	assert.Equal(t, 0, reader.readCalls)
	assert.Contains(t, err.Error(), "total campaigns: 40")
	assert.Contains(t, err.Error(), "after 5 attempts")
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond, 4 * time.Millisecond}, delays)
}

func TestVerifyRecoversFromRPCLag(t *testing.T) {
	reader := &fakeReader{
		total:     10,
		campaign:  chain.Campaign{Active: true},
		totalErrs: []error{errors.New("header not found"), errors.New("503")},
	}
	_, err := New(fastRetry).Verify(context.Background(), reader, big.NewInt(2), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, reader.totalCalls)
}

func TestVerifyRPCErrorsExhausted(t *testing.T) {
	rpcErr := errors.New("connection refused")
	reader := &fakeReader{totalErrs: []error{rpcErr, rpcErr, rpcErr, rpcErr, rpcErr}}
	_, err := New(fastRetry).Verify(context.Background(), reader, big.NewInt(2), nil)
	assert.ErrorIs(t, err, rpcErr)
	assert.Contains(t, err.Error(), "RPC errors after 5 attempts")
	assert.Contains(t, err.Error(), "elapsed")
}
