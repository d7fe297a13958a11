package pricing

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// EditionBuffer is applied to every edition price so rate drift between quote and
// submission never pays below the on-chain minimum.
var EditionBuffer = decimal.RequireFromString("1.01")

// NoBuffer converts an amount exactly, used for gratuities.
var NoBuffer = decimal.NewFromInt(1)

// DefaultFallbackRates are the USD prices of one native unit used when the oracle is unreachable.
var DefaultFallbackRates = map[string]decimal.Decimal{
	"BDAG": decimal.RequireFromString("0.05"),
	"ETH":  decimal.RequireFromString("3000"),
}

var (
	ErrInvalidRate = errors.New("rate must be positive")
	ErrNoRate      = errors.New("no live or fallback rate")
)

const weiDecimals = 18

// Oracle returns the USD price of one native unit on a chain.
type Oracle interface {
	Rate(ctx context.Context, chainID uint64) (decimal.Decimal, error)
}

// Quote is a rate together with where it came from.
type Quote struct {
	Symbol   string
	Rate     decimal.Decimal
	Fallback bool
}

// Converter turns USD amounts into native-currency wei.
type Converter struct {
	oracle   Oracle
	fallback map[string]decimal.Decimal
	timeout  time.Duration
}

// NewConverter builds a converter. oracle may be nil, in which case the fallback table is always used.
func NewConverter(oracle Oracle, fallback map[string]decimal.Decimal, timeout time.Duration) *Converter {
	if fallback == nil {
		fallback = DefaultFallbackRates
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Converter{oracle: oracle, fallback: fallback, timeout: timeout}
}

// Rate asks the oracle with a short timeout and falls back to the static table on any failure.
func (c *Converter) Rate(ctx context.Context, chainID uint64, symbol string) (Quote, error) {
	symbol = strings.ToUpper(symbol)
	if c.oracle != nil {
		rctx, cancel := context.WithTimeout(ctx, c.timeout)
		rate, err := c.oracle.Rate(rctx, chainID)
		cancel()
		if err == nil && rate.IsPositive() {
			return Quote{Symbol: symbol, Rate: rate}, nil
		}
		if err == nil {
			err = ErrInvalidRate
		}
		log.WithFields(log.Fields{"chain_id": chainID, "symbol": symbol}).WithError(err).Warn("price oracle unavailable, using fallback rate")
	}

	rate, ok := c.fallback[symbol]
	if !ok {
		return Quote{}, fmt.Errorf("%w for %s", ErrNoRate, symbol)
	}
	return Quote{Symbol: symbol, Rate: rate, Fallback: true}, nil
}

// USDToNative divides a USD amount by the USD price of one native unit.
func USDToNative(usd, rate decimal.Decimal) (decimal.Decimal, error) {
	if !rate.IsPositive() {
		return decimal.Zero, ErrInvalidRate
	}
	return usd.Div(rate), nil
}

// ToWei scales a native amount by buffer and converts it to wei, rounding up.
func ToWei(native, buffer decimal.Decimal) *big.Int {
	return native.Mul(buffer).Shift(weiDecimals).Ceil().BigInt()
}

// FromWei renders wei as a native-unit decimal.
func FromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -weiDecimals)
}

// HTTPOracle fetches rates from the platform price endpoint.
type HTTPOracle struct {
	client *resty.Client
	path   string
}

type rateResponse struct {
	Rate decimal.Decimal `json:"rate"`
}

// NewHTTPOracle queries GET {baseURL}{path}?chainId=N and expects {"rate": <number>}.
func NewHTTPOracle(baseURL, path string, timeout time.Duration) *HTTPOracle {
	if path == "" {
		path = "/api/price"
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &HTTPOracle{client: client, path: path}
}

func (o *HTTPOracle) Rate(ctx context.Context, chainID uint64) (decimal.Decimal, error) {
	var body rateResponse
	resp, err := o.client.R().
		SetContext(ctx).
		SetQueryParam("chainId", strconv.FormatUint(chainID, 10)).
		SetResult(&body).
		Get(o.path)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price request: %w", err)
	}
	if resp.IsError() {
		return decimal.Zero, fmt.Errorf("price request: status %d", resp.StatusCode())
	}
	if !body.Rate.IsPositive() {
		return decimal.Zero, ErrInvalidRate
	}
	return body.Rate, nil
}
