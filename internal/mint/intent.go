package mint

import (
	"math/big"

	"vetsmint/internal/chain"
	"vetsmint/internal/classify"
	"vetsmint/internal/pricing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// CampaignStatusPendingOnchain is the administrative status of a campaign whose on-chain
// creation has been submitted but not yet confirmed.
const CampaignStatusPendingOnchain = "pending_onchain"

// PaymentMethodCrypto tags purchases settled on-chain.
const PaymentMethodCrypto = "crypto"

// Session is the buyer's authentication state.
type Session struct {
	LoggedIn      bool   `json:"loggedIn"`
	Email         string `json:"email"`
	UserID        string `json:"userId"`
	EmailVerified bool   `json:"emailVerified"`
}

// Intent is one purchase request. It is consumed by a single Purchase call.
type Intent struct {
	CampaignID *big.Int
	Quantity   int
	// PricePerEditionUSD is nil for open donations, where DonationUSD is paid per edition.
	PricePerEditionUSD *decimal.Decimal
	DonationUSD        decimal.Decimal
	GratuityUSD        decimal.Decimal

	ChainKey        string
	ContractAddress string

	BuyerWallet    common.Address
	Session        Session
	CampaignStatus string
	PaymentMethod  string
	BuyerName      string
	Note           string
}

// EditionUSD is the USD amount charged for each edition.
func (in Intent) EditionUSD() decimal.Decimal {
	if in.PricePerEditionUSD != nil {
		return *in.PricePerEditionUSD
	}
	return in.DonationUSD
}

// Plan is the derived transaction plan for an intent.
type Plan struct {
	Profile       chain.Profile
	Quote         pricing.Quote
	Quantity      int
	EditionUSD    decimal.Decimal
	GratuityUSD   decimal.Decimal
	EditionValue  *big.Int
	GratuityValue *big.Int
	GasCeiling    uint64
	Confirmations uint64
}

// HasGratuity reports whether the final edition carries a gratuity.
func (p Plan) HasGratuity() bool {
	return p.GratuityValue != nil && p.GratuityValue.Sign() > 0
}

// Value returns the wei sent with edition i. Only the last edition includes the gratuity.
func (p Plan) Value(i int) *big.Int {
	v := new(big.Int).Set(p.EditionValue)
	if i == p.Quantity-1 && p.HasGratuity() {
		v.Add(v, p.GratuityValue)
	}
	return v
}

// Total is the wei sent across all editions.
func (p Plan) Total() *big.Int {
	total := new(big.Int).Mul(p.EditionValue, big.NewInt(int64(p.Quantity)))
	if p.HasGratuity() {
		total.Add(total, p.GratuityValue)
	}
	return total
}

// GasBudget is the worst-case gas cost of every edition at gasPrice.
func (p Plan) GasBudget(gasPrice *big.Int) *big.Int {
	perTx := new(big.Int).Mul(new(big.Int).SetUint64(p.GasCeiling), gasPrice)
	return perTx.Mul(perTx, big.NewInt(int64(p.Quantity)))
}

// Result is the outcome of a purchase attempt. TxHashes and EditionIDs only cover confirmed
// editions; EditionIDs may be shorter when an id could not be decoded from a receipt.
type Result struct {
	AttemptID    string
	Success      bool
	State        State
	Quantity     int
	TxHashes     []common.Hash
	EditionIDs   []*big.Int
	FailedTxHash common.Hash
	ErrorKind    classify.Kind
	Error        string
	Plan         Plan
	BalanceAfter *big.Int
}

// Minted is the number of confirmed editions.
func (r Result) Minted() int {
	return len(r.TxHashes)
}

// LastTxHash is the hash of the last confirmed edition, or the zero hash.
func (r Result) LastTxHash() common.Hash {
	if len(r.TxHashes) == 0 {
		return common.Hash{}
	}
	return r.TxHashes[len(r.TxHashes)-1]
}
