package ledger

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Purchase is the record of a completed on-chain purchase as mirrored to the backend.
// The chain is the source of truth; the ledger only reflects it for the UI and admins.
type Purchase struct {
	CampaignID      string   `json:"campaignId"`
	ChainID         uint64   `json:"chainId"`
	ContractVersion string   `json:"contractVersion"`
	ContractAddress string   `json:"contractAddress"`
	TxHash          string   `json:"txHash"`
	TxHashes        []string `json:"txHashes"`
	TokenID         string   `json:"tokenId,omitempty"`
	MintedTokenIDs  []string `json:"mintedTokenIds"`
	Quantity        int      `json:"quantity"`

	AmountUSD          string `json:"amountUsd"`
	AmountNative       string `json:"amountNative"`
	PricePerEditionUSD string `json:"pricePerEditionUsd,omitempty"`
	GratuityUSD        string `json:"gratuityUsd"`
	GratuityNative     string `json:"gratuityNative"`
	CurrencySymbol     string `json:"currencySymbol"`

	BuyerWallet   string `json:"buyerWallet"`
	BuyerEmail    string `json:"buyerEmail,omitempty"`
	UserID        string `json:"userId,omitempty"`
	PaymentMethod string `json:"paymentMethod"`
	BuyerName     string `json:"buyerName,omitempty"`
	Note          string `json:"note,omitempty"`
}

// Validate checks the fields the ledger needs to index and de-duplicate a purchase.
func (p Purchase) Validate() error {
	if !isTxHash(p.TxHash) {
		return errors.New("txHash must be a 0x-prefixed 32-byte hash")
	}
	if strings.TrimSpace(p.CampaignID) == "" {
		return errors.New("campaignId is required")
	}
	if p.Quantity < 1 {
		return errors.New("quantity must be at least 1")
	}
	if !common.IsHexAddress(p.BuyerWallet) {
		return errors.New("buyerWallet must be an address")
	}
	if p.PaymentMethod == "" {
		return errors.New("paymentMethod is required")
	}
	return nil
}

// Key normalizes the transaction hash used to de-duplicate records.
func (p Purchase) Key() string {
	return strings.ToLower(p.TxHash)
}

func isTxHash(s string) bool {
	if len(s) != 66 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, r := range s[2:] {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}
