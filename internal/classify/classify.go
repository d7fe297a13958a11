package classify

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"vetsmint/internal/contracts"
	"vetsmint/internal/verifier"
	"vetsmint/internal/wallet"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// Kind is the user-facing failure category.
type Kind string

const (
	KindNone              Kind = ""
	KindPrecondition      Kind = "precondition"
	KindVerification      Kind = "verification"
	KindCancelled         Kind = "cancelled"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindContractRevert    Kind = "contract_revert"
	KindUnclassified      Kind = "unclassified"
)

// MaxMessageRunes bounds raw provider text shown to users.
const MaxMessageRunes = 160

const (
	MsgCancelled         = "Transaction cancelled."
	MsgInsufficientFunds = "Insufficient funds to cover the edition price plus gas."
	MsgReverted          = "The contract rejected the transaction."
)

// Outcome is a classified error ready for display.
type Outcome struct {
	Kind    Kind
	Message string
	Code    int
}

type codeEntry struct {
	kind    Kind
	message string
}

// EIP-1193 provider codes and JSON-RPC codes returned by wallets and nodes.
var codeTable = map[int]codeEntry{
	4001:   {KindCancelled, MsgCancelled},
	4100:   {KindCancelled, "The wallet has not authorized this account."},
	4900:   {KindUnclassified, "The wallet is disconnected from the network."},
	4901:   {KindUnclassified, "The wallet is not connected to the selected network."},
	-32003: {KindInsufficientFunds, MsgInsufficientFunds},
}

type revertEntry struct {
	needle  string
	message string
}

// Revert reasons and custom error names, lower-cased, checked in order.
var revertTable = []revertEntry{
	{"campaignnotactive", "This campaign is not active yet."},
	{"campaign not active", "This campaign is not active yet."},
	{"campaignclosed", "This campaign is closed."},
	{"campaign closed", "This campaign is closed."},
	{"maxeditionsreached", "All editions of this campaign have been minted."},
	{"max editions", "All editions of this campaign have been minted."},
	{"insufficientpayment", "The payment was below the edition price. The price may have moved; please try again."},
	{"insufficient payment", "The payment was below the edition price. The price may have moved; please try again."},
	{"payoutfailed", "The contract could not forward the payout. Please contact support."},
}

type substringEntry struct {
	needle string
	kind   Kind
}

// Last-resort text matching, checked in order.
var substringTable = []substringEntry{
	{"user rejected", KindCancelled},
	{"user denied", KindCancelled},
	{"action_rejected", KindCancelled},
	{"rejected by user", KindCancelled},
	{"insufficient funds", KindInsufficientFunds},
	{"execution reverted", KindContractRevert},
	{"reverted", KindContractRevert},
}

var revertSelector = []byte{0x08, 0xc3, 0x79, 0xa0}

var contractErrors = mustContractErrors()

func mustContractErrors() map[string]abi.Error {
	parsed, err := abi.JSON(strings.NewReader(contracts.EditionsV6ABI))
	if err != nil {
		panic(fmt.Sprintf("parse contract abi: %v", err))
	}
	return parsed.Errors
}

// Classify maps provider, contract and verification failures to an Outcome.
// It never retries or recovers; translation only.
func Classify(err error) Outcome {
	if err == nil {
		return Outcome{}
	}

	var verr *verifier.Error
	if errors.As(err, &verr) {
		return Outcome{Kind: KindVerification, Message: verr.Error()}
	}
	if errors.Is(err, wallet.ErrUserRejected) {
		return Outcome{Kind: KindCancelled, Message: MsgCancelled, Code: 4001}
	}
	if errors.Is(err, wallet.ErrInsufficientFunds) {
		return Outcome{Kind: KindInsufficientFunds, Message: MsgInsufficientFunds}
	}
	if errors.Is(err, wallet.ErrReverted) {
		return Outcome{Kind: KindContractRevert, Message: MsgReverted}
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if msg, ok := decodeRevertData(dataErr.ErrorData()); ok {
			return Outcome{Kind: KindContractRevert, Message: msg, Code: codeOf(err)}
		}
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		if entry, ok := codeTable[rpcErr.ErrorCode()]; ok {
			return Outcome{Kind: entry.kind, Message: entry.message, Code: rpcErr.ErrorCode()}
		}
	}

	return classifyText(err.Error(), codeOf(err))
}

func codeOf(err error) int {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode()
	}
	return 0
}

func classifyText(raw string, code int) Outcome {
	lower := strings.ToLower(raw)
	for _, entry := range substringTable {
		if !strings.Contains(lower, entry.needle) {
			continue
		}
		switch entry.kind {
		case KindCancelled:
			return Outcome{Kind: KindCancelled, Message: MsgCancelled, Code: code}
		case KindInsufficientFunds:
			return Outcome{Kind: KindInsufficientFunds, Message: MsgInsufficientFunds, Code: code}
		case KindContractRevert:
			return Outcome{Kind: KindContractRevert, Message: humanizeRevert(reasonFromText(raw)), Code: code}
		}
	}
	return Outcome{Kind: KindUnclassified, Message: Truncate(raw, MaxMessageRunes), Code: code}
}

func decodeRevertData(data interface{}) (string, bool) {
	var raw []byte
	switch v := data.(type) {
	case string:
		b, err := hexutil.Decode(v)
		if err != nil {
			return "", false
		}
		raw = b
	case []byte:
		raw = v
	default:
		return "", false
	}
	if len(raw) < 4 {
		return "", false
	}

	if bytes.Equal(raw[:4], revertSelector) {
		reason, err := abi.UnpackRevert(raw)
		if err != nil {
			return "", false
		}
		return humanizeRevert(reason), true
	}
	for name, e := range contractErrors {
		if bytes.Equal(raw[:4], e.ID.Bytes()[:4]) {
			return humanizeRevert(name), true
		}
	}
	return "", false
}

func reasonFromText(raw string) string {
	lower := strings.ToLower(raw)
	if idx := strings.Index(lower, "reverted:"); idx >= 0 {
		return strings.TrimSpace(raw[idx+len("reverted:"):])
	}
	return raw
}

func humanizeRevert(reason string) string {
	key := strings.ToLower(strings.TrimSpace(reason))
	for _, entry := range revertTable {
		if strings.Contains(key, entry.needle) {
			return entry.message
		}
	}
	if key == "" || key == "execution reverted" {
		return MsgReverted
	}
	return "The contract rejected the transaction: " + Truncate(reason, MaxMessageRunes)
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}
