package classify

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"vetsmint/internal/verifier"
	"vetsmint/internal/wallet"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type providerError struct {
	code int
	msg  string
	data interface{}
}

func (e *providerError) Error() string          { return e.msg }
func (e *providerError) ErrorCode() int         { return e.code }
func (e *providerError) ErrorData() interface{} { return e.data }

func revertData(reason string) string {
	// Error(string) selector followed by the ABI-encoded string.
	str := []byte(reason)
	buf := append([]byte{0x08, 0xc3, 0x79, 0xa0}, make([]byte, 64)...)
	buf[4+31] = 0x20
	big.NewInt(int64(len(str))).FillBytes(buf[4+32 : 4+64])
	padded := make([]byte, (len(str)+31)/32*32)
	copy(padded, str)
	return hexutil.Encode(append(buf, padded...))
}

func TestClassifyCancellation(t *testing.T) {
	cases := []error{
		wallet.ErrUserRejected,
		fmt.Errorf("send transaction: %w", wallet.ErrUserRejected),
		&providerError{code: 4001, msg: "MetaMask Tx Signature: User denied transaction signature."},
		errors.New("ethers: ACTION_REJECTED"),
		errors.New("user rejected transaction"),
	}
	for _, err := range cases {
		out := Classify(err)
		assert.Equal(t, KindCancelled, out.Kind, err.Error())
		assert.Equal(t, "Transaction cancelled.", out.Message)
	}
}

func TestClassifyInsufficientFunds(t *testing.T) {
	out := Classify(errors.New("send transaction: insufficient funds for gas * price + value: balance 10, tx cost 20"))
	assert.Equal(t, KindInsufficientFunds, out.Kind)
	assert.Equal(t, MsgInsufficientFunds, out.Message)

	out = Classify(&providerError{code: -32003, msg: "transaction rejected"})
	assert.Equal(t, KindInsufficientFunds, out.Kind)
	assert.Equal(t, -32003, out.Code)
}

func TestClassifyRevertData(t *testing.T) {
	out := Classify(&providerError{code: 3, msg: "execution reverted", data: revertData("Campaign not active")})
	assert.Equal(t, KindContractRevert, out.Kind)
	assert.Equal(t, "This campaign is not active yet.", out.Message)
	assert.Equal(t, 3, out.Code)
}

func TestClassifyCustomErrorSelector(t *testing.T) {
	sel := contractErrors["MaxEditionsReached"].ID.Bytes()[:4]
	out := Classify(&providerError{code: 3, msg: "execution reverted", data: hexutil.Encode(sel)})
	assert.Equal(t, KindContractRevert, out.Kind)
	assert.Equal(t, "All editions of this campaign have been minted.", out.Message)
}

func TestClassifyRevertText(t *testing.T) {
	out := Classify(errors.New("execution reverted: Campaign closed"))
	assert.Equal(t, KindContractRevert, out.Kind)
	assert.Equal(t, "This campaign is closed.", out.Message)

	out = Classify(errors.New("execution reverted: Something odd"))
	assert.Equal(t, "The contract rejected the transaction: Something odd", out.Message)

	out = Classify(fmt.Errorf("wait: %w", wallet.ErrReverted))
	assert.Equal(t, KindContractRevert, out.Kind)
}

func TestClassifyRevertedReceiptHidesHash(t *testing.T) {
	hash := "0xa5b40a3f6c1e0d2b9a8f7e6d5c4b3a29180706f5e4d3c2b1a0998877665544"
	out := Classify(fmt.Errorf("%w: %s", wallet.ErrReverted, hash))
	assert.Equal(t, KindContractRevert, out.Kind)
	assert.Equal(t, MsgReverted, out.Message)
	assert.NotContains(t, out.Message, hash)
}

func TestClassifyRevertTableIsOrdered(t *testing.T) {
	for i := 0; i < 50; i++ {
		out := Classify(errors.New("execution reverted: campaign closed, max editions"))
		require.Equal(t, "This campaign is closed.", out.Message)
	}
}

func TestClassifyUnclassifiedIsTruncated(t *testing.T) {
	raw := "could not coalesce error " + strings.Repeat("0xdeadbeef", 50)
	out := Classify(errors.New(raw))
	assert.Equal(t, KindUnclassified, out.Kind)
	assert.Equal(t, MaxMessageRunes, len([]rune(out.Message)))
	assert.True(t, strings.HasSuffix(out.Message, "…"))
}

func TestClassifyVerification(t *testing.T) {
	err := &verifier.Error{Attempts: 1, Err: verifier.ErrClosed}
	out := Classify(err)
	assert.Equal(t, KindVerification, out.Kind)
}

func TestClassifyNil(t *testing.T) {
	assert.Equal(t, Outcome{}, Classify(nil))
}

func TestTruncateShort(t *testing.T) {
	assert.Equal(t, "short", Truncate("  short ", 10))
}
