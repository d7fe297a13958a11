package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	methodTotalCampaigns   = "totalCampaigns"
	methodGetCampaign      = "getCampaign"
	methodMint             = "mintSingleEdition"
	methodMintWithGratuity = "mintSingleEditionWithGratuity"
	eventEditionMinted     = "EditionMinted"
)

var ErrNoMintEvent = errors.New("no EditionMinted event in receipt")

// EditionMinted is the decoded mint-completed event.
type EditionMinted struct {
	CampaignID    *big.Int
	EditionID     *big.Int
	Donor         common.Address
	EditionNumber *big.Int
	AmountPaid    *big.Int
}

// Contract reads campaigns from and encodes mint calls for one profile's deployment.
type Contract struct {
	profile Profile
	bound   *bind.BoundContract
}

func NewContract(profile Profile, caller bind.ContractCaller) *Contract {
	return &Contract{
		profile: profile,
		bound:   bind.NewBoundContract(profile.ContractAddress, profile.abi, caller, nil, nil),
	}
}

func (c *Contract) Profile() Profile {
	return c.profile
}

func (c *Contract) TotalCampaigns(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, methodTotalCampaigns); err != nil {
		return nil, fmt.Errorf("call %s: %w", methodTotalCampaigns, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s returned %d values", methodTotalCampaigns, len(out))
	}
	total, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s returned %T", methodTotalCampaigns, out[0])
	}
	return total, nil
}

func (c *Contract) Campaign(ctx context.Context, id *big.Int) (Campaign, error) {
	var out []interface{}
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, methodGetCampaign, id); err != nil {
		return Campaign{}, fmt.Errorf("call %s(%s): %w", methodGetCampaign, id, err)
	}
	return c.profile.layout.decode(id, out)
}

// PackMint encodes the plain single-edition mint.
func (c *Contract) PackMint(campaignID *big.Int) ([]byte, error) {
	return c.profile.abi.Pack(methodMint, campaignID)
}

// PackMintWithGratuity encodes the mint that carries a gratuity on top of the edition price.
func (c *Contract) PackMintWithGratuity(campaignID, gratuity *big.Int) ([]byte, error) {
	return c.profile.abi.Pack(methodMintWithGratuity, campaignID, gratuity)
}

// ParseEditionMinted returns the first EditionMinted event emitted by this contract in receipt.
func (c *Contract) ParseEditionMinted(receipt *types.Receipt) (EditionMinted, error) {
	if receipt == nil {
		return EditionMinted{}, ErrNoMintEvent
	}
	event, ok := c.profile.abi.Events[eventEditionMinted]
	if !ok {
		return EditionMinted{}, fmt.Errorf("abi has no %s event", eventEditionMinted)
	}

	var indexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}

	var lastErr error
	for _, lg := range receipt.Logs {
		if lg == nil || lg.Address != c.profile.ContractAddress {
			continue
		}
		if len(lg.Topics) != len(indexed)+1 || lg.Topics[0] != event.ID {
			continue
		}
		fields := make(map[string]interface{})
		if err := c.profile.abi.UnpackIntoMap(fields, eventEditionMinted, lg.Data); err != nil {
			lastErr = fmt.Errorf("unpack %s data: %w", eventEditionMinted, err)
			continue
		}
		if err := abi.ParseTopicsIntoMap(fields, indexed, lg.Topics[1:]); err != nil {
			lastErr = fmt.Errorf("parse %s topics: %w", eventEditionMinted, err)
			continue
		}
		ev := EditionMinted{}
		ev.CampaignID, _ = fields["campaignId"].(*big.Int)
		ev.EditionID, _ = fields["editionId"].(*big.Int)
		ev.Donor, _ = fields["donor"].(common.Address)
		ev.EditionNumber, _ = fields["editionNumber"].(*big.Int)
		ev.AmountPaid, _ = fields["amountPaid"].(*big.Int)
		if ev.EditionID == nil {
			lastErr = fmt.Errorf("%s without editionId", eventEditionMinted)
			continue
		}
		return ev, nil
	}
	if lastErr != nil {
		return EditionMinted{}, lastErr
	}
	return EditionMinted{}, ErrNoMintEvent
}
