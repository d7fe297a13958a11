// Package chaintest provides an in-memory contract backend for exercising chain reads in tests.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"vetsmint/internal/chain"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Caller implements bind.ContractCaller by ABI-encoding campaigns held in memory.
type Caller struct {
	mu        sync.Mutex
	profile   chain.Profile
	total     *big.Int
	campaigns map[string]chain.Campaign
	failures  []error

	TotalCalls    int
	CampaignCalls int
}

func NewCaller(profile chain.Profile) *Caller {
	return &Caller{
		profile:   profile,
		total:     new(big.Int),
		campaigns: make(map[string]chain.Campaign),
	}
}

// SetTotal overrides the totalCampaigns result.
func (c *Caller) SetTotal(total int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total = big.NewInt(total)
}

// PutCampaign stores a campaign and bumps the total so the id is visible.
func (c *Caller) PutCampaign(camp chain.Campaign) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.campaigns[camp.ID.String()] = camp
	next := new(big.Int).Add(camp.ID, big.NewInt(1))
	if next.Cmp(c.total) > 0 {
		c.total = next
	}
}

// FailNext makes the next len(errs) calls return the given errors in order.
func (c *Caller) FailNext(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, errs...)
}

func (c *Caller) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (c *Caller) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(call.Data) < 4 {
		return nil, errors.New("short calldata")
	}
	parsed := c.profile.ABI()
	method, err := parsed.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "totalCampaigns":
		c.TotalCalls++
	case "getCampaign":
		c.CampaignCalls++
	}

	if len(c.failures) > 0 {
		err := c.failures[0]
		c.failures = c.failures[1:]
		return nil, err
	}

	switch method.Name {
	case "totalCampaigns":
		return method.Outputs.Pack(new(big.Int).Set(c.total))
	case "getCampaign":
		args, err := method.Inputs.Unpack(call.Data[4:])
		if err != nil {
			return nil, err
		}
		id := args[0].(*big.Int)
		camp, ok := c.campaigns[id.String()]
		if !ok {
			return nil, errors.New("execution reverted: campaign does not exist")
		}
		return method.Outputs.Pack(c.values(camp)...)
	default:
		return nil, fmt.Errorf("unexpected call to %s", method.Name)
	}
}

func (c *Caller) values(camp chain.Campaign) []interface{} {
	n := func(v *big.Int) *big.Int {
		if v == nil {
			return new(big.Int)
		}
		return v
	}
	head := []interface{}{
		camp.Category, camp.MetadataURI, n(camp.Goal), n(camp.GrossRaised), n(camp.NetRaised),
		n(camp.EditionsMinted), n(camp.MaxEditions), n(camp.PricePerEdition),
	}
	if c.profile.Variant == chain.VariantV5 {
		return append(head, camp.Active, camp.Closed)
	}
	return append(head, camp.Nonprofit, camp.Submitter, camp.Active, camp.Closed, camp.ImmediatePayout)
}

// EditionMintedLog builds the log the contract emits for one mint.
func EditionMintedLog(profile chain.Profile, campaignID, editionID *big.Int, donor common.Address, editionNumber, amountPaid *big.Int) *types.Log {
	event := profile.ABI().Events["EditionMinted"]
	data, err := event.Inputs.NonIndexed().Pack(editionNumber, amountPaid)
	if err != nil {
		panic(err)
	}
	return &types.Log{
		Address: profile.ContractAddress,
		Topics: []common.Hash{
			event.ID,
			common.BigToHash(campaignID),
			common.BigToHash(editionID),
			common.BytesToHash(donor.Bytes()),
		},
		Data: data,
	}
}
