package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Campaign is the decoded getCampaign record.
type Campaign struct {
	ID              *big.Int
	Category        string
	MetadataURI     string
	Goal            *big.Int
	GrossRaised     *big.Int
	NetRaised       *big.Int
	EditionsMinted  *big.Int
	MaxEditions     *big.Int
	PricePerEdition *big.Int
	Active          bool
	Closed          bool

	// Set only by the v6 layout.
	Nonprofit       common.Address
	Submitter       common.Address
	ImmediatePayout bool
}

// SoldOut reports whether a capped campaign has no editions left.
func (c Campaign) SoldOut() bool {
	if c.MaxEditions == nil || c.MaxEditions.Sign() == 0 || c.EditionsMinted == nil {
		return false
	}
	return c.EditionsMinted.Cmp(c.MaxEditions) >= 0
}

// Remaining returns the number of editions left, or -1 when uncapped.
func (c Campaign) Remaining() int64 {
	if c.MaxEditions == nil || c.MaxEditions.Sign() == 0 {
		return -1
	}
	left := new(big.Int).Sub(c.MaxEditions, c.EditionsMinted)
	if left.Sign() < 0 {
		return 0
	}
	return left.Int64()
}

const noField = -1

// layout is the positional map of getCampaign outputs for one ABI variant.
type layout struct {
	outputs         int
	category        int
	metadataURI     int
	goal            int
	grossRaised     int
	netRaised       int
	editionsMinted  int
	maxEditions     int
	pricePerEdition int
	nonprofit       int
	submitter       int
	active          int
	closed          int
	immediatePayout int
}

var layoutV5 = layout{
	outputs: 10, category: 0, metadataURI: 1, goal: 2, grossRaised: 3, netRaised: 4,
	editionsMinted: 5, maxEditions: 6, pricePerEdition: 7,
	nonprofit: noField, submitter: noField,
	active: 8, closed: 9, immediatePayout: noField,
}

var layoutV6 = layout{
	outputs: 13, category: 0, metadataURI: 1, goal: 2, grossRaised: 3, netRaised: 4,
	editionsMinted: 5, maxEditions: 6, pricePerEdition: 7,
	nonprofit: 8, submitter: 9,
	active: 10, closed: 11, immediatePayout: 12,
}

func (l *layout) validate(parsed abi.ABI) error {
	method, ok := parsed.Methods["getCampaign"]
	if !ok {
		return fmt.Errorf("abi has no getCampaign method")
	}
	if len(method.Outputs) != l.outputs {
		return fmt.Errorf("getCampaign returns %d values, layout expects %d", len(method.Outputs), l.outputs)
	}
	for name, idx := range map[string]int{"active": l.active, "closed": l.closed, "immediatePayout": l.immediatePayout} {
		if idx == noField {
			continue
		}
		if method.Outputs[idx].Type.T != abi.BoolTy {
			return fmt.Errorf("getCampaign output %d (%s) is %s, want bool", idx, name, method.Outputs[idx].Type)
		}
	}
	for name, idx := range map[string]int{"nonprofit": l.nonprofit, "submitter": l.submitter} {
		if idx == noField {
			continue
		}
		if method.Outputs[idx].Type.T != abi.AddressTy {
			return fmt.Errorf("getCampaign output %d (%s) is %s, want address", idx, name, method.Outputs[idx].Type)
		}
	}
	return nil
}

func (l *layout) decode(id *big.Int, values []interface{}) (Campaign, error) {
	if len(values) != l.outputs {
		return Campaign{}, fmt.Errorf("campaign %s: got %d values, want %d", id, len(values), l.outputs)
	}
	d := decoder{values: values}
	c := Campaign{
		ID:              id,
		Category:        d.str(l.category),
		MetadataURI:     d.str(l.metadataURI),
		Goal:            d.bigInt(l.goal),
		GrossRaised:     d.bigInt(l.grossRaised),
		NetRaised:       d.bigInt(l.netRaised),
		EditionsMinted:  d.bigInt(l.editionsMinted),
		MaxEditions:     d.bigInt(l.maxEditions),
		PricePerEdition: d.bigInt(l.pricePerEdition),
		Active:          d.boolean(l.active),
		Closed:          d.boolean(l.closed),
		Nonprofit:       d.address(l.nonprofit),
		Submitter:       d.address(l.submitter),
		ImmediatePayout: d.boolean(l.immediatePayout),
	}
	if d.err != nil {
		return Campaign{}, fmt.Errorf("campaign %s: %w", id, d.err)
	}
	return c, nil
}

type decoder struct {
	values []interface{}
	err    error
}

func (d *decoder) fail(idx int, want string) {
	if d.err == nil {
		d.err = fmt.Errorf("output %d is %T, want %s", idx, d.values[idx], want)
	}
}

func (d *decoder) str(idx int) string {
	if idx == noField {
		return ""
	}
	v, ok := d.values[idx].(string)
	if !ok {
		d.fail(idx, "string")
	}
	return v
}

func (d *decoder) bigInt(idx int) *big.Int {
	if idx == noField {
		return nil
	}
	v, ok := d.values[idx].(*big.Int)
	if !ok {
		d.fail(idx, "*big.Int")
		return new(big.Int)
	}
	return v
}

func (d *decoder) boolean(idx int) bool {
	if idx == noField {
		return false
	}
	v, ok := d.values[idx].(bool)
	if !ok {
		d.fail(idx, "bool")
	}
	return v
}

func (d *decoder) address(idx int) common.Address {
	if idx == noField {
		return common.Address{}
	}
	v, ok := d.values[idx].(common.Address)
	if !ok {
		d.fail(idx, "address")
	}
	return v
}
