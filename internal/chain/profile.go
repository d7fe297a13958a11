package chain

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"vetsmint/internal/contracts"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Variant identifies the getCampaign ABI shape deployed on a chain.
type Variant string

const (
	VariantV5 Variant = "v5"
	VariantV6 Variant = "v6"
)

var ErrUnknownProfile = errors.New("unknown chain profile")

// Profile is everything the purchase flow needs to know about one network deployment.
type Profile struct {
	Key             string         `json:"key"`
	Name            string         `json:"name"`
	ChainID         uint64         `json:"chainId"`
	ContractAddress common.Address `json:"contractAddress"`
	Variant         Variant        `json:"variant"`
	CurrencySymbol  string         `json:"currencySymbol"`
	Confirmations   uint64         `json:"confirmations"`
	GasCeiling      uint64         `json:"gasCeiling"`
	ExplorerURL     string         `json:"explorerUrl,omitempty"`

	abi    abi.ABI
	layout *layout
}

// Configured reports whether a contract address is known for this profile.
func (p Profile) Configured() bool {
	return p.ContractAddress != (common.Address{})
}

// ABI returns the parsed contract ABI for the profile's variant.
func (p Profile) ABI() abi.ABI {
	return p.abi
}

// TxURL links a transaction hash on the profile's block explorer.
func (p Profile) TxURL(hash common.Hash) string {
	if p.ExplorerURL == "" {
		return ""
	}
	return strings.TrimRight(p.ExplorerURL, "/") + "/tx/" + hash.Hex()
}

// DefaultProfiles lists the known deployments. Addresses are supplied by configuration.
func DefaultProfiles() []Profile {
	return []Profile{
		{Key: "blockdag-v5", Name: "BlockDAG (legacy)", ChainID: 1043, Variant: VariantV5, CurrencySymbol: "BDAG", Confirmations: 1, GasCeiling: 500_000, ExplorerURL: "https://awakening.bdagscan.com"},
		{Key: "blockdag-v6", Name: "BlockDAG", ChainID: 1043, Variant: VariantV6, CurrencySymbol: "BDAG", Confirmations: 1, GasCeiling: 600_000, ExplorerURL: "https://awakening.bdagscan.com"},
		{Key: "sepolia-v6", Name: "Sepolia", ChainID: 11155111, Variant: VariantV6, CurrencySymbol: "ETH", Confirmations: 2, GasCeiling: 400_000, ExplorerURL: "https://sepolia.etherscan.io"},
		{Key: "ethereum-v6", Name: "Ethereum", ChainID: 1, Variant: VariantV6, CurrencySymbol: "ETH", Confirmations: 3, GasCeiling: 400_000, ExplorerURL: "https://etherscan.io"},
	}
}

// Resolver maps a selected network to its profile.
type Resolver struct {
	profiles      map[string]Profile
	defaultKey    string
	globalAddress common.Address
}

// NewResolver validates every profile's campaign layout against its ABI once, up front.
// globalAddress is used for the default profile when it has no address of its own.
func NewResolver(profiles []Profile, defaultKey string, globalAddress string) (*Resolver, error) {
	r := &Resolver{
		profiles:   make(map[string]Profile, len(profiles)),
		defaultKey: defaultKey,
	}
	if globalAddress != "" {
		if !common.IsHexAddress(globalAddress) {
			return nil, fmt.Errorf("invalid default contract address %q", globalAddress)
		}
		r.globalAddress = common.HexToAddress(globalAddress)
	}

	for _, p := range profiles {
		if p.Key == "" {
			return nil, errors.New("profile key is required")
		}
		parsed, l, err := variantABI(p.Variant)
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", p.Key, err)
		}
		p.abi = parsed
		p.layout = l
		r.profiles[p.Key] = p
	}
	if _, ok := r.profiles[defaultKey]; !ok {
		return nil, fmt.Errorf("default profile %q: %w", defaultKey, ErrUnknownProfile)
	}
	return r, nil
}

// Resolve picks the profile for key (or the default when key is empty). The contract address
// is taken from explicitAddress, then the profile, then the resolver-wide default.
// An unconfigured profile comes back with a zero address rather than an error.
func (r *Resolver) Resolve(explicitAddress, key string) (Profile, error) {
	if key == "" {
		key = r.defaultKey
	}
	p, ok := r.profiles[key]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrUnknownProfile, key)
	}

	switch {
	case explicitAddress != "":
		if !common.IsHexAddress(explicitAddress) {
			return Profile{}, fmt.Errorf("invalid contract address %q", explicitAddress)
		}
		p.ContractAddress = common.HexToAddress(explicitAddress)
	case p.Configured():
	case key == r.defaultKey:
		p.ContractAddress = r.globalAddress
	}
	return p, nil
}

// Keys lists the registered profile keys in sorted order.
func (r *Resolver) Keys() []string {
	keys := make([]string, 0, len(r.profiles))
	for k := range r.profiles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func variantABI(v Variant) (abi.ABI, *layout, error) {
	var raw string
	var l *layout
	switch v {
	case VariantV5:
		raw, l = contracts.EditionsV5ABI, &layoutV5
	case VariantV6:
		raw, l = contracts.EditionsV6ABI, &layoutV6
	default:
		return abi.ABI{}, nil, fmt.Errorf("unsupported abi variant %q", v)
	}
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		return abi.ABI{}, nil, fmt.Errorf("parse abi: %w", err)
	}
	if err := l.validate(parsed); err != nil {
		return abi.ABI{}, nil, err
	}
	return parsed, l, nil
}
