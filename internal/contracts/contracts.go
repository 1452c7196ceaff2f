// Package contracts resolves logical contract names to on-chain addresses.
package contracts

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// Stable is an alias for the configured primary stable-asset contract
	Stable = "STABLE"
	// WrappedNative is an alias for the native asset pseudo address
	WrappedNative = "WETH"
	// Native names the native asset pseudo address
	Native = "ETH"
)

// NativeAddress is the conventional placeholder address for the chain's native asset
var NativeAddress = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

var (
	ErrUnknownName    = errors.New("unknown contract name")
	ErrInvalidAddress = errors.New("invalid contract address")
	ErrReservedName   = errors.New("contract name is reserved for an alias")
)

// DefaultStable is the stable contract used when none is named
const DefaultStable = "DAI"

// AddressBook maps contract names to addresses.
// Aliases resolve to the address of the contract they stand for.
type AddressBook struct {
	mu        sync.RWMutex
	addresses map[string]common.Address
	aliases   map[string]string
}

// New creates an address book from a name -> hex address table.
// stableName names the entry the STABLE alias points at. When empty, DAI is used if
// the table lists it; otherwise STABLE stays unresolvable and HasStable reports false.
func New(table map[string]string, stableName string) (*AddressBook, error) {
	b := &AddressBook{
		addresses: map[string]common.Address{Native: NativeAddress},
		aliases:   map[string]string{WrappedNative: Native},
	}
	for name, hex := range table {
		if err := b.Set(name, hex); err != nil {
			return nil, err
		}
	}
	if stableName == "" {
		if _, ok := b.addresses[DefaultStable]; ok {
			stableName = DefaultStable
		}
	}
	if stableName != "" {
		if _, ok := b.addresses[stableName]; !ok {
			return nil, fmt.Errorf("stable contract %q: %w", stableName, ErrUnknownName)
		}
		b.aliases[Stable] = stableName
	}
	return b, nil
}

// Set adds or replaces a named address
func (b *AddressBook) Set(name, hex string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidAddress)
	}
	if name == Stable || name == WrappedNative {
		return fmt.Errorf("%w: %s", ErrReservedName, name)
	}
	if !common.IsHexAddress(hex) {
		return fmt.Errorf("%w: %s=%q", ErrInvalidAddress, name, hex)
	}
	b.mu.Lock()
	b.addresses[name] = common.HexToAddress(hex)
	b.mu.Unlock()
	return nil
}

// HasStable reports whether the STABLE alias points at a contract
func (b *AddressBook) HasStable() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.aliases[Stable]
	return ok
}

// Resolve returns the address for name, following aliases
func (b *AddressBook) Resolve(name string) (common.Address, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if target, ok := b.aliases[name]; ok {
		name = target
	}
	addr, ok := b.addresses[name]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnknownName, name)
	}
	return addr, nil
}

// Names returns every resolvable name, aliases included, sorted
func (b *AddressBook) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.addresses)+len(b.aliases))
	for name := range b.addresses {
		names = append(names, name)
	}
	for alias := range b.aliases {
		names = append(names, alias)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the first non-alias name registered for addr
func (b *AddressBook) Lookup(addr common.Address) (string, bool) {
	for _, name := range b.Names() {
		if b.isAlias(name) {
			continue
		}
		if resolved, err := b.Resolve(name); err == nil && resolved == addr {
			return name, true
		}
	}
	return "", false
}

func (b *AddressBook) isAlias(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.aliases[name]
	return ok
}
