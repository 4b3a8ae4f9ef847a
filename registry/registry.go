// Package registry implements a non-fungible token ownership ledger extended
// with off-chain, signature-authorized permits. A token's owner (or an account
// the owner has already empowered) signs a typed-data digest over
// (spender, tokenId, nonce, deadline); anyone holding the signature can redeem
// it to make spender the approved address for that token. Per-token nonces,
// advanced only by transfers, invalidate all outstanding permits for a token
// whenever it changes hands.
package registry

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EIP712DomainVersion is folded into every domain separator. Bump it only on
// incompatible changes to the permit payload layout.
var EIP712DomainVersion = "1"

// Registry is a single, fully serialized registry instance. The mutex is the
// sequencing mechanism: every state-touching call takes it for its whole
// duration, so all validity checks read state from the same atomic snapshot.
type Registry struct {
	mu sync.Mutex

	name    string
	symbol  string
	chainID *big.Int
	address common.Address

	domainSeparator [32]byte

	owners    map[string]common.Address
	balances  map[common.Address]uint64
	approved  map[string]common.Address
	operators map[common.Address]map[common.Address]bool
	tokenURIs map[string]string

	// nonces is owned by the permit engine. The only writer besides mint-time
	// default is the transfer hook in transferLocked.
	nonces map[string]uint64

	validators map[common.Address]SignatureValidator

	now func() int64
}

// New constructs a registry and computes its domain separator once from the
// registry name, the fixed domain version, the chain ID and the registry's own
// address. The separator is immutable afterwards.
func New(name, symbol string, chainID *big.Int, address common.Address) (*Registry, error) {
	separator, err := DomainSeparator(name, chainID, address)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		name:            name,
		symbol:          symbol,
		chainID:         new(big.Int).Set(chainID),
		address:         address,
		domainSeparator: separator,
		owners:          make(map[string]common.Address),
		balances:        make(map[common.Address]uint64),
		approved:        make(map[string]common.Address),
		operators:       make(map[common.Address]map[common.Address]bool),
		tokenURIs:       make(map[string]string),
		nonces:          make(map[string]uint64),
		validators:      make(map[common.Address]SignatureValidator),
		now:             func() int64 { return time.Now().Unix() },
	}

	return r, nil
}

// Name returns the registry name used in the permit signing domain.
func (r *Registry) Name() string {
	return r.name
}

func (r *Registry) Symbol() string {
	return r.symbol
}

func (r *Registry) ChainID() *big.Int {
	return new(big.Int).Set(r.chainID)
}

func (r *Registry) Address() common.Address {
	return r.address
}

// TotalTokens returns the number of tokens currently existing in the ledger.
func (r *Registry) TotalTokens() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.owners)
}

// tokenKey normalizes a token identifier for map lookups.
func tokenKey(tokenID *big.Int) string {
	return tokenID.String()
}
