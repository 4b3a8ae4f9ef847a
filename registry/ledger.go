package registry

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Mint creates tokenID owned by to. The token's nonce starts at the map
// default of zero; there is no explicit allocation step.
func (r *Registry) Mint(to common.Address, tokenID *big.Int, uri string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if to == (common.Address{}) {
		return ErrZeroAddress
	}

	key := tokenKey(tokenID)
	if _, exists := r.owners[key]; exists {
		return ErrTokenExists
	}

	r.owners[key] = to
	r.balances[to]++
	if uri != "" {
		r.tokenURIs[key] = uri
	}

	return nil
}

// Burn destroys tokenID. The caller must hold transfer-level authority over
// the token. The historical nonce entry is deliberately left in place.
func (r *Registry) Burn(caller common.Address, tokenID *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := tokenKey(tokenID)
	owner, exists := r.owners[key]
	if !exists {
		return ErrUnknownToken
	}
	if !r.hasApprovalAuthority(caller, owner, key) {
		return ErrNotAuthorized
	}

	delete(r.owners, key)
	delete(r.approved, key)
	delete(r.tokenURIs, key)
	r.balances[owner]--
	if r.balances[owner] == 0 {
		delete(r.balances, owner)
	}

	return nil
}

// TransferFrom moves tokenID from from to to. The caller must be the owner,
// the approved address, or an operator approved by the owner. The token's
// nonce is advanced before ownership changes, which retires every outstanding
// permit signed against the pre-transfer nonce.
func (r *Registry) TransferFrom(caller, from, to common.Address, tokenID *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transferLocked(caller, from, to, tokenID)
}

func (r *Registry) transferLocked(caller, from, to common.Address, tokenID *big.Int) error {
	key := tokenKey(tokenID)
	owner, exists := r.owners[key]
	if !exists {
		return ErrUnknownToken
	}
	if owner != from {
		return ErrWrongOwner
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if !r.hasApprovalAuthority(caller, owner, key) {
		return ErrNotAuthorized
	}

	// Permit-invalidation hook: advance the nonce before the ownership change.
	r.nonces[key]++

	delete(r.approved, key)
	r.balances[from]--
	if r.balances[from] == 0 {
		delete(r.balances, from)
	}
	r.balances[to]++
	r.owners[key] = to

	return nil
}

// Approve sets spender as the single approved address for tokenID. The caller
// must be the owner or one of the owner's operators.
func (r *Registry) Approve(caller, spender common.Address, tokenID *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := tokenKey(tokenID)
	owner, exists := r.owners[key]
	if !exists {
		return ErrUnknownToken
	}
	if caller != owner && !r.operators[owner][caller] {
		return ErrNotAuthorized
	}

	if spender == (common.Address{}) {
		delete(r.approved, key)
	} else {
		r.approved[key] = spender
	}

	return nil
}

// SetApprovalForAll grants or revokes operator authority over every token the
// caller owns, now and in the future.
func (r *Registry) SetApprovalForAll(caller, operator common.Address, approved bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if operator == (common.Address{}) {
		return ErrZeroAddress
	}

	if approved {
		if r.operators[caller] == nil {
			r.operators[caller] = make(map[common.Address]bool)
		}
		r.operators[caller][operator] = true
	} else {
		delete(r.operators[caller], operator)
	}

	return nil
}

func (r *Registry) OwnerOf(tokenID *big.Int) (common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, exists := r.owners[tokenKey(tokenID)]
	if !exists {
		return common.Address{}, ErrUnknownToken
	}
	return owner, nil
}

func (r *Registry) BalanceOf(owner common.Address) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[owner]
}

// GetApproved returns the single approved address for tokenID, or the zero
// address if none is set.
func (r *Registry) GetApproved(tokenID *big.Int) (common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := tokenKey(tokenID)
	if _, exists := r.owners[key]; !exists {
		return common.Address{}, ErrUnknownToken
	}
	return r.approved[key], nil
}

func (r *Registry) IsApprovedForAll(owner, operator common.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.operators[owner][operator]
}

func (r *Registry) Exists(tokenID *big.Int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.owners[tokenKey(tokenID)]
	return exists
}

func (r *Registry) TokenURI(tokenID *big.Int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := tokenKey(tokenID)
	if _, exists := r.owners[key]; !exists {
		return "", ErrUnknownToken
	}
	return r.tokenURIs[key], nil
}

// hasApprovalAuthority reports whether account may manage the token: it is the
// owner, the approved address, or an operator approved by the owner. Callers
// must hold the registry lock.
func (r *Registry) hasApprovalAuthority(account, owner common.Address, key string) bool {
	if account == owner {
		return true
	}
	if r.approved[key] == account {
		return true
	}
	return r.operators[owner][account]
}
