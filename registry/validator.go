package registry

import "github.com/ethereum/go-ethereum/common"

// SignatureValidator is the contract-based signature validation hook for
// owners that are programmable accounts rather than key-holding accounts.
// Implementations answer whether digest+signature constitute a valid signature
// by the account itself. A plain "no" is false, not an error.
type SignatureValidator interface {
	IsValidSignature(digest [32]byte, signature []byte) bool
}

// RegisterValidator installs the validation logic for a programmable account.
// The permit fallback path consults it only when the account is the current
// owner of the token being permitted.
func (r *Registry) RegisterValidator(account common.Address, validator SignatureValidator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[account] = validator
}
