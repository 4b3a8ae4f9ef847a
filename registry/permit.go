package registry

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

var EIP712Domain []apitypes.Type = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

var PermitPayload []apitypes.Type = []apitypes.Type{
	{Name: "spender", Type: "address"},
	{Name: "tokenId", Type: "uint256"},
	{Name: "nonce", Type: "uint256"},
	{Name: "deadline", Type: "uint256"},
}

func permitTypedData(name string, chainID *big.Int, verifyingContract common.Address, spender common.Address, tokenID, nonce, deadline *big.Int) apitypes.TypedData {
	// Permit(address spender,uint256 tokenId,uint256 nonce,uint256 deadline)
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": EIP712Domain,
			"Permit":       PermitPayload,
		},
		PrimaryType: "Permit",
		Domain: apitypes.TypedDataDomain{
			Name:              name,
			Version:           EIP712DomainVersion,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: verifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"spender":  spender.Hex(),
			"tokenId":  tokenID.String(),
			"nonce":    nonce.String(),
			"deadline": deadline.String(),
		},
	}
}

// DomainSeparator computes the EIP-712 domain hash binding permits to one
// registry name, domain version, chain and registry address.
func DomainSeparator(name string, chainID *big.Int, verifyingContract common.Address) ([32]byte, error) {
	var separator [32]byte

	data := permitTypedData(name, chainID, verifyingContract, common.Address{}, big.NewInt(0), big.NewInt(0), big.NewInt(0))
	hash, err := data.HashStruct("EIP712Domain", data.Domain.Map())
	if err != nil {
		return separator, err
	}

	copy(separator[:], hash)
	return separator, nil
}

// PermitDigest computes the digest a signer must sign to issue a permit,
// keccak256("\x19\x01" || domainSeparator || structHash), for an arbitrary
// domain. It is pure: no registry state is read and the token need not exist.
func PermitDigest(name string, chainID *big.Int, verifyingContract common.Address, spender common.Address, tokenID, nonce, deadline *big.Int) ([32]byte, error) {
	var digest [32]byte

	data := permitTypedData(name, chainID, verifyingContract, spender, tokenID, nonce, deadline)
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return digest, err
	}

	copy(digest[:], hash)
	return digest, nil
}

// DomainSeparator returns the separator computed at construction.
func (r *Registry) DomainSeparator() [32]byte {
	return r.domainSeparator
}

// PermitDigest computes the signing digest under this registry's domain.
func (r *Registry) PermitDigest(spender common.Address, tokenID, nonce, deadline *big.Int) ([32]byte, error) {
	return PermitDigest(r.name, r.chainID, r.address, spender, tokenID, nonce, deadline)
}

// Nonce returns the token's current permit nonce: zero at mint, incremented by
// exactly one on every successful transfer, untouched by permit redemption.
func (r *Registry) Nonce(tokenID *big.Int) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := tokenKey(tokenID)
	if _, exists := r.owners[key]; !exists {
		return 0, ErrUnknownToken
	}
	return r.nonces[key], nil
}

// Permit redeems an off-chain permit: on success spender becomes the approved
// address for tokenID. The signature is the sole authorization proof; any
// caller may redeem. Validation runs two paths in order: ECDSA recovery of an
// address holding approval authority over the token, then contract-based
// validation against the owner's registered validator. The nonce is not
// advanced; only a subsequent transfer retires outstanding permits.
func (r *Registry) Permit(spender common.Address, tokenID, deadline *big.Int, signature []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.permitLocked(spender, tokenID, deadline, signature)
}

func (r *Registry) permitLocked(spender common.Address, tokenID, deadline *big.Int, signature []byte) error {
	if deadline.Cmp(big.NewInt(r.now())) < 0 {
		return ErrPermitExpired
	}

	key := tokenKey(tokenID)
	owner, exists := r.owners[key]
	if !exists {
		return ErrUnknownToken
	}

	nonce := new(big.Int).SetUint64(r.nonces[key])
	digest, err := PermitDigest(r.name, r.chainID, r.address, spender, tokenID, nonce, deadline)
	if err != nil {
		return err
	}

	if signer, ok := recoverSigner(digest, signature); ok {
		if signer != (common.Address{}) && r.hasApprovalAuthority(signer, owner, key) {
			r.approved[key] = spender
			return nil
		}
	}

	// Programmable-account owners have no static public key to recover; ask
	// the owner's own validation logic instead.
	if validator, ok := r.validators[owner]; ok {
		if validator.IsValidSignature(digest, signature) {
			r.approved[key] = spender
			return nil
		}
	}

	return ErrInvalidPermitSignature
}

// PermitAndTransfer redeems a permit and immediately transfers the token to
// "to" as the freshly approved spender. Both steps happen under one lock
// acquisition, so no other operation interleaves between them.
func (r *Registry) PermitAndTransfer(spender, to common.Address, tokenID, deadline *big.Int, signature []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.permitLocked(spender, tokenID, deadline, signature); err != nil {
		return err
	}

	owner := r.owners[tokenKey(tokenID)]
	return r.transferLocked(spender, owner, to, tokenID)
}

// recoverSigner recovers the signing address from a 65-byte signature over
// digest. The v byte is normalized so that 27 -> 0, 28 -> 1.
// For more context: https://github.com/ethereum/go-ethereum/issues/2053
func recoverSigner(digest [32]byte, signature []byte) (common.Address, bool) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, false
	}

	normalized := make([]byte, crypto.SignatureLength)
	copy(normalized, signature)
	if normalized[64] == 27 || normalized[64] == 28 {
		normalized[64] -= 27
	}

	pubkey, err := crypto.SigToPub(digest[:], normalized)
	if err != nil {
		return common.Address{}, false
	}

	return crypto.PubkeyToAddress(*pubkey), true
}
