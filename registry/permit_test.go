package registry

import (
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

const testNow int64 = 1_700_000_000

func generateAccount(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	return key, crypto.PubkeyToAddress(key.PublicKey)
}

// signPermit signs the registry's permit digest and returns a wallet-style
// signature with the v byte shifted to 27/28.
func signPermit(t *testing.T, r *Registry, key *ecdsa.PrivateKey, spender common.Address, tokenID, nonce, deadline *big.Int) []byte {
	t.Helper()

	digest, err := r.PermitDigest(spender, tokenID, nonce, deadline)
	require.NoError(t, err)

	signature, err := crypto.Sign(digest[:], key)
	require.NoError(t, err)
	if signature[64] < 2 {
		signature[64] += 27
	}

	return signature
}

func futureDeadline() *big.Int {
	return big.NewInt(testNow + 3600)
}

func TestNonceLifecycle(t *testing.T) {
	r := newTestRegistry(t)
	_, owner := generateAccount(t)
	tokenID := big.NewInt(1)

	t.Run("Unknown token", func(t *testing.T) {
		_, err := r.Nonce(tokenID)
		require.ErrorIs(t, err, ErrUnknownToken)
	})

	require.NoError(t, r.Mint(owner, tokenID, ""))

	t.Run("Zero after mint", func(t *testing.T) {
		nonce, err := r.Nonce(tokenID)
		require.NoError(t, err)
		require.Equal(t, uint64(0), nonce)
	})

	t.Run("Counts successful transfers", func(t *testing.T) {
		recipients := []common.Address{accountSpender, accountOperator, accountStranger}
		from := owner
		for i, to := range recipients {
			require.NoError(t, r.TransferFrom(from, from, to, tokenID))

			nonce, err := r.Nonce(tokenID)
			require.NoError(t, err)
			require.Equal(t, uint64(i+1), nonce)

			from = to
		}
	})

	t.Run("Failed transfer leaves nonce unchanged", func(t *testing.T) {
		before, err := r.Nonce(tokenID)
		require.NoError(t, err)

		require.Error(t, r.TransferFrom(owner, owner, accountSpender, tokenID))

		after, err := r.Nonce(tokenID)
		require.NoError(t, err)
		require.Equal(t, before, after)
	})
}

func TestPermit(t *testing.T) {
	ownerKey, owner := generateAccount(t)
	_, spender := generateAccount(t)
	tokenID := big.NewInt(1)

	t.Run("Owner-signed permit grants approval and leaves nonce untouched", func(t *testing.T) {
		r := newTestRegistry(t)
		require.NoError(t, r.Mint(owner, tokenID, ""))

		deadline := futureDeadline()
		signature := signPermit(t, r, ownerKey, spender, tokenID, big.NewInt(0), deadline)

		require.NoError(t, r.Permit(spender, tokenID, deadline, signature))

		approved, err := r.GetApproved(tokenID)
		require.NoError(t, err)
		require.Equal(t, spender, approved)

		nonce, err := r.Nonce(tokenID)
		require.NoError(t, err)
		require.Equal(t, uint64(0), nonce)
	})

	t.Run("Sensible v-byte signature is accepted", func(t *testing.T) {
		r := newTestRegistry(t)
		require.NoError(t, r.Mint(owner, tokenID, ""))

		deadline := futureDeadline()
		signature := signPermit(t, r, ownerKey, spender, tokenID, big.NewInt(0), deadline)
		signature[64] -= 27

		require.NoError(t, r.Permit(spender, tokenID, deadline, signature))
	})

	t.Run("Approved address may issue permits", func(t *testing.T) {
		r := newTestRegistry(t)
		require.NoError(t, r.Mint(owner, tokenID, ""))

		issuerKey, issuer := generateAccount(t)
		require.NoError(t, r.Approve(owner, issuer, tokenID))

		deadline := futureDeadline()
		signature := signPermit(t, r, issuerKey, spender, tokenID, big.NewInt(0), deadline)

		require.NoError(t, r.Permit(spender, tokenID, deadline, signature))

		approved, err := r.GetApproved(tokenID)
		require.NoError(t, err)
		require.Equal(t, spender, approved)
	})

	t.Run("Operator may issue permits", func(t *testing.T) {
		r := newTestRegistry(t)
		require.NoError(t, r.Mint(owner, tokenID, ""))

		operatorKey, operator := generateAccount(t)
		require.NoError(t, r.SetApprovalForAll(owner, operator, true))

		deadline := futureDeadline()
		signature := signPermit(t, r, operatorKey, spender, tokenID, big.NewInt(0), deadline)

		require.NoError(t, r.Permit(spender, tokenID, deadline, signature))
	})

	t.Run("Expired deadline rejected before signature checks", func(t *testing.T) {
		r := newTestRegistry(t)
		require.NoError(t, r.Mint(owner, tokenID, ""))

		deadline := big.NewInt(testNow - 1)
		signature := signPermit(t, r, ownerKey, spender, tokenID, big.NewInt(0), deadline)

		require.ErrorIs(t, r.Permit(spender, tokenID, deadline, signature), ErrPermitExpired)
	})

	t.Run("Deadline equal to now is still valid", func(t *testing.T) {
		r := newTestRegistry(t)
		require.NoError(t, r.Mint(owner, tokenID, ""))

		deadline := big.NewInt(testNow)
		signature := signPermit(t, r, ownerKey, spender, tokenID, big.NewInt(0), deadline)

		require.NoError(t, r.Permit(spender, tokenID, deadline, signature))
	})

	t.Run("Unknown token rejected", func(t *testing.T) {
		r := newTestRegistry(t)

		deadline := futureDeadline()
		signature := signPermit(t, r, ownerKey, spender, tokenID, big.NewInt(0), deadline)

		require.ErrorIs(t, r.Permit(spender, tokenID, deadline, signature), ErrUnknownToken)
	})

	t.Run("Stranger signature rejected", func(t *testing.T) {
		r := newTestRegistry(t)
		require.NoError(t, r.Mint(owner, tokenID, ""))

		strangerKey, _ := generateAccount(t)
		deadline := futureDeadline()
		signature := signPermit(t, r, strangerKey, spender, tokenID, big.NewInt(0), deadline)

		require.ErrorIs(t, r.Permit(spender, tokenID, deadline, signature), ErrInvalidPermitSignature)
	})

	t.Run("Malformed signature rejected", func(t *testing.T) {
		r := newTestRegistry(t)
		require.NoError(t, r.Mint(owner, tokenID, ""))

		require.ErrorIs(t, r.Permit(spender, tokenID, futureDeadline(), []byte{0x01, 0x02}), ErrInvalidPermitSignature)

		garbage := make([]byte, 65)
		garbage[64] = 27
		require.ErrorIs(t, r.Permit(spender, tokenID, futureDeadline(), garbage), ErrInvalidPermitSignature)
	})

	t.Run("Wrong nonce in signed payload rejected", func(t *testing.T) {
		r := newTestRegistry(t)
		require.NoError(t, r.Mint(owner, tokenID, ""))

		deadline := futureDeadline()
		signature := signPermit(t, r, ownerKey, spender, tokenID, big.NewInt(1), deadline)

		require.ErrorIs(t, r.Permit(spender, tokenID, deadline, signature), ErrInvalidPermitSignature)
	})

	t.Run("Transfer retires outstanding permits", func(t *testing.T) {
		r := newTestRegistry(t)
		require.NoError(t, r.Mint(owner, tokenID, ""))

		deadline := futureDeadline()
		signature := signPermit(t, r, ownerKey, spender, tokenID, big.NewInt(0), deadline)

		require.NoError(t, r.TransferFrom(owner, owner, accountStranger, tokenID))
		require.ErrorIs(t, r.Permit(spender, tokenID, deadline, signature), ErrInvalidPermitSignature)
	})

	t.Run("Redemption is repeatable before any transfer", func(t *testing.T) {
		r := newTestRegistry(t)
		require.NoError(t, r.Mint(owner, tokenID, ""))

		deadline := futureDeadline()
		signature := signPermit(t, r, ownerKey, spender, tokenID, big.NewInt(0), deadline)

		require.NoError(t, r.Permit(spender, tokenID, deadline, signature))
		require.NoError(t, r.Approve(owner, common.Address{}, tokenID))
		require.NoError(t, r.Permit(spender, tokenID, deadline, signature))

		approved, err := r.GetApproved(tokenID)
		require.NoError(t, err)
		require.Equal(t, spender, approved)
	})
}

// contractAccount is a programmable-account stand-in: it accepts a signature
// when the recovered signer matches its configured session key.
type contractAccount struct {
	sessionKey common.Address
}

func (c *contractAccount) IsValidSignature(digest [32]byte, signature []byte) bool {
	signer, ok := recoverSigner(digest, signature)
	return ok && signer == c.sessionKey
}

type rejectAllAccount struct{}

func (rejectAllAccount) IsValidSignature(digest [32]byte, signature []byte) bool {
	return false
}

func TestPermitContractValidation(t *testing.T) {
	sessionKey, sessionAddress := generateAccount(t)
	_, spender := generateAccount(t)
	tokenID := big.NewInt(1)

	// The owner is a contract-style account with no key of its own.
	contractOwner := common.HexToAddress("0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC")

	t.Run("Owner validator accepts", func(t *testing.T) {
		r := newTestRegistry(t)
		require.NoError(t, r.Mint(contractOwner, tokenID, ""))
		r.RegisterValidator(contractOwner, &contractAccount{sessionKey: sessionAddress})

		deadline := futureDeadline()
		signature := signPermit(t, r, sessionKey, spender, tokenID, big.NewInt(0), deadline)

		require.NoError(t, r.Permit(spender, tokenID, deadline, signature))

		approved, err := r.GetApproved(tokenID)
		require.NoError(t, err)
		require.Equal(t, spender, approved)
	})

	t.Run("Owner validator rejects", func(t *testing.T) {
		r := newTestRegistry(t)
		require.NoError(t, r.Mint(contractOwner, tokenID, ""))
		r.RegisterValidator(contractOwner, rejectAllAccount{})

		deadline := futureDeadline()
		signature := signPermit(t, r, sessionKey, spender, tokenID, big.NewInt(0), deadline)

		require.ErrorIs(t, r.Permit(spender, tokenID, deadline, signature), ErrInvalidPermitSignature)
	})

	t.Run("Validator of a non-owner is not consulted", func(t *testing.T) {
		r := newTestRegistry(t)
		require.NoError(t, r.Mint(contractOwner, tokenID, ""))
		r.RegisterValidator(accountStranger, &contractAccount{sessionKey: sessionAddress})

		deadline := futureDeadline()
		signature := signPermit(t, r, sessionKey, spender, tokenID, big.NewInt(0), deadline)

		require.ErrorIs(t, r.Permit(spender, tokenID, deadline, signature), ErrInvalidPermitSignature)
	})
}

func TestPermitDigest(t *testing.T) {
	r := newTestRegistry(t)
	_, spender := generateAccount(t)

	base := func() ([32]byte, error) {
		return r.PermitDigest(spender, big.NewInt(1), big.NewInt(0), big.NewInt(testNow+3600))
	}

	t.Run("Deterministic", func(t *testing.T) {
		first, err := base()
		require.NoError(t, err)
		second, err := base()
		require.NoError(t, err)
		require.Equal(t, first, second)
	})

	t.Run("Every field changes the digest", func(t *testing.T) {
		reference, err := base()
		require.NoError(t, err)

		variants := map[string]func() ([32]byte, error){
			"spender": func() ([32]byte, error) {
				return r.PermitDigest(accountStranger, big.NewInt(1), big.NewInt(0), big.NewInt(testNow+3600))
			},
			"tokenId": func() ([32]byte, error) {
				return r.PermitDigest(spender, big.NewInt(2), big.NewInt(0), big.NewInt(testNow+3600))
			},
			"nonce": func() ([32]byte, error) {
				return r.PermitDigest(spender, big.NewInt(1), big.NewInt(1), big.NewInt(testNow+3600))
			},
			"deadline": func() ([32]byte, error) {
				return r.PermitDigest(spender, big.NewInt(1), big.NewInt(0), big.NewInt(testNow+7200))
			},
			"chainId": func() ([32]byte, error) {
				return PermitDigest(r.Name(), big.NewInt(1), r.Address(), spender, big.NewInt(1), big.NewInt(0), big.NewInt(testNow+3600))
			},
			"registryAddress": func() ([32]byte, error) {
				return PermitDigest(r.Name(), r.ChainID(), accountStranger, spender, big.NewInt(1), big.NewInt(0), big.NewInt(testNow+3600))
			},
			"registryName": func() ([32]byte, error) {
				return PermitDigest("Other Registry", r.ChainID(), r.Address(), spender, big.NewInt(1), big.NewInt(0), big.NewInt(testNow+3600))
			},
		}

		for field, variant := range variants {
			digest, err := variant()
			require.NoError(t, err, field)
			require.NotEqual(t, reference, digest, "changing %s should change the digest", field)
		}
	})

	t.Run("Domain separator is a prefix commitment", func(t *testing.T) {
		separator := r.DomainSeparator()
		require.NotEqual(t, [32]byte{}, separator)

		recomputed, err := DomainSeparator(r.Name(), r.ChainID(), r.Address())
		require.NoError(t, err)
		require.Equal(t, separator, recomputed)
	})
}

func TestPermitAndTransfer(t *testing.T) {
	ownerKey, owner := generateAccount(t)
	_, spender := generateAccount(t)
	tokenID := big.NewInt(1)

	t.Run("Redeems then transfers in one operation", func(t *testing.T) {
		r := newTestRegistry(t)
		require.NoError(t, r.Mint(owner, tokenID, ""))

		deadline := futureDeadline()
		signature := signPermit(t, r, ownerKey, spender, tokenID, big.NewInt(0), deadline)

		require.NoError(t, r.PermitAndTransfer(spender, spender, tokenID, deadline, signature))

		newOwner, err := r.OwnerOf(tokenID)
		require.NoError(t, err)
		require.Equal(t, spender, newOwner)

		nonce, err := r.Nonce(tokenID)
		require.NoError(t, err)
		require.Equal(t, uint64(1), nonce)
	})

	t.Run("Invalid permit leaves ownership unchanged", func(t *testing.T) {
		r := newTestRegistry(t)
		require.NoError(t, r.Mint(owner, tokenID, ""))

		strangerKey, _ := generateAccount(t)
		deadline := futureDeadline()
		signature := signPermit(t, r, strangerKey, spender, tokenID, big.NewInt(0), deadline)

		require.ErrorIs(t, r.PermitAndTransfer(spender, spender, tokenID, deadline, signature), ErrInvalidPermitSignature)

		currentOwner, err := r.OwnerOf(tokenID)
		require.NoError(t, err)
		require.Equal(t, owner, currentOwner)

		nonce, err := r.Nonce(tokenID)
		require.NoError(t, err)
		require.Equal(t, uint64(0), nonce)
	})
}

// TestPermitScenarios walks full permit lifecycles end to end.
func TestPermitScenarios(t *testing.T) {
	t.Run("Mint, permit, transfer, replay", func(t *testing.T) {
		r := newTestRegistry(t)
		ownerKey, owner := generateAccount(t)
		_, buyer := generateAccount(t)
		tokenID := big.NewInt(1)

		require.NoError(t, r.Mint(owner, tokenID, ""))

		nonce, err := r.Nonce(tokenID)
		require.NoError(t, err)
		require.Equal(t, uint64(0), nonce)

		deadline := futureDeadline()
		signature := signPermit(t, r, ownerKey, buyer, tokenID, big.NewInt(0), deadline)

		require.NoError(t, r.Permit(buyer, tokenID, deadline, signature))

		approved, err := r.GetApproved(tokenID)
		require.NoError(t, err)
		require.Equal(t, buyer, approved)

		require.NoError(t, r.TransferFrom(buyer, owner, buyer, tokenID))

		nonce, err = r.Nonce(tokenID)
		require.NoError(t, err)
		require.Equal(t, uint64(1), nonce)

		require.ErrorIs(t, r.Permit(buyer, tokenID, deadline, signature), ErrInvalidPermitSignature)
	})

	t.Run("Former owner issues permits as operator", func(t *testing.T) {
		r := newTestRegistry(t)
		originalKey, original := generateAccount(t)
		_, next := generateAccount(t)
		_, spender := generateAccount(t)
		tokenID := big.NewInt(1)

		require.NoError(t, r.Mint(original, tokenID, ""))
		require.NoError(t, r.TransferFrom(original, original, next, tokenID))
		require.NoError(t, r.SetApprovalForAll(next, original, true))

		nonce, err := r.Nonce(tokenID)
		require.NoError(t, err)

		deadline := futureDeadline()
		signature := signPermit(t, r, originalKey, spender, tokenID, new(big.Int).SetUint64(nonce), deadline)

		require.NoError(t, r.Permit(spender, tokenID, deadline, signature))

		approved, err := r.GetApproved(tokenID)
		require.NoError(t, err)
		require.Equal(t, spender, approved)
	})
}
