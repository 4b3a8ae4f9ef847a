package main

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/permitforge/nft-registry/registry"
)

func CreateRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "permitregistry",
		Short: "NFT registry with signature-authorized permits",
		Long: `permitregistry runs and interacts with an NFT ownership registry extended with
off-chain permits. Token owners sign typed-data digests that let a third party
claim transfer approval on one specific token; transfers advance a per-token
nonce that retires all outstanding permits for that token.`,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	rootCmd.AddCommand(CreateServeCommand(), CreateDigestCommand(), CreateSignCommand(), CreateVersionCommand())

	return rootCmd
}

func CreateServeCommand() *cobra.Command {
	var host string
	var port int

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the registry API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunServer(host, port)
		},
	}

	serveCmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host on which to serve the API")
	serveCmd.Flags().IntVar(&port, "port", 3743, "Port on which to serve the API")

	return serveCmd
}

func digestFlags(cmd *cobra.Command, name, chainID, registryAddress, spender, tokenID, nonce, deadline *string) {
	cmd.Flags().StringVar(name, "name", "", "Registry name in the signing domain")
	cmd.Flags().StringVar(chainID, "chain-id", "", "Chain ID in the signing domain")
	cmd.Flags().StringVar(registryAddress, "registry-address", "", "Registry address in the signing domain")
	cmd.Flags().StringVar(spender, "spender", "", "Address being granted approval")
	cmd.Flags().StringVar(tokenID, "token-id", "", "Token the permit covers")
	cmd.Flags().StringVar(nonce, "nonce", "", "The token's current permit nonce")
	cmd.Flags().StringVar(deadline, "deadline", "", "Unix timestamp after which the permit is dead")

	for _, required := range []string{"name", "chain-id", "registry-address", "spender", "token-id", "nonce", "deadline"} {
		cmd.MarkFlagRequired(required)
	}
}

func digestFromFlags(name, chainIDRaw, registryAddressRaw, spenderRaw, tokenIDRaw, nonceRaw, deadlineRaw string) ([32]byte, error) {
	var digest [32]byte

	chainID, parseOK := new(big.Int).SetString(chainIDRaw, 0)
	if !parseOK {
		return digest, fmt.Errorf("error parsing chain-id: %s", chainIDRaw)
	}
	tokenID, parseOK := new(big.Int).SetString(tokenIDRaw, 0)
	if !parseOK {
		return digest, fmt.Errorf("error parsing token-id: %s", tokenIDRaw)
	}
	nonce, parseOK := new(big.Int).SetString(nonceRaw, 0)
	if !parseOK {
		return digest, fmt.Errorf("error parsing nonce: %s", nonceRaw)
	}
	deadline, parseOK := new(big.Int).SetString(deadlineRaw, 0)
	if !parseOK {
		return digest, fmt.Errorf("error parsing deadline: %s", deadlineRaw)
	}

	return registry.PermitDigest(
		name,
		chainID,
		common.HexToAddress(registryAddressRaw),
		common.HexToAddress(spenderRaw),
		tokenID,
		nonce,
		deadline,
	)
}

func CreateDigestCommand() *cobra.Command {
	var name, chainID, registryAddress, spender, tokenID, nonce, deadline string

	digestCmd := &cobra.Command{
		Use:   "digest",
		Short: "Print the signing digest for a permit",
		RunE: func(cmd *cobra.Command, args []string) error {
			digest, err := digestFromFlags(name, chainID, registryAddress, spender, tokenID, nonce, deadline)
			if err != nil {
				return err
			}

			cmd.Println(hex.EncodeToString(digest[:]))
			return nil
		},
	}

	digestFlags(digestCmd, &name, &chainID, &registryAddress, &spender, &tokenID, &nonce, &deadline)

	return digestCmd
}

func CreateSignCommand() *cobra.Command {
	var name, chainID, registryAddress, spender, tokenID, nonce, deadline string
	var sensible bool

	signCmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a permit with the configured signing key",
		Long: `Computes the permit digest and signs it with the key loaded from the
environment (PERMITS_PRIVATE_KEY, PERMITS_KEYSTORE, or PERMITS_AWS_SECRET_ID).
Prints the signer address, digest, and signature as hex.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			digest, err := digestFromFlags(name, chainID, registryAddress, spender, tokenID, nonce, deadline)
			if err != nil {
				return err
			}

			key, keyErr := SigningKeyFromEnv()
			if keyErr != nil {
				return keyErr
			}

			signature, signErr := SignDigest(digest[:], key, sensible)
			if signErr != nil {
				return signErr
			}

			cmd.Printf("signer: %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())
			cmd.Printf("digest: %s\n", hex.EncodeToString(digest[:]))
			cmd.Printf("signature: %s\n", hex.EncodeToString(signature))
			return nil
		},
	}

	digestFlags(signCmd, &name, &chainID, &registryAddress, &spender, &tokenID, &nonce, &deadline)
	signCmd.Flags().BoolVar(&sensible, "sensible", false, "Emit the signature v-byte as 0/1 instead of 27/28")

	return signCmd
}

func CreateVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the registry tooling version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(Version)
		},
	}
}
