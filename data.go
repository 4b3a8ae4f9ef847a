package main

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

type PingResponse struct {
	Status string `json:"status"`
}

type StatusResponse struct {
	Name            string   `json:"name"`
	Symbol          string   `json:"symbol"`
	ChainID         *big.Int `json:"chainID"`
	RegistryAddress string   `json:"registryAddress"`
	DomainSeparator string   `json:"domainSeparator"`
	TotalTokens     int      `json:"totalTokens"`
}

type DigestRequest struct {
	Spender  string `json:"spender"`
	TokenID  string `json:"tokenID"`
	Nonce    string `json:"nonce"`
	Deadline string `json:"deadline"`
}

type DigestResponse struct {
	Request *DigestRequest `json:"request"`
	Digest  string         `json:"digest"`
}

type NonceResponse struct {
	TokenID string `json:"tokenID"`
	Nonce   uint64 `json:"nonce"`
}

type RedeemRequest struct {
	Spender  string `json:"spender"`
	TokenID  string `json:"tokenID"`
	Deadline string `json:"deadline"`
	// Hex-encoded 65-byte signature over the permit digest.
	Signature string `json:"signature"`
	// Recipient is only used by /redeem_and_transfer.
	Recipient string `json:"recipient,omitempty"`
}

type RedeemResponse struct {
	Request  *RedeemRequest `json:"request"`
	Approved string         `json:"approved"`
	Owner    string         `json:"owner"`
}

type MintRequest struct {
	To       string `json:"to"`
	TokenID  string `json:"tokenID"`
	TokenURI string `json:"tokenURI,omitempty"`
}

type TransferRequest struct {
	Caller  string `json:"caller"`
	From    string `json:"from"`
	To      string `json:"to"`
	TokenID string `json:"tokenID"`
}

type DigestParameters struct {
	Spender  common.Address
	TokenID  *big.Int
	Nonce    *big.Int
	Deadline *big.Int
}

type RedeemParameters struct {
	Spender   common.Address
	TokenID   *big.Int
	Deadline  *big.Int
	Signature []byte
	Recipient common.Address
}

func parseBigInt(field, value string) (*big.Int, error) {
	parsed, parseOK := new(big.Int).SetString(value, 0)
	if !parseOK {
		return nil, fmt.Errorf("error parsing %s: %s", field, value)
	}
	return parsed, nil
}

func decodeHexSignature(value string) ([]byte, error) {
	signature, err := hex.DecodeString(strings.TrimPrefix(value, "0x"))
	if err != nil {
		return nil, fmt.Errorf("error decoding signature: %v", err)
	}
	return signature, nil
}

func (p *DigestParameters) ParseDigestRequest(request *DigestRequest) error {
	tokenID, err := parseBigInt("tokenID", request.TokenID)
	if err != nil {
		return err
	}

	nonce, err := parseBigInt("nonce", request.Nonce)
	if err != nil {
		return err
	}

	deadline, err := parseBigInt("deadline", request.Deadline)
	if err != nil {
		return err
	}

	p.Spender = common.HexToAddress(request.Spender)
	p.TokenID = tokenID
	p.Nonce = nonce
	p.Deadline = deadline

	return nil
}

func (p *RedeemParameters) ParseRedeemRequest(request *RedeemRequest) error {
	tokenID, err := parseBigInt("tokenID", request.TokenID)
	if err != nil {
		return err
	}

	deadline, err := parseBigInt("deadline", request.Deadline)
	if err != nil {
		return err
	}

	signature, err := decodeHexSignature(request.Signature)
	if err != nil {
		return err
	}

	p.Spender = common.HexToAddress(request.Spender)
	p.TokenID = tokenID
	p.Deadline = deadline
	p.Signature = signature
	p.Recipient = common.HexToAddress(request.Recipient)

	return nil
}
