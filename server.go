package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/permitforge/nft-registry/registry"
)

var PERMITS_CORS_ALLOWED_ORIGINS = os.Getenv("PERMITS_CORS_ALLOWED_ORIGINS")

// Server exposes one registry instance over HTTP.
type Server struct {
	Registry *registry.Registry
}

// NewServerFromEnv builds the registry this server fronts from environment variables:
// PERMITS_REGISTRY_NAME, PERMITS_REGISTRY_SYMBOL, PERMITS_CHAIN_ID, PERMITS_REGISTRY_ADDRESS.
func NewServerFromEnv() (*Server, error) {
	name := os.Getenv("PERMITS_REGISTRY_NAME")
	if name == "" {
		return nil, errors.New("PERMITS_REGISTRY_NAME must be set")
	}

	symbol := os.Getenv("PERMITS_REGISTRY_SYMBOL")
	if symbol == "" {
		return nil, errors.New("PERMITS_REGISTRY_SYMBOL must be set")
	}

	chainIDRaw := os.Getenv("PERMITS_CHAIN_ID")
	chainID, err := parseBigInt("PERMITS_CHAIN_ID", chainIDRaw)
	if err != nil {
		return nil, err
	}

	var zeroAddress common.Address
	registryAddressRaw := os.Getenv("PERMITS_REGISTRY_ADDRESS")
	registryAddress := common.HexToAddress(registryAddressRaw)
	if registryAddress.Hex() == zeroAddress.Hex() {
		return nil, errors.New("PERMITS_REGISTRY_ADDRESS must be set to a non-zero Ethereum address")
	}

	reg, err := registry.New(name, symbol, chainID, registryAddress)
	if err != nil {
		return nil, err
	}

	return &Server{Registry: reg}, nil
}

// corsMiddleware handles CORS origin check
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if PERMITS_CORS_ALLOWED_ORIGINS == "" {
			log.Println("missed CORS origins environment variable")
		}
		if r.Method == http.MethodOptions {
			for _, allowedOrigin := range strings.Split(PERMITS_CORS_ALLOWED_ORIGINS, ",") {
				if r.Header.Get("Origin") == allowedOrigin {
					w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
					w.Header().Set("Access-Control-Allow-Methods", "GET,POST")
					// Credentials are cookies, authorization headers, or TLS client certificates
					w.Header().Set("Access-Control-Allow-Credentials", "true")
					w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				}
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// logMiddleware parse log access requests in proper format
func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Unable to read body", http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewBuffer(body))
		if len(body) > 0 {
			defer r.Body.Close()
		}

		next.ServeHTTP(w, r)

		var ip string
		realIp := r.Header["X-Real-Ip"]
		if len(realIp) == 0 {
			ip, _, err = net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				http.Error(w, fmt.Sprintf("Unable to parse client IP: %s", r.RemoteAddr), http.StatusBadRequest)
				return
			}
		} else {
			ip = realIp[0]
		}

		log.Printf("registry %s %s - %s\n", ip, r.Method, r.URL.Path)
	})
}

// panicMiddleware handles panic errors to prevent server shutdown
func panicMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Println("recovered panic error", err)
				http.Error(w, "Internal server error", 500)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// PingHandler responds with the status of the server itself.
func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	response := PingResponse{Status: "ok"}
	json.NewEncoder(w).Encode(response)
}

func (server *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	separator := server.Registry.DomainSeparator()
	response := StatusResponse{
		Name:            server.Registry.Name(),
		Symbol:          server.Registry.Symbol(),
		ChainID:         server.Registry.ChainID(),
		RegistryAddress: server.Registry.Address().Hex(),
		DomainSeparator: hex.EncodeToString(separator[:]),
		TotalTokens:     server.Registry.TotalTokens(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// DigestHandler computes the permit signing digest for the requested fields so
// off-chain signers can reconstruct exactly what they must sign.
func (server *Server) DigestHandler(w http.ResponseWriter, r *http.Request) {
	var requestParameters DigestRequest

	bodyDecoder := json.NewDecoder(r.Body)
	decodeErr := bodyDecoder.Decode(&requestParameters)
	if decodeErr != nil {
		http.Error(w, "Error decoding request", http.StatusBadRequest)
		return
	}

	parameters := &DigestParameters{}
	parseErr := parameters.ParseDigestRequest(&requestParameters)
	if parseErr != nil {
		http.Error(w, parseErr.Error(), http.StatusBadRequest)
		return
	}

	digest, digestErr := server.Registry.PermitDigest(parameters.Spender, parameters.TokenID, parameters.Nonce, parameters.Deadline)
	if digestErr != nil {
		log.Println(digestErr.Error())
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	response := DigestResponse{
		Request: &requestParameters,
		Digest:  hex.EncodeToString(digest[:]),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (server *Server) NonceHandler(w http.ResponseWriter, r *http.Request) {
	tokenIDRaw := r.URL.Query().Get("tokenID")
	tokenID, parseErr := parseBigInt("tokenID", tokenIDRaw)
	if parseErr != nil {
		http.Error(w, parseErr.Error(), http.StatusBadRequest)
		return
	}

	nonce, nonceErr := server.Registry.Nonce(tokenID)
	if nonceErr != nil {
		http.Error(w, nonceErr.Error(), http.StatusNotFound)
		return
	}

	response := NonceResponse{
		TokenID: tokenID.String(),
		Nonce:   nonce,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// writePermitError maps permit rejections to HTTP statuses. Sentinel messages
// are safe for clients; everything else is an internal error.
func writePermitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrUnknownToken):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, registry.ErrPermitExpired), errors.Is(err, registry.ErrInvalidPermitSignature),
		errors.Is(err, registry.ErrNotAuthorized), errors.Is(err, registry.ErrWrongOwner),
		errors.Is(err, registry.ErrZeroAddress), errors.Is(err, registry.ErrTokenExists):
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		log.Println(err.Error())
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (server *Server) RedeemHandler(w http.ResponseWriter, r *http.Request) {
	var requestParameters RedeemRequest

	bodyDecoder := json.NewDecoder(r.Body)
	decodeErr := bodyDecoder.Decode(&requestParameters)
	if decodeErr != nil {
		http.Error(w, "Error decoding request", http.StatusBadRequest)
		return
	}

	parameters := &RedeemParameters{}
	parseErr := parameters.ParseRedeemRequest(&requestParameters)
	if parseErr != nil {
		http.Error(w, parseErr.Error(), http.StatusBadRequest)
		return
	}

	redeemErr := server.Registry.Permit(parameters.Spender, parameters.TokenID, parameters.Deadline, parameters.Signature)
	if redeemErr != nil {
		writePermitError(w, redeemErr)
		return
	}

	server.writeRedeemResponse(w, &requestParameters, parameters)
}

func (server *Server) RedeemAndTransferHandler(w http.ResponseWriter, r *http.Request) {
	var requestParameters RedeemRequest

	bodyDecoder := json.NewDecoder(r.Body)
	decodeErr := bodyDecoder.Decode(&requestParameters)
	if decodeErr != nil {
		http.Error(w, "Error decoding request", http.StatusBadRequest)
		return
	}

	parameters := &RedeemParameters{}
	parseErr := parameters.ParseRedeemRequest(&requestParameters)
	if parseErr != nil {
		http.Error(w, parseErr.Error(), http.StatusBadRequest)
		return
	}

	var zeroAddress common.Address
	if parameters.Recipient == zeroAddress {
		http.Error(w, "recipient must be a non-zero address", http.StatusBadRequest)
		return
	}

	redeemErr := server.Registry.PermitAndTransfer(parameters.Spender, parameters.Recipient, parameters.TokenID, parameters.Deadline, parameters.Signature)
	if redeemErr != nil {
		writePermitError(w, redeemErr)
		return
	}

	server.writeRedeemResponse(w, &requestParameters, parameters)
}

func (server *Server) writeRedeemResponse(w http.ResponseWriter, request *RedeemRequest, parameters *RedeemParameters) {
	owner, ownerErr := server.Registry.OwnerOf(parameters.TokenID)
	if ownerErr != nil {
		log.Println(ownerErr.Error())
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	approved, approvedErr := server.Registry.GetApproved(parameters.TokenID)
	if approvedErr != nil {
		log.Println(approvedErr.Error())
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	response := RedeemResponse{
		Request:  request,
		Approved: approved.Hex(),
		Owner:    owner.Hex(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (server *Server) MintHandler(w http.ResponseWriter, r *http.Request) {
	var requestParameters MintRequest

	bodyDecoder := json.NewDecoder(r.Body)
	decodeErr := bodyDecoder.Decode(&requestParameters)
	if decodeErr != nil {
		http.Error(w, "Error decoding request", http.StatusBadRequest)
		return
	}

	tokenID, parseErr := parseBigInt("tokenID", requestParameters.TokenID)
	if parseErr != nil {
		http.Error(w, parseErr.Error(), http.StatusBadRequest)
		return
	}

	mintErr := server.Registry.Mint(common.HexToAddress(requestParameters.To), tokenID, requestParameters.TokenURI)
	if mintErr != nil {
		writePermitError(w, mintErr)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(requestParameters)
}

func (server *Server) TransferHandler(w http.ResponseWriter, r *http.Request) {
	var requestParameters TransferRequest

	bodyDecoder := json.NewDecoder(r.Body)
	decodeErr := bodyDecoder.Decode(&requestParameters)
	if decodeErr != nil {
		http.Error(w, "Error decoding request", http.StatusBadRequest)
		return
	}

	tokenID, parseErr := parseBigInt("tokenID", requestParameters.TokenID)
	if parseErr != nil {
		http.Error(w, parseErr.Error(), http.StatusBadRequest)
		return
	}

	transferErr := server.Registry.TransferFrom(
		common.HexToAddress(requestParameters.Caller),
		common.HexToAddress(requestParameters.From),
		common.HexToAddress(requestParameters.To),
		tokenID,
	)
	if transferErr != nil {
		writePermitError(w, transferErr)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(requestParameters)
}

// Routes builds the handler stack for this server. Middleware is set from
// bottom to top.
func (server *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ping", PingHandler)
	mux.HandleFunc("/status", server.StatusHandler)
	mux.HandleFunc("/digest", server.DigestHandler)
	mux.HandleFunc("/nonce", server.NonceHandler)
	mux.HandleFunc("/redeem", server.RedeemHandler)
	mux.HandleFunc("/redeem_and_transfer", server.RedeemAndTransferHandler)
	mux.HandleFunc("/mint", server.MintHandler)
	mux.HandleFunc("/transfer", server.TransferHandler)

	commonHandler := corsMiddleware(mux)
	commonHandler = logMiddleware(commonHandler)
	commonHandler = panicMiddleware(commonHandler)

	return commonHandler
}

func RunServer(serverHost string, serverPort int) error {
	server, configurationErr := NewServerFromEnv()
	if configurationErr != nil {
		return fmt.Errorf("failed to configure registry server, err: %v", configurationErr)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", serverHost, serverPort),
		Handler:      server.Routes(),
		ReadTimeout:  40 * time.Second,
		WriteTimeout: 40 * time.Second,
	}

	log.Printf("Starting registry server on: %s:%d", serverHost, serverPort)
	err := httpServer.ListenAndServe()
	if err != nil {
		return fmt.Errorf("failed to start server listener, err: %v", err)
	}

	return nil
}
