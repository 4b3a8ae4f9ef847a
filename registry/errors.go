package registry

import "errors"

var (
	// ErrUnknownToken is returned for any operation referencing a token that does not exist.
	ErrUnknownToken = errors.New("unknown token")

	// ErrPermitExpired is returned when a permit's deadline has already elapsed.
	ErrPermitExpired = errors.New("permit expired")

	// ErrInvalidPermitSignature is returned when neither signature recovery nor
	// contract-based validation authorizes a permit.
	ErrInvalidPermitSignature = errors.New("invalid permit signature")

	ErrNotAuthorized = errors.New("caller not authorized")
	ErrTokenExists   = errors.New("token already minted")
	ErrWrongOwner    = errors.New("from address is not the token owner")
	ErrZeroAddress   = errors.New("zero address not allowed")
)
