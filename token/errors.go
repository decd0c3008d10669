package token

import "errors"

var (
	// ErrExpired is returned when a credential is past its encoded expiry.
	ErrExpired = errors.New("token expired")

	// ErrMalformed is returned when a credential cannot be decoded or its signature does not verify.
	ErrMalformed = errors.New("token malformed")

	// ErrInvalid is returned when a verified credential is missing required claims.
	ErrInvalid = errors.New("token invalid")
)
