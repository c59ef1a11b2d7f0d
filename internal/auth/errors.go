package auth

import "errors"

var (
	// ErrInvalidToken indicates the token failed validation.
	ErrInvalidToken  = errors.New("auth: invalid token")
	ErrMissingSecret = errors.New("auth: token secret is not configured")
	ErrEmptySecret   = errors.New("auth: secret is empty")
)
