package api

import "github.com/tokmz/stsrt/pkg/errors"

var (
	ErrMissingToken = errors.ErrUnauthorized.Derive(2101, "missing token")
	ErrInvalidToken = errors.ErrUnauthorized.Derive(2102, "invalid token")
	ErrMissingUser  = errors.ErrBadRequest.Derive(2103, "user_id is required")
	ErrUnavailable  = errors.New(2104, 503, "service unavailable", nil)
)
