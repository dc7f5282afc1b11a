// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers to distinguish between different failure scenarios without
// inspecting error strings. Handlers translate them into the HTTP
// error taxonomy: authentication failures collapse to one generic
// unauthorized message, conflicts map to 409 (or to a silent success
// acknowledgment at the webhook boundary), expiries to 401/400.
package repository

import "errors"

// ErrEmailExists is returned when registration hits the unique email
// constraint. Handlers should translate this into an HTTP 409 response.
var ErrEmailExists = errors.New("email already exists")

// ErrNotFound is returned when a looked-up row does not exist. For
// credential lookups handlers must not reveal whether the miss was the
// identity or the secret.
var ErrNotFound = errors.New("not found")

// ErrSessionTerminal is returned when a refresh session exists but is
// rotated, revoked or expired — none of those states may authorize a
// refresh again. Handlers treat it exactly like a missing session.
var ErrSessionTerminal = errors.New("refresh session no longer active")

// ErrTokenConsumed is returned when a single-use token was already
// redeemed. Exactly one concurrent redeemer ever avoids this error.
var ErrTokenConsumed = errors.New("token already consumed")

// ErrTokenExpired is returned when a single-use token is past its
// expiry and was never consumed.
var ErrTokenExpired = errors.New("token expired")

// ErrDuplicateEvent is returned when inserting a webhook event whose
// (provider, external_id) pair is already recorded. The webhook
// boundary acknowledges duplicates with 2xx rather than surfacing
// this as an error to the provider.
var ErrDuplicateEvent = errors.New("duplicate webhook event")
