// Package providers holds what the external calendar integrations share.
package providers

import "errors"

var (
	ErrNoCredential       = errors.New("provider: no stored credential")
	ErrCredentialRejected = errors.New("provider: credential rejected")
	ErrRateLimited        = errors.New("provider: call budget exhausted")
)
