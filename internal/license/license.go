// Package license validates license keys for engine creation. Structural
// problems are caught synchronously; key verification runs asynchronously
// after creation, so a bad key that passes the structural checks only
// surfaces when the engine is next started.
package license

import (
	"strings"
	"sync"
	"time"
)

// FailureKind classifies license validation failures.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureMissingKey
	FailureInvalidKey
	FailureNoNetworkPermanent
	FailureNoNetworkTransient
	FailureBadRequest
	FailureKeyCanceled
	FailureProductTypeMismatch
	FailureUnknown
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureMissingKey:
		return "missing key"
	case FailureInvalidKey:
		return "invalid key"
	case FailureNoNetworkPermanent:
		return "no network (permanent)"
	case FailureNoNetworkTransient:
		return "no network (transient)"
	case FailureBadRequest:
		return "bad request"
	case FailureKeyCanceled:
		return "key canceled"
	case FailureProductTypeMismatch:
		return "product type mismatch"
	default:
		return "unknown"
	}
}

const minKeyLength = 16

// Key prefixes carry the product class the key was issued for. Keys bearing
// a revoked- or foreign-product prefix pass the structural check but fail
// asynchronous verification.
const (
	prefixCanceled = "XX-"
	prefixBasic    = "AR-"
)

// Validate runs the synchronous structural checks on a license key.
func Validate(key string) FailureKind {
	if key == "" {
		return FailureMissingKey
	}
	if len(key) < minKeyLength || strings.ContainsAny(key, " \t\n") {
		return FailureInvalidKey
	}
	return FailureNone
}

// Verifier performs the asynchronous part of key validation. The result is
// not available immediately after Start; callers consult Failure before
// lifecycle transitions that require a verified license.
type Verifier struct {
	mu      sync.Mutex
	done    bool
	failure FailureKind
}

// Start kicks off verification of key in the background. The delay
// parameter models the round trip to the license service; tests use a
// small value.
func (v *Verifier) Start(key string, delay time.Duration) {
	go func() {
		time.Sleep(delay)
		result := verify(key)
		v.mu.Lock()
		v.done = true
		v.failure = result
		v.mu.Unlock()
	}()
}

// Failure returns the verification outcome so far. A pending verification
// reports FailureNone; the delayed result is picked up by whichever
// lifecycle call runs after it lands.
func (v *Verifier) Failure() FailureKind {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.done {
		return FailureNone
	}
	return v.failure
}

func verify(key string) FailureKind {
	switch {
	case strings.HasPrefix(key, prefixCanceled):
		return FailureKeyCanceled
	case strings.HasPrefix(key, prefixBasic):
		return FailureNone
	default:
		// Unrecognized product prefix: the key is well-formed but was
		// issued for a different product line.
		return FailureProductTypeMismatch
	}
}
