package artifacts

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNetwork matches every *NetworkError.
	ErrNetwork = errors.New("artifacts: network failure")
	// ErrResolutionLimitExceeded matches every *ResolutionLimitError.
	ErrResolutionLimitExceeded = errors.New("artifacts: resolution limit exceeded")
	// ErrPublish matches every *PublishError.
	ErrPublish = errors.New("artifacts: publish failed")
	// ErrNotFound is returned by stores for an absent blob.
	ErrNotFound = errors.New("artifacts: not found")
)

// GatewayFailure is the outcome of one failed gateway attempt.
type GatewayFailure struct {
	Gateway string
	Err     error
}

func (f GatewayFailure) String() string {
	return fmt.Sprintf("%s: %v", f.Gateway, f.Err)
}

// NetworkError is returned when every configured gateway failed.
// Failures are kept in attempt order.
type NetworkError struct {
	CID      string
	Failures []GatewayFailure
}

func (e *NetworkError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.String()
	}
	return "all IPFS gateways failed: " + strings.Join(parts, "; ")
}

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// ResolutionLimitError is returned when a chain of nested references exceeds
// the hop limit or loops back on itself.
type ResolutionLimitError struct {
	Limit int
	Chain []string
	Cycle bool
}

func (e *ResolutionLimitError) Error() string {
	if e.Cycle {
		return fmt.Sprintf("artifacts: reference cycle after %d hops: %s", len(e.Chain)-1, strings.Join(e.Chain, " -> "))
	}
	return fmt.Sprintf("artifacts: resolution exceeded %d hops: %s", e.Limit, strings.Join(e.Chain, " -> "))
}

func (e *ResolutionLimitError) Is(target error) bool { return target == ErrResolutionLimitExceeded }

// PinFailure is the outcome of one failed pinning strategy.
type PinFailure struct {
	Pinner string
	Err    error
}

// PublishError is returned when every pinning strategy failed.
type PublishError struct {
	Failures []PinFailure
}

func (e *PublishError) Error() string {
	if len(e.Failures) == 0 {
		return "artifacts: publish failed: no pinners configured"
	}
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %v", f.Pinner, f.Err)
	}
	return "artifacts: publish failed: " + strings.Join(parts, "; ")
}

func (e *PublishError) Is(target error) bool { return target == ErrPublish }
