package listing

import "errors"

var (
	ErrNotFound             = errors.New("listing not found")
	ErrForbidden            = errors.New("listing belongs to another user")
	ErrInvalidState         = errors.New("invalid listing state")
	ErrRenewalLimitExceeded = errors.New("renewal limit exceeded")
	ErrInvalidInput         = errors.New("invalid listing input")
	ErrInvalidServiceConfig = errors.New("invalid listing service config")

	// ErrAlreadyModerated also matches ErrInvalidState.
	ErrAlreadyModerated = alreadyModeratedError{}
)

type alreadyModeratedError struct{}

func (alreadyModeratedError) Error() string {
	return "listing already moderated"
}

func (alreadyModeratedError) Is(target error) bool {
	return target == ErrInvalidState
}
