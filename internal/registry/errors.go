package registry

import "errors"

// Domain errors for the registry package.
//
// These model expected conditions (absence, permission denial, exclusivity)
// as return values. Callers check them with errors.Is() and translate them
// into protocol status codes; none of them is ever fatal.
var (
	// ErrWrongSecret is returned when a known user presents a non-matching secret.
	ErrWrongSecret = errors.New("registry: wrong secret")

	// ErrDeviceActive is returned when a device claim loses to a live connection
	// already holding the same composite id.
	ErrDeviceActive = errors.New("registry: device already active")

	// ErrDeviceNotFound is returned when a composite device id does not exist.
	ErrDeviceNotFound = errors.New("registry: device not found")

	// ErrUserNotFound is returned when a user id does not exist.
	ErrUserNotFound = errors.New("registry: user not found")

	// ErrDomainExists is returned when creating a domain whose name is taken.
	ErrDomainExists = errors.New("registry: domain already exists")

	// ErrDomainNotFound is returned when a domain name does not exist.
	ErrDomainNotFound = errors.New("registry: domain not found")

	// ErrNotPermitted is returned when the caller lacks the required domain role.
	ErrNotPermitted = errors.New("registry: not permitted")

	// ErrNoData is returned when a temperature query matches no readings.
	ErrNoData = errors.New("registry: no data")
)
