package registry

// User is an account known to the hub. Users are created on first successful
// authentication with an unseen identifier; the identifier and secret are
// immutable afterwards (no password-change operation exists).
type User struct {
	// ID is the globally unique, case-sensitive user identifier.
	ID string

	// Secret is the stored credential, compared verbatim on authentication.
	Secret string
}

// Device is a client endpoint identified by the composite "<userID>:<deviceID>".
//
// Online state is connection-scoped: it is set when a connection claims the
// device and cleared on disconnect or EXIT. It is deliberately reset to
// offline when a snapshot is reloaded, since no connection survives a restart.
type Device struct {
	// ID is the composite identifier, unique across the whole registry.
	ID string

	// Temperature is the last reported reading, nil until the first report.
	Temperature *float64

	// Online reports whether a live connection currently holds this device.
	Online bool
}

// Domain is a named access-control group owning a member set of users and a
// set of registered devices. The owner is fixed at creation and counts as a
// member for every permission check.
type Domain struct {
	Name  string
	Owner string

	// Members holds user IDs. Set semantics: re-adding is a no-op.
	Members map[string]struct{}

	// Devices holds composite device IDs registered into the domain.
	Devices map[string]struct{}
}

// isMember reports whether userID may act on the domain as a member.
// The owner is implicitly a member.
func (d *Domain) isMember(userID string) bool {
	if d.Owner == userID {
		return true
	}
	_, ok := d.Members[userID]
	return ok
}

// State is a consistent, detached copy of the registry used by the snapshot
// store. Slices are sorted by identifier so serialized snapshots are
// deterministic.
type State struct {
	Users   []User
	Domains []DomainState
	Devices []Device
}

// DomainState is the snapshot form of a Domain, with member and device sets
// flattened to sorted slices.
type DomainState struct {
	Name    string
	Owner   string
	Devices []string
	Members []string
}
