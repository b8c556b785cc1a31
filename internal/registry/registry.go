package registry

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the shared store of users, domains and devices. It is the sole
// owner of entity lifetime; domains reference users and devices by identifier
// only.
//
// Every operation, including the snapshot copy, runs under one coarse
// registry-wide mutex. Contention is low (one blocking connection per device
// plus the snapshot scheduler), so simplicity wins over throughput here.
type Registry struct {
	mu      sync.Mutex
	users   map[string]*User
	domains map[string]*Domain
	devices map[string]*Device
}

// DeviceID forms the composite identifier for a device.
func DeviceID(userID, deviceID string) string {
	return fmt.Sprintf("%s:%s", userID, deviceID)
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		users:   make(map[string]*User),
		domains: make(map[string]*Domain),
		devices: make(map[string]*Device),
	}
}

// Authenticate checks a credential pair, creating the user on first sight.
//
// An unknown user id is registered with the supplied secret and
// (true, nil) is returned. A known user with a matching secret returns
// (false, nil); a mismatch returns ErrWrongSecret and changes nothing.
func (r *Registry) Authenticate(userID, secret string) (created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		r.users[userID] = &User{ID: userID, Secret: secret}
		return true, nil
	}
	if u.Secret != secret {
		return false, ErrWrongSecret
	}
	return false, nil
}

// ClaimDevice attempts to bring the device "<userID>:<deviceID>" online on
// behalf of one connection. The check-and-set runs under the registry lock,
// so two racing connections can never both win the same composite id.
//
// A fresh composite id is created online; an existing offline device is
// marked online. An existing online device returns ErrDeviceActive and the
// caller must pick a different device id.
func (r *Registry) ClaimDevice(userID, deviceID string) (string, error) {
	composite := DeviceID(userID, deviceID)

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[composite]
	if !ok {
		r.devices[composite] = &Device{ID: composite, Online: true}
		return composite, nil
	}
	if d.Online {
		return "", ErrDeviceActive
	}
	d.Online = true
	return composite, nil
}

// ReleaseDevice marks a device offline, freeing the composite id for a new
// claim. Releasing an unknown or already-offline device is a no-op, so the
// disconnect path may call it unconditionally.
func (r *Registry) ReleaseDevice(composite string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.devices[composite]; ok {
		d.Online = false
	}
}

// CreateDomain creates a domain owned by ownerID.
// Returns ErrDomainExists if the name is taken, regardless of caller.
func (r *Registry) CreateDomain(name, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.domains[name]; ok {
		return ErrDomainExists
	}
	r.domains[name] = &Domain{
		Name:    name,
		Owner:   ownerID,
		Members: make(map[string]struct{}),
		Devices: make(map[string]struct{}),
	}
	return nil
}

// AddMember adds targetID to the domain's member set. Only the owner may add
// members; re-adding an existing member has no effect.
func (r *Registry) AddMember(domainName, callerID, targetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.domains[domainName]
	if !ok {
		return ErrDomainNotFound
	}
	if _, ok := r.users[targetID]; !ok {
		return ErrUserNotFound
	}
	if d.Owner != callerID {
		return ErrNotPermitted
	}
	d.Members[targetID] = struct{}{}
	return nil
}

// RegisterDevice registers a composite device id into the domain's device
// set. The caller must be the owner or a member. A device may be registered
// into any number of domains.
func (r *Registry) RegisterDevice(domainName, callerID, composite string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.domains[domainName]
	if !ok {
		return ErrDomainNotFound
	}
	if !d.isMember(callerID) {
		return ErrNotPermitted
	}
	d.Devices[composite] = struct{}{}
	return nil
}

// SetTemperature records the latest reading for a device, replacing any
// previous value.
func (r *Registry) SetTemperature(composite string, value float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[composite]
	if !ok {
		return ErrDeviceNotFound
	}
	v := value
	d.Temperature = &v
	return nil
}

// Temperatures returns the latest reading of every device in the domain that
// has reported at least once, keyed by composite id. The caller must be the
// owner or a member. An empty result returns ErrNoData.
func (r *Registry) Temperatures(domainName, callerID string) (map[string]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.domains[domainName]
	if !ok {
		return nil, ErrDomainNotFound
	}
	if !d.isMember(callerID) {
		return nil, ErrNotPermitted
	}

	temps := make(map[string]float64)
	for composite := range d.Devices {
		if dev, ok := r.devices[composite]; ok && dev.Temperature != nil {
			temps[composite] = *dev.Temperature
		}
	}
	if len(temps) == 0 {
		return nil, ErrNoData
	}
	return temps, nil
}

// AuthorizeDeviceRead checks whether callerID may read data published by the
// given composite device id. Existence is checked before authorization:
// an unknown device returns ErrDeviceNotFound, a known device visible through
// none of the caller's domains returns ErrNotPermitted.
func (r *Registry) AuthorizeDeviceRead(callerID, composite string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[composite]; !ok {
		return ErrDeviceNotFound
	}
	for _, d := range r.domains {
		if _, ok := d.Devices[composite]; !ok {
			continue
		}
		if d.isMember(callerID) {
			return nil
		}
	}
	return ErrNotPermitted
}

// Snapshot returns a consistent detached copy of the whole registry, taken
// under the same lock as every mutation so it never observes a half-updated
// entity. Slices are sorted for deterministic serialization.
func (r *Registry) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := State{
		Users:   make([]User, 0, len(r.users)),
		Domains: make([]DomainState, 0, len(r.domains)),
		Devices: make([]Device, 0, len(r.devices)),
	}

	for _, u := range r.users {
		st.Users = append(st.Users, *u)
	}
	sort.Slice(st.Users, func(i, j int) bool { return st.Users[i].ID < st.Users[j].ID })

	for _, d := range r.domains {
		ds := DomainState{
			Name:    d.Name,
			Owner:   d.Owner,
			Devices: sortedKeys(d.Devices),
			Members: sortedKeys(d.Members),
		}
		st.Domains = append(st.Domains, ds)
	}
	sort.Slice(st.Domains, func(i, j int) bool { return st.Domains[i].Name < st.Domains[j].Name })

	for _, dev := range r.devices {
		copied := Device{ID: dev.ID, Online: dev.Online}
		if dev.Temperature != nil {
			v := *dev.Temperature
			copied.Temperature = &v
		}
		st.Devices = append(st.Devices, copied)
	}
	sort.Slice(st.Devices, func(i, j int) bool { return st.Devices[i].ID < st.Devices[j].ID })

	return st
}

// Restore replaces the registry contents with a loaded snapshot state.
// Devices are forced offline: no connection survives a restart, so a claim
// recorded online in a stale snapshot must not block a fresh claim.
func (r *Registry) Restore(st State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.users = make(map[string]*User, len(st.Users))
	for _, u := range st.Users {
		user := u
		r.users[user.ID] = &user
	}

	r.devices = make(map[string]*Device, len(st.Devices))
	for _, d := range st.Devices {
		dev := Device{ID: d.ID, Online: false}
		if d.Temperature != nil {
			v := *d.Temperature
			dev.Temperature = &v
		}
		r.devices[dev.ID] = &dev
	}

	r.domains = make(map[string]*Domain, len(st.Domains))
	for _, ds := range st.Domains {
		d := &Domain{
			Name:    ds.Name,
			Owner:   ds.Owner,
			Members: make(map[string]struct{}, len(ds.Members)),
			Devices: make(map[string]struct{}, len(ds.Devices)),
		}
		for _, m := range ds.Members {
			d.Members[m] = struct{}{}
		}
		for _, dev := range ds.Devices {
			d.Devices[dev] = struct{}{}
			// A device referenced by a domain but absent from the devices
			// table still needs an entry; it simply has no reading yet.
			if _, ok := r.devices[dev]; !ok {
				r.devices[dev] = &Device{ID: dev}
			}
		}
		r.domains[d.Name] = d
	}
}

// Counts returns the number of users, domains and devices. Used for startup
// logging only.
func (r *Registry) Counts() (users, domains, devices int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users), len(r.domains), len(r.devices)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
