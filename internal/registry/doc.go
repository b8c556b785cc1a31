// Package registry holds the hub's shared in-memory store of users, domains
// and devices, together with its uniqueness and authorization invariants.
//
// # Invariants
//
//   - User ids, composite device ids ("<user>:<device>") and domain names are
//     each unique within their collection.
//   - A domain's owner is implicitly a member for every permission check;
//     only the owner may add members.
//   - At most one live connection holds a device online at a time. The claim
//     is a check-and-set under the registry lock.
//
// # Concurrency
//
// Many connection goroutines mutate one Registry while the snapshot
// scheduler reads it. A single coarse mutex guards every operation; each
// exported method is one indivisible unit, and Snapshot copies the entire
// state under that same lock.
//
// Expected conditions (absence, permission denial, claim conflicts) are
// sentinel errors in errors.go, never panics; callers map them to protocol
// status codes.
package registry
