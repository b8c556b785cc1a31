// Package server implements the hub's TCP front end: the connection
// acceptor and the per-connection protocol engine.
//
// Each accepted connection runs the three-stage authentication sequence
// (credential, device claim, attestation) against the registry, then enters
// a strict request/response command loop. A protocol violation aborts only
// the offending connection. The acceptor tracks live handlers so shutdown
// can stop every command loop at its next safe point before the listener
// closes.
package server
