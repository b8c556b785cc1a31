// Package protocol defines the hub's wire format: an explicit, versioned
// message schema framed as length-prefixed JSON over a single TCP stream.
//
// Each frame is a uint32 big-endian byte length followed by a JSON-encoded
// Message. The exchange is strictly synchronous request/response; the server
// never initiates a message unprompted, and no pipelining is supported.
//
// Keeping the schema explicit (tagged fields, a version number, an enumerated
// status code) means any implementation language can encode and decode frames
// without relying on language-specific object serialization.
package protocol
