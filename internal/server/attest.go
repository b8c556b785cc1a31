package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// AttestationRef is the single trusted client descriptor the hub compares
// connecting clients against: a declared executable name and byte size.
type AttestationRef struct {
	Name string
	Size int64
}

// LoadAttestationRef reads the trusted client reference from a file holding
// a single line of the form "name:size". An unreadable or malformed
// reference is a startup error; the hub must not accept connections
// without one.
func LoadAttestationRef(path string) (AttestationRef, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return AttestationRef{}, fmt.Errorf("reading attestation reference: %w", err)
	}

	line := strings.TrimSpace(string(raw))
	// The executable name may itself contain colons; the size never does.
	sep := strings.LastIndex(line, ":")
	if sep <= 0 || sep == len(line)-1 {
		return AttestationRef{}, fmt.Errorf("attestation reference %q: want name:size", line)
	}

	size, err := strconv.ParseInt(line[sep+1:], 10, 64)
	if err != nil || size <= 0 {
		return AttestationRef{}, fmt.Errorf("attestation reference %q: invalid size", line)
	}

	return AttestationRef{Name: line[:sep], Size: size}, nil
}

// Matches reports whether a client-declared descriptor exactly matches
// the trusted reference.
func (a AttestationRef) Matches(name string, size int64) bool {
	return name == a.Name && size == a.Size
}
