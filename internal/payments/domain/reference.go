// Package domain holds the payment session model shared by the server and
// client halves of payment verification.
package domain

import (
	"encoding/hex"
	"regexp"

	"storefront_backend/platform/apperr"

	"github.com/google/uuid"
)

// ReferencePrefix starts every server-issued payment reference.
const ReferencePrefix = "pay_"

// ReferencePattern matches server-issued references: the prefix and the 32 hex
// digits of a UUIDv7.
const ReferencePattern = `^pay_[0-9a-f]{32}$`

var referenceRe = regexp.MustCompile(ReferencePattern)

// NewReference issues a fresh server reference. Only the backend calls this.
func NewReference() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return ReferencePrefix + hex.EncodeToString(id[:]), nil
}

// IsServerReference reports whether ref has the server-issued shape.
func IsServerReference(ref string) bool {
	return referenceRe.MatchString(ref)
}

// ValidateServerReference rejects any reference the backend could not have
// issued, such as a client-made placeholder. It never touches the network.
func ValidateServerReference(ref string) error {
	if !IsServerReference(ref) {
		return apperr.Validation("payment reference was not issued by the server")
	}
	return nil
}
