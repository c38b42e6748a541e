package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/google/uuid"
)

// IdempotencyKeyPrefix marks keys derived by IdempotencyKey.
const IdempotencyKeyPrefix = "upd_"

// IdempotencyKey derives the key that identifies one logical status intent.
// It is a pure function of its arguments so that a retried intent maps to the
// same key. Fields are length-prefixed to keep ("a|b", "c") and ("a", "b|c") apart.
func IdempotencyKey(actorID, targetID uuid.UUID, desiredState string) string {
	h := sha256.New()
	for _, field := range [][]byte{actorID[:], targetID[:], []byte(desiredState)} {
		var size [4]byte
		binary.BigEndian.PutUint32(size[:], uint32(len(field)))
		h.Write(size[:])
		h.Write(field)
	}
	return IdempotencyKeyPrefix + hex.EncodeToString(h.Sum(nil))
}

// AuditNonce returns a unique value for log correlation of a single call.
// It never participates in effect idempotency.
func AuditNonce() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uuid.NewString()
	}
	return hex.EncodeToString(b[:])
}
