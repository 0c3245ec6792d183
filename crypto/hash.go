package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// Hash returns the SHA-256 hash of data as a lowercase hex string.
// Used for chain-level hashing: tx IDs, block hashes, state roots.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashBytes returns the raw SHA-256 bytes of data.
func HashBytes(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

// Keccak returns the legacy keccak-256 digest of data as a lowercase hex
// string. Answer digests and guess commitments use keccak so digests
// produced by standard contract tooling match the on-chain values.
func Keccak(data []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CommitDigest computes the digest a player commits to before revealing a
// guess: keccak-256 over the answer concatenated with a player-chosen salt.
func CommitDigest(answer, salt string) string {
	return Keccak(append([]byte(answer), salt...))
}

// AnswerDigest computes the digest that binds a game's answer at creation:
// keccak-256 over the answer alone. No game-level salt is mixed in, so the
// public digest is open to offline dictionary guessing; changing the formula
// would break digests produced by existing tooling, so the weakness is
// documented rather than fixed.
func AnswerDigest(answer string) string {
	return Keccak([]byte(answer))
}
