package custody

import "crypto/sha256"

// sha256Sum returns the single SHA-256 digest of data, used for the P2WSH
// witness-script hash (BIP-141 specifies single SHA-256, not SHA-256d, for
// the script hash committed into the scriptPubKey).
func sha256Sum(data []byte) [32]byte {
	return sha256.Sum256(data)
}
