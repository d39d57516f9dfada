package ebicscrypto

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
)

// PublicKeyDigest computes the EBICS public-key digest: SHA-256 over the
// ASCII hex representation of (exponent, modulus), lower-case, leading
// zeros stripped, separated by a single space (spec.md §4.B).
func PublicKeyDigest(key *rsa.PublicKey) [32]byte {
	expHex := stripLeadingZeros(hex.EncodeToString(big.NewInt(int64(key.E)).Bytes()))
	modHex := stripLeadingZeros(hex.EncodeToString(key.N.Bytes()))
	return sha256.Sum256([]byte(expHex + " " + modHex))
}

// OrderDataDigest computes the SHA-256 digest of the plaintext order data
// an upload's A006 signature is computed over, for the `DataDigest`
// element EBICS upload requests carry alongside the signature itself
// (spec.md §4.F Upload step 2).
func OrderDataDigest(orderData []byte) [32]byte {
	return sha256.Sum256(orderData)
}

func stripLeadingZeros(hexStr string) string {
	i := 0
	for i < len(hexStr)-1 && hexStr[i] == '0' {
		i++
	}
	return hexStr[i:]
}
