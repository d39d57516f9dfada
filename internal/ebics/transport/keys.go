package transport

import "crypto/rsa"

// KeyMaterial is the set of RSA keys one EBICS transaction needs: the
// subscriber's three private keys (signature, authentication,
// encryption) and the bank's two public keys with their SHA-256 digests,
// supplied by the caller that wires the gateway; internal/store does not
// persist keys (spec.md §4.B, §6).
type KeyMaterial struct {
	ClientSignature  *rsa.PrivateKey
	ClientAuth       *rsa.PrivateKey
	ClientEncryption *rsa.PrivateKey

	BankAuth        *rsa.PublicKey
	BankAuthDigest  [32]byte
	BankEncryption  *rsa.PublicKey
	BankEncryptionDigest [32]byte
}
