package ebicscrypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// SignA006 computes the EBICS A006 order-data signature: a SHA-256 digest
// of orderData signed with PKCS#1 v1.5 using the client signature key
// (spec.md §4.B). SignA006PSS below is the PSS variant; the upload state
// machine in internal/ebics/transport always calls SignA006.
func SignA006(priv *rsa.PrivateKey, orderData []byte) ([]byte, error) {
	digest := sha256.Sum256(orderData)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("ebicscrypto: A006 sign: %w", err)
	}
	return sig, nil
}

// SignA006PSS is the PSS variant of SignA006, for dialects that mandate
// RSASSA-PSS over PKCS#1 v1.5.
func SignA006PSS(priv *rsa.PrivateKey, orderData []byte) ([]byte, error) {
	digest := sha256.Sum256(orderData)
	sig, err := rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest[:], nil)
	if err != nil {
		return nil, fmt.Errorf("ebicscrypto: A006 PSS sign: %w", err)
	}
	return sig, nil
}

// VerifyA006 checks an A006 signature against order data using the
// counterparty's signature public key.
func VerifyA006(pub *rsa.PublicKey, orderData, sig []byte) error {
	digest := sha256.Sum256(orderData)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return fmt.Errorf("ebicscrypto: A006 signature invalid: %w", err)
	}
	return nil
}

// SignX002 computes the EBICS X002 envelope authentication signature:
// a SHA-256 digest of the canonicalized authenticate="true" subtree,
// signed with PKCS#1 v1.5 using the client authentication key.
func SignX002(priv *rsa.PrivateKey, canonicalSubtree []byte) ([]byte, error) {
	digest := sha256.Sum256(canonicalSubtree)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("ebicscrypto: X002 sign: %w", err)
	}
	return sig, nil
}

// VerifyX002 checks an X002 envelope signature. The state machines in
// internal/ebics/transport call this on every response; flipping any byte
// of the signed subtree must make this fail (spec.md §8).
func VerifyX002(pub *rsa.PublicKey, canonicalSubtree, sig []byte) error {
	digest := sha256.Sum256(canonicalSubtree)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return fmt.Errorf("ebicscrypto: X002 signature invalid: %w", err)
	}
	return nil
}
