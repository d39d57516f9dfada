// Package ebicscrypto implements the EBICS cryptographic envelope:
// A006 order-data signatures, E002 hybrid encryption, X002 envelope
// signatures, and public-key digests (spec.md §4.B). No third-party
// crypto library in the example pack implements these EBICS-specific
// primitives, so this package is built directly on the standard library.
package ebicscrypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
)

// KeyPair is a single RSA key used in one of the three EBICS roles
// (signature, authentication, encryption).
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// GenerateKeyPair creates a fresh RSA key pair at the given bit size
// (spec.md §8 scenario 1 calls for 2048-bit keys at subscriber bootstrap).
func GenerateKeyPair(bits int) (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("ebicscrypto: generate key: %w", err)
	}
	return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

// LoadPrivateKeyPKCS8 loads an RSA private key from PKCS#8 DER or
// PEM-wrapped bytes.
func LoadPrivateKeyPKCS8(data []byte) (*rsa.PrivateKey, error) {
	der := data
	if block, _ := pem.Decode(data); block != nil {
		der = block.Bytes
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("ebicscrypto: parse PKCS#8 key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("ebicscrypto: PKCS#8 key is not RSA")
	}
	return rsaKey, nil
}

// MarshalPrivateKeyPKCS8 serializes an RSA private key to PKCS#8 DER.
func MarshalPrivateKeyPKCS8(key *rsa.PrivateKey) ([]byte, error) {
	return x509.MarshalPKCS8PrivateKey(key)
}

// PublicKeyFromComponents builds an RSA public key from its modulus and
// exponent, the form EBICS key-management responses carry them in.
func PublicKeyFromComponents(modulus []byte, exponent []byte) *rsa.PublicKey {
	n := new(big.Int).SetBytes(modulus)
	e := new(big.Int).SetBytes(exponent)
	return &rsa.PublicKey{N: n, E: int(e.Int64())}
}

// PublicKeyFromCertificate extracts the RSA public key embedded in a
// self-signed X.509 certificate, the form H005/EBICS 3.0 carries
// subscriber public keys in (spec.md §4.B).
func PublicKeyFromCertificate(der []byte) (*rsa.PublicKey, string, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, "", fmt.Errorf("ebicscrypto: parse certificate: %w", err)
	}
	rsaKey, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, "", errors.New("ebicscrypto: certificate public key is not RSA")
	}
	return rsaKey, cert.Subject.CommonName, nil
}
