package ebicscrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
)

const aesKeySize = 16 // 128-bit session key, as EBICS E002 mandates.

// GenerateSessionKey produces a fresh 16-byte AES session key for one
// E002 encryption operation.
func GenerateSessionKey() ([]byte, error) {
	key := make([]byte, aesKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("ebicscrypto: session key: %w", err)
	}
	return key, nil
}

// EncryptE002 AES/CBC/PKCS5-encrypts plaintext under sessionKey with a
// zero IV, the construction EBICS E002 specifies (spec.md §4.B).
func EncryptE002(sessionKey, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(sessionKey)
	if err != nil {
		return nil, fmt.Errorf("ebicscrypto: E002 cipher: %w", err)
	}
	padded := pkcs5Pad(plaintext, block.BlockSize())
	iv := make([]byte, block.BlockSize())
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return ciphertext, nil
}

// DecryptE002 reverses EncryptE002.
func DecryptE002(sessionKey, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(sessionKey)
	if err != nil {
		return nil, fmt.Errorf("ebicscrypto: E002 cipher: %w", err)
	}
	if len(ciphertext)%block.BlockSize() != 0 {
		return nil, errors.New("ebicscrypto: E002 ciphertext is not block-aligned")
	}
	iv := make([]byte, block.BlockSize())
	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)
	return pkcs5Unpad(padded)
}

// WrapSessionKey encrypts an AES session key under the counterparty's
// RSA public key with PKCS#1 v1.5, the E002 key-wrap step.
func WrapSessionKey(pub *rsa.PublicKey, sessionKey []byte) ([]byte, error) {
	wrapped, err := rsa.EncryptPKCS1v15(rand.Reader, pub, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("ebicscrypto: wrap session key: %w", err)
	}
	return wrapped, nil
}

// UnwrapSessionKey reverses WrapSessionKey using the client's encryption
// private key.
func UnwrapSessionKey(priv *rsa.PrivateKey, wrapped []byte) ([]byte, error) {
	key, err := rsa.DecryptPKCS1v15(rand.Reader, priv, wrapped)
	if err != nil {
		return nil, fmt.Errorf("ebicscrypto: unwrap session key: %w", err)
	}
	return key, nil
}

func pkcs5Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs5Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("ebicscrypto: cannot unpad empty data")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, errors.New("ebicscrypto: invalid PKCS5 padding")
	}
	return data[:len(data)-padLen], nil
}
