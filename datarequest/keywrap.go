package datarequest

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrKeyMismatch is returned when the presented token cannot open the
// stored ciphertext. This is the consent mechanism's core guarantee: a
// requester without the exact token used at approval time cannot
// recover the request key.
var ErrKeyMismatch = errors.New("request key cannot be decrypted with this token")

const wrapKeySize = chacha20poly1305.KeySize

// wrapKey derives the AEAD key from the requester's token, bound to
// the request ID so a wrapped key from one request is useless on
// another.
func wrapKey(requesterToken, requestID string) ([]byte, error) {
	reader := hkdf.New(sha256.New, []byte(requesterToken), []byte(requestID), []byte("otpcore/datarequest/v1"))
	key := make([]byte, wrapKeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Seal encrypts a freshly minted request key under the requester's
// token. Output layout: 24-byte random nonce followed by the AEAD box.
func Seal(requesterToken, requestID string, requestKey []byte) ([]byte, error) {
	wk, err := wrapKey(requesterToken, requestID)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(wk)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return aead.Seal(nonce, nonce, requestKey, []byte(requestID)), nil
}

// Open decrypts a sealed request key with the requester's token.
func Open(requesterToken, requestID string, box []byte) ([]byte, error) {
	wk, err := wrapKey(requesterToken, requestID)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(wk)
	if err != nil {
		return nil, err
	}
	if len(box) < aead.NonceSize() {
		return nil, ErrKeyMismatch
	}

	nonce, ciphertext := box[:aead.NonceSize()], box[aead.NonceSize():]
	key, err := aead.Open(nil, nonce, ciphertext, []byte(requestID))
	if err != nil {
		return nil, ErrKeyMismatch
	}
	return key, nil
}
