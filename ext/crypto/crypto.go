// Package crypto exposes authenticated encryption over key resources.
//
//	crypto_generate_key  key in Bufs[0] (optional)               -> rid
//	crypto_seal          rid, plaintext Bufs[0], aad Bufs[1]      -> nonce||ciphertext
//	crypto_open          rid, nonce||ciphertext Bufs[0], aad Bufs[1] -> plaintext
//	crypto_random        size                                     -> bytes
//
// Keys are XChaCha20-Poly1305 keys. Nonces are random, which the extended
// nonce size makes safe. Key bytes never leave the resource and are zeroed
// on close.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/wippyai/op-runtime/errors"
	"github.com/wippyai/op-runtime/extension"
	"github.com/wippyai/op-runtime/ops"
	"github.com/wippyai/op-runtime/resource"
	"github.com/wippyai/op-runtime/state"
)

// Op names.
const (
	OpGenerateKey = "crypto_generate_key"
	OpSeal        = "crypto_seal"
	OpOpen        = "crypto_open"
	OpRandom      = "crypto_random"
)

// MaxRandomSize bounds a single crypto_random call.
const MaxRandomSize = 64 * 1024

var errClosed = errors.New(errors.PhaseHost, errors.KindNotFound).
	Resource("cryptoKey").
	Detail("key is closed").
	Build()

// Key is a symmetric key resource.
type Key struct {
	aead cipher.AEAD
	raw  []byte
	mu   sync.RWMutex
}

// NewKey creates a key resource from 32 raw bytes. The slice is copied.
func NewKey(raw []byte) (*Key, error) {
	if len(raw) != chacha20poly1305.KeySize {
		return nil, errors.InvalidInput(errors.PhaseHost, "key must be 32 bytes")
	}
	k := &Key{raw: append([]byte(nil), raw...)}
	aead, err := chacha20poly1305.NewX(k.raw)
	if err != nil {
		return nil, errors.Underlying(errors.PhaseHost, err)
	}
	k.aead = aead
	return k, nil
}

// GenerateKey creates a random key.
func GenerateKey() (*Key, error) {
	raw := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(raw); err != nil {
		return nil, errors.Underlying(errors.PhaseHost, err)
	}
	return NewKey(raw)
}

func (k *Key) Name() string { return "cryptoKey" }

// Seal encrypts plaintext and returns the nonce followed by the ciphertext.
func (k *Key) Seal(plaintext, aad []byte) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.aead == nil {
		return nil, errClosed
	}

	nonce := make([]byte, k.aead.NonceSize(), k.aead.NonceSize()+len(plaintext)+k.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Underlying(errors.PhaseHost, err)
	}
	return k.aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Open authenticates and decrypts a message produced by Seal.
func (k *Key) Open(msg, aad []byte) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.aead == nil {
		return nil, errClosed
	}

	if len(msg) < k.aead.NonceSize()+k.aead.Overhead() {
		return nil, errors.InvalidInput(errors.PhaseHost, "message too short")
	}
	nonce, ct := msg[:k.aead.NonceSize()], msg[k.aead.NonceSize():]
	pt, err := k.aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHost, errors.KindInvalidInput, err, "message authentication failed")
	}
	return pt, nil
}

// Close zeroes the key.
func (k *Key) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	clear(k.raw)
	k.aead = nil
}

// Extension returns the crypto extension.
func Extension() *extension.Extension {
	return extension.New("crypto",
		extension.WithOp(OpGenerateKey, ops.SyncFunc(generateKey)),
		extension.WithOp(OpSeal, ops.SyncFunc(seal)),
		extension.WithOp(OpOpen, ops.SyncFunc(open)),
		extension.WithOp(OpRandom, ops.SyncFunc(random)),
	)
}

func generateKey(st *state.State, args ops.Args) (any, error) {
	var (
		k   *Key
		err error
	)
	if raw, ok := args.Buf(0); ok {
		k, err = NewKey(raw)
	} else {
		k, err = GenerateKey()
	}
	if err != nil {
		return nil, err
	}
	return st.Resources().Add(k)
}

func key(st *state.State, args ops.Args) (*Key, []byte, []byte, error) {
	rid, err := ops.Decode[resource.ID](args)
	if err != nil {
		return nil, nil, nil, err
	}
	k, err := resource.Get[*Key](st.Resources(), rid)
	if err != nil {
		return nil, nil, nil, err
	}
	data, ok := args.Buf(0)
	if !ok {
		return nil, nil, nil, errors.InvalidInput(errors.PhaseHost, "data buffer is required")
	}
	aad, _ := args.Buf(1)
	return k, data, aad, nil
}

func seal(st *state.State, args ops.Args) (any, error) {
	k, data, aad, err := key(st, args)
	if err != nil {
		return nil, err
	}
	return k.Seal(data, aad)
}

func open(st *state.State, args ops.Args) (any, error) {
	k, data, aad, err := key(st, args)
	if err != nil {
		return nil, err
	}
	return k.Open(data, aad)
}

func random(_ *state.State, args ops.Args) (any, error) {
	size, err := ops.Decode[int](args)
	if err != nil {
		return nil, err
	}
	if size < 0 || size > MaxRandomSize {
		return nil, errors.InvalidInput(errors.PhaseHost, "size out of range")
	}
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return nil, errors.Underlying(errors.PhaseHost, err)
	}
	return b, nil
}
