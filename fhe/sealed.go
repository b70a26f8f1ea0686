package fhe

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/hkdf"
)

const (
	saltSize      = 16
	valueKeyInfo  = "sealedauction/value/v1"
	masterKeySize = 32
)

// SealedConfig configures a SealedBackend.
type SealedConfig struct {
	// MasterKey seals every value. If nil, a random key is generated.
	MasterKey []byte
	// Keys opens bidder inputs. If nil, a fresh RSA key pair is generated.
	Keys   *KeyManager
	Logger *logrus.Logger
}

// SealedBackend implements Evaluator and Decryptor with authenticated encryption held by a
// trusted process: every value is an AES-256-GCM sealed integer under a key derived from the
// master key with HKDF. Holders of a Handle learn nothing but its kind.
type SealedBackend struct {
	masterKey []byte
	keys      *KeyManager
	log       *logrus.Logger

	mu  sync.RWMutex
	acl map[string]map[string]bool
}

var (
	_ Evaluator = (*SealedBackend)(nil)
	_ Decryptor = (*SealedBackend)(nil)
)

// NewSealedBackend creates a backend from config.
func NewSealedBackend(config SealedConfig) (*SealedBackend, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	masterKey := config.MasterKey
	if masterKey == nil {
		masterKey = make([]byte, masterKeySize)
		if _, err := rand.Read(masterKey); err != nil {
			return nil, fmt.Errorf("entropy generation failed: %w", err)
		}
	}
	if len(masterKey) != masterKeySize {
		return nil, fmt.Errorf("invalid master key length: expected %d bytes, got %d", masterKeySize, len(masterKey))
	}

	keys := config.Keys
	if keys == nil {
		var err error
		keys, err = NewKeyManager()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize key manager: %w", err)
		}
	}

	return &SealedBackend{
		masterKey: masterKey,
		keys:      keys,
		log:       config.Logger,
		acl:       make(map[string]map[string]bool),
	}, nil
}

// InputPublicKeyPEM returns the key bidders encrypt their inputs to.
func (s *SealedBackend) InputPublicKeyPEM() (string, error) {
	return s.keys.PublicKeyPEM()
}

// Keys returns the backend's input key manager.
func (s *SealedBackend) Keys() *KeyManager {
	return s.keys
}

func (s *SealedBackend) Ingest(value ExternalValue, proof *InputProof, binding Binding) (Handle, error) {
	if proof == nil {
		return nil, fmt.Errorf("missing input proof")
	}

	plaintext, err := s.keys.open(proof, binding.AdditionalData())
	if err != nil {
		return nil, fmt.Errorf("input proof rejected: %w", err)
	}

	var payload inputPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("invalid input payload format: %w", err)
	}

	if int(value) >= len(payload.Values) {
		return nil, fmt.Errorf("input index %d out of range (%d values)", value, len(payload.Values))
	}

	return s.seal(KindUint, new(big.Int).SetUint64(payload.Values[value]))
}

func (s *SealedBackend) Encrypt(v uint64) (Handle, error) {
	return s.seal(KindUint, new(big.Int).SetUint64(v))
}

func (s *SealedBackend) Add(a, b Handle) (Handle, error) {
	x, y, err := s.openPair(a, b, KindUint)
	if err != nil {
		return nil, fmt.Errorf("add: %w", err)
	}
	return s.seal(KindUint, new(big.Int).Add(x, y))
}

func (s *SealedBackend) Mul(a, b Handle) (Handle, error) {
	x, y, err := s.openPair(a, b, KindUint)
	if err != nil {
		return nil, fmt.Errorf("mul: %w", err)
	}
	return s.seal(KindUint, new(big.Int).Mul(x, y))
}

func (s *SealedBackend) DivPlain(a Handle, divisor uint64) (Handle, error) {
	if divisor == 0 {
		return nil, fmt.Errorf("div: division by zero")
	}
	x, err := s.openKind(a, KindUint)
	if err != nil {
		return nil, fmt.Errorf("div: %w", err)
	}
	return s.seal(KindUint, new(big.Int).Quo(x, new(big.Int).SetUint64(divisor)))
}

func (s *SealedBackend) Ge(a, b Handle) (Handle, error) {
	x, y, err := s.openPair(a, b, KindUint)
	if err != nil {
		return nil, fmt.Errorf("ge: %w", err)
	}
	return s.sealBool(x.Cmp(y) >= 0)
}

func (s *SealedBackend) Eq(a, b Handle) (Handle, error) {
	x, y, err := s.openPair(a, b, KindUint)
	if err != nil {
		return nil, fmt.Errorf("eq: %w", err)
	}
	return s.sealBool(x.Cmp(y) == 0)
}

func (s *SealedBackend) And(a, b Handle) (Handle, error) {
	x, y, err := s.openPair(a, b, KindBool)
	if err != nil {
		return nil, fmt.Errorf("and: %w", err)
	}
	return s.sealBool(x.Sign() != 0 && y.Sign() != 0)
}

func (s *SealedBackend) Select(cond, a, b Handle) (Handle, error) {
	c, err := s.openKind(cond, KindBool)
	if err != nil {
		return nil, fmt.Errorf("select condition: %w", err)
	}
	x, y, err := s.openPair(a, b, KindUint)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	// Both branches are resealed so the output never equals either input handle
	if c.Sign() != 0 {
		return s.seal(KindUint, x)
	}
	return s.seal(KindUint, y)
}

func (s *SealedBackend) Allow(h Handle, principal string) error {
	if _, err := decodeEnvelope(h); err != nil {
		return fmt.Errorf("allow: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := h.ID()
	if s.acl[id] == nil {
		s.acl[id] = make(map[string]bool)
	}
	s.acl[id][principal] = true
	return nil
}

func (s *SealedBackend) IsAllowed(h Handle, principal string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.acl[h.ID()][principal]
}

// Decrypt opens h for principal. Booleans decrypt to 0 or 1.
func (s *SealedBackend) Decrypt(h Handle, principal string) (uint64, error) {
	if !s.IsAllowed(h, principal) {
		return 0, fmt.Errorf("principal %s is not allowed to decrypt handle %s", principal, h.ID()[:16])
	}

	_, v, err := s.open(h)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("plaintext does not fit in 64 bits")
	}

	s.log.WithFields(logrus.Fields{
		"handle":    h.ID()[:16],
		"principal": principal,
	}).Debug("Handle decrypted")

	return v.Uint64(), nil
}

func (s *SealedBackend) sealBool(b bool) (Handle, error) {
	v := big.NewInt(0)
	if b {
		v.SetInt64(1)
	}
	return s.seal(KindBool, v)
}

func (s *SealedBackend) seal(kind Kind, v *big.Int) (Handle, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	aesgcm, err := s.valueCipher(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	env := envelope{
		Version: envelopeVersion,
		Kind:    kind,
		Salt:    salt,
		Nonce:   nonce,
		Sealed:  aesgcm.Seal(nil, nonce, v.Bytes(), []byte{envelopeVersion, byte(kind)}),
	}

	handle, err := cbor.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode handle envelope: %w", err)
	}
	return handle, nil
}

func (s *SealedBackend) open(h Handle) (Kind, *big.Int, error) {
	env, err := decodeEnvelope(h)
	if err != nil {
		return 0, nil, err
	}

	aesgcm, err := s.valueCipher(env.Salt)
	if err != nil {
		return 0, nil, err
	}

	if len(env.Nonce) != aesgcm.NonceSize() {
		return 0, nil, fmt.Errorf("invalid nonce length: expected %d bytes, got %d", aesgcm.NonceSize(), len(env.Nonce))
	}

	plaintext, err := aesgcm.Open(nil, env.Nonce, env.Sealed, []byte{env.Version, byte(env.Kind)})
	if err != nil {
		return 0, nil, fmt.Errorf("failed to open handle: %w", err)
	}
	return env.Kind, new(big.Int).SetBytes(plaintext), nil
}

func (s *SealedBackend) openKind(h Handle, want Kind) (*big.Int, error) {
	kind, v, err := s.open(h)
	if err != nil {
		return nil, err
	}
	if kind != want {
		return nil, fmt.Errorf("operand is %s, want %s", kind, want)
	}
	return v, nil
}

func (s *SealedBackend) openPair(a, b Handle, want Kind) (*big.Int, *big.Int, error) {
	x, err := s.openKind(a, want)
	if err != nil {
		return nil, nil, err
	}
	y, err := s.openKind(b, want)
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

func (s *SealedBackend) valueCipher(salt []byte) (cipher.AEAD, error) {
	if len(salt) != saltSize {
		return nil, fmt.Errorf("invalid salt length: expected %d bytes, got %d", saltSize, len(salt))
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, s.masterKey, salt, []byte(valueKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive value key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesgcm, nil
}
