// Package encryption owns the device-local symmetric key used to encrypt
// measurement payloads before they leave the device.
//
// Ciphertexts use the envelope format "<base64 ciphertext>:<base64 iv>" with
// AES-256-GCM. The AES key is derived from random key material with
// HKDF-SHA256. Rotating the key keeps the previous material in a capped legacy
// list so that envelopes written before the rotation stay readable.
package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"

	"github.com/atinyakov/glucosync/internal/apperr"
	"github.com/atinyakov/glucosync/internal/models"
)

const (
	// Delimiter separates ciphertext and IV inside an envelope.
	Delimiter = ":"
	// MinCiphertextLength is the shortest string that can be a valid envelope.
	MinCiphertextLength = 20
	// DefaultMaxLegacyKeys bounds the recovery window after rotations.
	DefaultMaxLegacyKeys = 5

	keyMaterialSize = 32
	hkdfInfo        = "glucosync measurement key v1"
	selfTestText    = "glucosync-self-test"
)

// ErrNotInitialized is returned when encrypt/decrypt run before InitializeEncryptionKey.
var ErrNotInitialized = errors.New("encryption key not initialized")

// KeyStore persists the key record. SaveKeyRecord must replace the stored
// record atomically. LoadKeyRecord returns (nil, nil) when nothing is stored.
type KeyStore interface {
	LoadKeyRecord() (*models.KeyRecord, error)
	SaveKeyRecord(rec *models.KeyRecord) error
}

// KeyInfo summarises the active key for diagnostics.
type KeyInfo struct {
	Version     int    `json:"version"`
	Hash        string `json:"hash"`
	LegacyCount int    `json:"legacyCount"`
}

// Service encrypts and decrypts measurement payloads.
type Service struct {
	store     KeyStore
	maxLegacy int
	log       *zap.Logger

	// mu makes rotation a critical section: readers never see a half-rotated key.
	mu      sync.RWMutex
	rec     *models.KeyRecord
	current cipher.AEAD
	legacy  []cipher.AEAD
}

// NewService creates a Service. maxLegacy <= 0 selects DefaultMaxLegacyKeys.
func NewService(store KeyStore, maxLegacy int, log *zap.Logger) *Service {
	if maxLegacy <= 0 {
		maxLegacy = DefaultMaxLegacyKeys
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, maxLegacy: maxLegacy, log: log}
}

// InitializeEncryptionKey loads the persisted key or generates and persists a
// new one. Calling it again is a no-op.
func (s *Service) InitializeEncryptionKey(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rec, err := s.store.LoadKeyRecord()
	if err != nil {
		return fmt.Errorf("load key record: %w", err)
	}
	if rec == nil {
		material, err := newKeyMaterial()
		if err != nil {
			return err
		}
		rec = &models.KeyRecord{
			Version: 1,
			Key:     base64.StdEncoding.EncodeToString(material),
			Hash:    fingerprint(material),
		}
		if err := s.store.SaveKeyRecord(rec); err != nil {
			return fmt.Errorf("save key record: %w", err)
		}
		s.log.Info("generated encryption key", zap.Int("version", rec.Version), zap.String("hash", rec.Hash))
	}

	return s.install(rec)
}

// ResetEncryptionKey generates a new key, moves the current key to the front of
// the legacy list and bumps the version. The new record is persisted before
// the in-memory key is swapped.
func (s *Service) ResetEncryptionKey(ctx context.Context) (KeyInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec == nil {
		return KeyInfo{}, ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return KeyInfo{}, err
	}

	material, err := newKeyMaterial()
	if err != nil {
		return KeyInfo{}, err
	}

	legacy := make([]models.LegacyKey, 0, len(s.rec.LegacyKeys)+1)
	legacy = append(legacy, models.LegacyKey{Version: s.rec.Version, Key: s.rec.Key, Hash: s.rec.Hash})
	legacy = append(legacy, s.rec.LegacyKeys...)
	if len(legacy) > s.maxLegacy {
		for _, evicted := range legacy[s.maxLegacy:] {
			s.log.Warn("evicting legacy key", zap.Int("version", evicted.Version), zap.String("hash", evicted.Hash))
		}
		legacy = legacy[:s.maxLegacy]
	}

	next := &models.KeyRecord{
		Version:    s.rec.Version + 1,
		Key:        base64.StdEncoding.EncodeToString(material),
		Hash:       fingerprint(material),
		LegacyKeys: legacy,
	}
	if err := s.store.SaveKeyRecord(next); err != nil {
		return KeyInfo{}, fmt.Errorf("save rotated key record: %w", err)
	}
	if err := s.install(next); err != nil {
		return KeyInfo{}, err
	}

	s.log.Info("rotated encryption key",
		zap.Int("version", next.Version),
		zap.String("hash", next.Hash),
		zap.Int("legacy_keys", len(next.LegacyKeys)))
	return s.infoLocked(), nil
}

// Encrypt seals plaintext with the current key.
func (s *Service) Encrypt(plaintext string) (string, error) {
	s.mu.RLock()
	aead := s.current
	s.mu.RUnlock()

	if aead == nil {
		return "", ErrNotInitialized
	}
	return seal(aead, plaintext)
}

// Decrypt opens ciphertext with the current key, then each legacy key from the
// most recent to the oldest.
func (s *Service) Decrypt(ciphertext string) (string, error) {
	return s.DecryptWithCandidate(ciphertext, "")
}

// DecryptWithCandidate behaves like Decrypt and, when every known key fails,
// also tries candidateKey (base64 key material, as stored in a key record).
func (s *Service) DecryptWithCandidate(ciphertext, candidateKey string) (string, error) {
	ct, iv, err := split(ciphertext)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	if s.current == nil {
		s.mu.RUnlock()
		return "", ErrNotInitialized
	}
	keys := make([]cipher.AEAD, 0, len(s.legacy)+2)
	keys = append(keys, s.current)
	keys = append(keys, s.legacy...)
	s.mu.RUnlock()

	if candidateKey != "" {
		aead, err := aeadFromEncoded(candidateKey)
		if err != nil {
			return "", fmt.Errorf("candidate key: %w", err)
		}
		keys = append(keys, aead)
	}

	for _, aead := range keys {
		if len(iv) != aead.NonceSize() {
			continue
		}
		plain, err := aead.Open(nil, iv, ct, nil)
		if err == nil {
			return string(plain), nil
		}
	}
	return "", &apperr.DecryptionError{Attempts: len(keys)}
}

// TestCrypto round-trips a known plaintext and reports whether it survived.
func (s *Service) TestCrypto() bool {
	ct, err := s.Encrypt(selfTestText)
	if err != nil {
		s.log.Warn("crypto self test: encrypt failed", zap.Error(err))
		return false
	}
	plain, err := s.Decrypt(ct)
	if err != nil {
		s.log.Warn("crypto self test: decrypt failed", zap.Error(err))
		return false
	}
	return plain == selfTestText
}

// KeyInfo returns the active key version and fingerprint.
func (s *Service) KeyInfo() KeyInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.infoLocked()
}

func (s *Service) infoLocked() KeyInfo {
	if s.rec == nil {
		return KeyInfo{}
	}
	// Only legacy keys that could be installed are usable for decryption.
	return KeyInfo{Version: s.rec.Version, Hash: s.rec.Hash, LegacyCount: len(s.legacy)}
}

// install builds the AEADs for rec and swaps them in. Caller holds mu.
func (s *Service) install(rec *models.KeyRecord) error {
	current, err := aeadFromEncoded(rec.Key)
	if err != nil {
		return fmt.Errorf("key version %d: %w", rec.Version, err)
	}
	legacy := make([]cipher.AEAD, 0, len(rec.LegacyKeys))
	for _, lk := range rec.LegacyKeys {
		aead, err := aeadFromEncoded(lk.Key)
		if err != nil {
			s.log.Warn("skipping unreadable legacy key", zap.Int("version", lk.Version), zap.Error(err))
			continue
		}
		legacy = append(legacy, aead)
	}
	s.rec = rec
	s.current = current
	s.legacy = legacy
	return nil
}

// CheckStructure applies the cheap structural test used to tell "not our
// data" apart from "wrong key": a non-empty string of minimum length that
// contains the delimiter.
func CheckStructure(data string) error {
	if len(data) < MinCiphertextLength {
		return fmt.Errorf("%w: shorter than %d characters", apperr.ErrMalformedCiphertext, MinCiphertextLength)
	}
	if !strings.Contains(data, Delimiter) {
		return fmt.Errorf("%w: missing %q delimiter", apperr.ErrMalformedCiphertext, Delimiter)
	}
	return nil
}

// ValidateKey checks that encoded is usable key material in the key record
// encoding, such as a candidate key supplied for repair.
func ValidateKey(encoded string) error {
	_, err := aeadFromEncoded(encoded)
	return err
}

func split(data string) (ct, iv []byte, err error) {
	if err := CheckStructure(data); err != nil {
		return nil, nil, err
	}
	ctPart, ivPart, _ := strings.Cut(data, Delimiter)
	ct, err = base64.StdEncoding.DecodeString(ctPart)
	if err != nil || len(ct) == 0 {
		return nil, nil, fmt.Errorf("%w: ciphertext is not base64", apperr.ErrMalformedCiphertext)
	}
	iv, err = base64.StdEncoding.DecodeString(ivPart)
	if err != nil || len(iv) == 0 {
		return nil, nil, fmt.Errorf("%w: iv is not base64", apperr.ErrMalformedCiphertext)
	}
	return ct, iv, nil
}

func seal(aead cipher.AEAD, plaintext string) (string, error) {
	iv := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}
	ct := aead.Seal(nil, iv, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ct) + Delimiter + base64.StdEncoding.EncodeToString(iv), nil
}

func aeadFromEncoded(encoded string) (cipher.AEAD, error) {
	material, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(material) != keyMaterialSize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", keyMaterialSize, len(material))
	}
	return newAEAD(material)
}

func newAEAD(material []byte) (cipher.AEAD, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, material, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create AEAD: %w", err)
	}
	return aead, nil
}

func newKeyMaterial() ([]byte, error) {
	material := make([]byte, keyMaterialSize)
	if _, err := io.ReadFull(rand.Reader, material); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return material, nil
}

func fingerprint(material []byte) string {
	sum := sha256.Sum256(material)
	return hex.EncodeToString(sum[:8])
}
