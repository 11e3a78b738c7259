package chain

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
)

// ErrNoSeal is returned by Unseal when no head has been sealed yet.
var ErrNoSeal = errors.New("no sealed head")

// Sealer keeps an encrypted copy of the chain head hash outside the store,
// so that rewriting the last record together with its hash is detectable.
type Sealer interface {
	Seal(ctx context.Context, hash string) error
	Unseal(ctx context.Context) (string, error)
}

// FileSealer stores the head hash in a NaCl secretbox on disk.
//
// It also orders appends against seal checks within the process: a store
// holds the head lock for writing from its insert until the new head is
// sealed, and LockForCheck holds it for reading while a checker loads the
// chain and reads the seal. Writers in other processes are not covered.
type FileSealer struct {
	path string
	key  [32]byte
	mu   sync.Mutex
	head sync.RWMutex
}

// NewFileSealer creates a FileSealer. hexKey must encode exactly 32 bytes.
func NewFileSealer(path, hexKey string) (*FileSealer, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode seal key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("seal key must be 32 bytes, got %d", len(raw))
	}
	s := &FileSealer{path: path}
	copy(s.key[:], raw)
	return s, nil
}

// Seal encrypts hash and atomically replaces the seal file.
func (s *FileSealer) Seal(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("seal nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], []byte(hash), &nonce, &s.key)

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".seal-*")
	if err != nil {
		return fmt.Errorf("create seal temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(box); err != nil {
		tmp.Close()
		return fmt.Errorf("write seal: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close seal: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace seal: %w", err)
	}
	return nil
}

// Unseal decrypts the sealed head hash.
func (s *FileSealer) Unseal(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	box, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoSeal
	}
	if err != nil {
		return "", fmt.Errorf("read seal: %w", err)
	}
	if len(box) < 24+secretbox.Overhead {
		return "", fmt.Errorf("seal file truncated")
	}

	var nonce [24]byte
	copy(nonce[:], box[:24])
	plain, ok := secretbox.Open(nil, box[24:], &nonce, &s.key)
	if !ok {
		return "", fmt.Errorf("seal authentication failed")
	}
	return string(plain), nil
}

func (s *FileSealer) lockAppend() func() {
	s.head.Lock()
	return s.head.Unlock
}

func (s *FileSealer) lockCheck() func() {
	s.head.RLock()
	return s.head.RUnlock
}

// headLocker is implemented by sealers that order appends against checks.
type headLocker interface {
	lockAppend() func()
	lockCheck() func()
}

// LockForCheck blocks appends sealed by s until the returned func is
// called. Load the chain and call CheckSeal while holding it. Sealers that
// do not order appends return a no-op.
func LockForCheck(s Sealer) (unlock func()) {
	if l, ok := s.(headLocker); ok {
		return l.lockCheck()
	}
	return func() {}
}

func lockForAppend(s Sealer) (unlock func()) {
	if l, ok := s.(headLocker); ok {
		return l.lockAppend()
	}
	return func() {}
}

// CheckSeal compares the verified head against the sealed head. An empty
// chain with no seal passes; any other disagreement is a TipMismatch.
func CheckSeal(ctx context.Context, s Sealer, head Checkpoint) *Tamper {
	sealed, err := s.Unseal(ctx)
	if errors.Is(err, ErrNoSeal) && head.Sequence < 0 {
		return nil
	}
	if err != nil || sealed != head.Hash {
		seq := head.Sequence
		if seq < 0 {
			seq = 0
		}
		return &Tamper{Sequence: seq, Reason: ReasonTipMismatch}
	}
	return nil
}
