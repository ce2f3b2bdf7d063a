// Package evidence persists certification decisions as content-addressed
// canonical JSON blobs. The ref returned by Archive ("sha256:<hex>") is
// stable for identical payloads, so re-archiving the same decision is a
// no-op on every backend.
package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	"github.com/Oversight-Labs/sentra/core/pkg/canonicalize"
	"github.com/Oversight-Labs/sentra/core/pkg/faults"
)

const refPrefix = "sha256:"

// Archiver stores an evidence payload and returns its content ref.
type Archiver interface {
	Archive(ctx context.Context, payload any) (string, error)
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// encode canonicalizes the payload and derives its ref.
func encode(payload any) ([]byte, string, error) {
	data, err := canonicalize.JCS(payload)
	if err != nil {
		return nil, "", faults.Wrap(faults.Validation, err, "evidence payload is not canonicalizable")
	}
	sum := sha256.Sum256(data)
	return data, refPrefix + hex.EncodeToString(sum[:]), nil
}

// rawHash strips and validates the ref prefix.
func rawHash(ref string) (string, error) {
	if len(ref) <= len(refPrefix) || ref[:len(refPrefix)] != refPrefix {
		return "", faults.New(faults.Validation, "invalid evidence ref %q", ref)
	}
	return ref[len(refPrefix):], nil
}

// FileArchiver is a filesystem-backed archiver, used for local runs and
// tests.
type FileArchiver struct {
	baseDir string
	mu      sync.Mutex
}

// NewFileArchiver creates the base directory if needed.
func NewFileArchiver(baseDir string) (*FileArchiver, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, faults.Wrap(faults.Fatal, err, "evidence dir %s", baseDir)
	}
	return &FileArchiver{baseDir: baseDir}, nil
}

func (a *FileArchiver) Archive(_ context.Context, payload any) (string, error) {
	data, ref, err := encode(payload)
	if err != nil {
		return "", err
	}
	hash, _ := rawHash(ref)
	path := filepath.Join(a.baseDir, hash+".json")

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", faults.Wrap(faults.PermanentExternal, err, "evidence write %s", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", faults.Wrap(faults.PermanentExternal, err, "evidence commit %s", path)
	}
	return ref, nil
}

func (a *FileArchiver) Fetch(_ context.Context, ref string) ([]byte, error) {
	hash, err := rawHash(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(a.baseDir, hash+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, faults.New(faults.NotFound, "evidence %s not found", ref)
		}
		return nil, faults.Wrap(faults.PermanentExternal, err, "evidence read %s", ref)
	}
	return data, nil
}
