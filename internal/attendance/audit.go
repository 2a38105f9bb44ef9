package attendance

import (
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/imaging"
)

// AuditStore keeps the normalized capture of every recorded event as
// <dir>/<work date>/<event uid>.jpg. Events only store the relative reference.
type AuditStore struct {
	dir string
}

// NewAuditStore creates a store under dir. An empty dir disables writing and
// references are the bare event UID.
func NewAuditStore(dir string) *AuditStore {
	return &AuditStore{dir: dir}
}

// Enabled reports whether captures are written to disk.
func (a *AuditStore) Enabled() bool {
	return a != nil && a.dir != ""
}

// Save writes img and returns its reference.
func (a *AuditStore) Save(workDate, uid string, img image.Image) (string, error) {
	if !a.Enabled() || img == nil {
		return uid, nil
	}
	data, err := imaging.EncodeJPEG(img, constants.AuditJPEGQuality)
	if err != nil {
		return "", fmt.Errorf("encode audit capture: %w", err)
	}
	ref := workDate + "/" + uid + ".jpg"
	path := filepath.Join(a.dir, filepath.FromSlash(ref))
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("create audit dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write audit capture: %w", err)
	}
	return ref, nil
}

// Path resolves a reference to a file path. It returns false for bare UIDs and
// for references escaping the audit directory.
func (a *AuditStore) Path(ref string) (string, bool) {
	if !a.Enabled() || !strings.HasSuffix(ref, ".jpg") {
		return "", false
	}
	clean := filepath.Clean(filepath.FromSlash(ref))
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", false
	}
	return filepath.Join(a.dir, clean), true
}

// Remove deletes a capture whose event was not recorded.
func (a *AuditStore) Remove(ref string) {
	path, ok := a.Path(ref)
	if !ok {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("WARNING: failed to remove audit capture %s: %v", ref, err)
	}
}
