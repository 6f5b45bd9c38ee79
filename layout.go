package certd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/renameio/v2"
)

const (
	backupTimeLayout = "20060102_150405"
	dhParamFileName  = "dhparam.pem"
)

// Layout resolves every path the daemon reads or writes.
type Layout struct {
	CertDir         string
	BackupDir       string
	AccountKeyPath  string
	ChallengeDir    string
	DhParamPath     string
	DomainsFile     string
	ForceUpdateFile string
}

func NewLayout(s Settings) Layout {
	return Layout{
		CertDir:         s.CertDir,
		BackupDir:       s.BackupDir,
		AccountKeyPath:  s.AccountKeyPath,
		ChallengeDir:    s.ChallengeDir,
		DhParamPath:     filepath.Join(s.CertDir, dhParamFileName),
		DomainsFile:     s.DomainsFile,
		ForceUpdateFile: s.ForceUpdateFile,
	}
}

func (l Layout) KeyPath(name string) string  { return filepath.Join(l.CertDir, name+".key") }
func (l Layout) CSRPath(name string) string  { return filepath.Join(l.CertDir, name+".csr") }
func (l Layout) CertPath(name string) string { return filepath.Join(l.CertDir, name+".crt") }

// Backup copies src to {BackupDir}/{timestamp}_{name}.{ext}. Existing backups are never
// overwritten: a name already taken within the same second gets a _{n} suffix.
func (l Layout) Backup(src, name, ext string, now time.Time) (string, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", src, err)
	}
	info, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", src, err)
	}

	stem := now.Format(backupTimeLayout) + "_" + name
	for n := 0; ; n++ {
		base := stem
		if n > 0 {
			base += "_" + strconv.Itoa(n)
		}
		dst := filepath.Join(l.BackupDir, base+"."+ext)

		f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create backup %s: %w", dst, err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", fmt.Errorf("write backup %s: %w", dst, err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return "", fmt.Errorf("sync backup %s: %w", dst, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close backup %s: %w", dst, err)
		}
		return dst, nil
	}
}

// WriteFileAtomic replaces path with data so concurrent readers see either the old or
// the new content. The file mode is exactly perm, regardless of umask or the old file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	return renameio.WriteFile(path, data, perm, renameio.WithStaticPermissions(perm))
}

func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		return !info.IsDir(), nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
