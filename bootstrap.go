package certd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Bootstrap creates the directories of the layout and the ACME account key when absent.
// Any error here is fatal for the daemon.
func Bootstrap(layout Layout, toolkit Toolkit, logger *slog.Logger) error {
	dirs := []string{
		layout.CertDir,
		layout.BackupDir,
		layout.ChallengeDir,
		filepath.Dir(layout.AccountKeyPath),
		filepath.Dir(layout.ForceUpdateFile),
	}
	if layout.DomainsFile != "" {
		dirs = append(dirs, filepath.Dir(layout.DomainsFile))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	ok, err := fileExists(layout.AccountKeyPath)
	if err != nil {
		return fmt.Errorf("failed to stat account key: %w", err)
	}
	if ok {
		logger.Debug("Using existing account key", "path", layout.AccountKeyPath)
		return nil
	}

	logger.Info("Generating ACME account key", "path", layout.AccountKeyPath)
	_, keyPEM, err := toolkit.GenerateKey()
	if err != nil {
		return fmt.Errorf("failed to generate account key: %w", err)
	}
	if err := WriteFileAtomic(layout.AccountKeyPath, keyPEM, 0o600); err != nil {
		return fmt.Errorf("failed to write account key: %w", err)
	}
	return nil
}
