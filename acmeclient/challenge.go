package acmeclient

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ChallengeDir is an HTTP-01 provider writing each token as {dir}/{token}. The directory
// is expected to be served as /.well-known/acme-challenge/ by the front web server.
type ChallengeDir struct {
	dir string
}

func NewChallengeDir(dir string) (*ChallengeDir, error) {
	if dir == "" {
		return nil, errors.New("challenge directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create challenge directory: %w", err)
	}
	return &ChallengeDir{dir: dir}, nil
}

func (c *ChallengeDir) Present(domain, token, keyAuth string) error {
	path, err := c.tokenPath(token)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(keyAuth), 0o644); err != nil {
		return fmt.Errorf("failed to write challenge token for %s: %w", domain, err)
	}
	return nil
}

func (c *ChallengeDir) CleanUp(domain, token, keyAuth string) error {
	path, err := c.tokenPath(token)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove challenge token for %s: %w", domain, err)
	}
	return nil
}

func (c *ChallengeDir) tokenPath(token string) (string, error) {
	if token == "" || token == "." || token == ".." || filepath.Base(token) != token {
		return "", fmt.Errorf("invalid challenge token %q", token)
	}
	return filepath.Join(c.dir, token), nil
}
