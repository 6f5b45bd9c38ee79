package certd_test

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/caasmo/certd"
	"github.com/caasmo/certd/toolkit"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testSettings points every path into a fresh temporary directory and bootstraps it.
func testSettings(t *testing.T) certd.Settings {
	t.Helper()
	dir := t.TempDir()

	s := certd.DefaultSettings()
	s.KeyType = "P256"
	s.CertDir = filepath.Join(dir, "crt")
	s.BackupDir = filepath.Join(dir, "crt", "backup")
	s.AccountKeyPath = filepath.Join(dir, "config", "account.key")
	s.ChallengeDir = filepath.Join(dir, "acme_challenge")
	s.DomainsFile = filepath.Join(dir, "crt_domains.ini")
	s.ForceUpdateFile = filepath.Join(dir, "run", "force_crt_update")
	s.WaitTick = certd.Duration{Duration: 10 * time.Millisecond}
	s.WaitCeiling = certd.Duration{Duration: 10 * time.Second}
	require.NoError(t, s.Validate())

	require.NoError(t, certd.Bootstrap(certd.NewLayout(s), newToolkit(t), discardLogger()))
	return s
}

func newToolkit(t *testing.T, opts ...toolkit.Option) *toolkit.Toolkit {
	t.Helper()
	tk, err := toolkit.New("P256", opts...)
	require.NoError(t, err)
	return tk
}

// countingToolkit counts key generations of the wrapped toolkit.
type countingToolkit struct {
	*toolkit.Toolkit

	mu   sync.Mutex
	keys int
}

func (c *countingToolkit) GenerateKey() (crypto.PrivateKey, []byte, error) {
	c.mu.Lock()
	c.keys++
	c.mu.Unlock()
	return c.Toolkit.GenerateKey()
}

func (c *countingToolkit) KeyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keys
}

type testCA struct {
	key  *ecdsa.PrivateKey
	cert *x509.Certificate
	pem  []byte
}

func newTestCA(t *testing.T) *testCA {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "certd test CA"},
		NotBefore:             time.Now().Add(-24 * time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &testCA{
		key:  key,
		cert: cert,
		pem:  pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
	}
}

// issue signs a leaf for pub covering domains, valid from notBefore for 90 days.
func (ca *testCA) issue(t *testing.T, pub crypto.PublicKey, domains []string, notBefore time.Time) []byte {
	t.Helper()
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: domains[0]},
		DNSNames:     domains,
		NotBefore:    notBefore,
		NotAfter:     notBefore.Add(90 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, pub, ca.key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

// install writes a key and a certificate issued at notBefore for name.
func (ca *testCA) install(t *testing.T, layout certd.Layout, name string, domains []string, notBefore time.Time) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(layout.KeyPath(name), pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(layout.CertPath(name), ca.issue(t, &key.PublicKey, domains, notBefore), 0o644))
}

// fakeSigner signs every CSR with a test CA, or fails for the names in fail.
type fakeSigner struct {
	t   *testing.T
	ca  *testCA
	now func() time.Time

	mu           sync.Mutex
	fail         map[string]error
	requests     []certd.SignRequest
	intermediate []byte
	fetched      []string
}

func newFakeSigner(t *testing.T, now func() time.Time) *fakeSigner {
	return &fakeSigner{t: t, ca: newTestCA(t), now: now, fail: make(map[string]error)}
}

func (s *fakeSigner) Sign(_ context.Context, req certd.SignRequest) (*certd.SignResult, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	err := s.fail[req.Name]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(req.CSR)
	if block == nil {
		return nil, errors.New("no PEM CSR")
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, err
	}
	return &certd.SignResult{
		Certificate: s.ca.issue(s.t, csr.PublicKey, csr.DNSNames, s.now()),
		Issuer:      s.ca.pem,
	}, nil
}

func (s *fakeSigner) FetchIntermediate(_ context.Context, url string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = append(s.fetched, url)
	if s.intermediate == nil {
		return nil, errors.New("intermediate unavailable")
	}
	return s.intermediate, nil
}

func (s *fakeSigner) failFor(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[name] = err
}

func (s *fakeSigner) signCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// fakeNotifier records each batch of targets and fails the targets in fail.
type fakeNotifier struct {
	mu      sync.Mutex
	batches [][]string
	fail    map[string]bool
}

func (n *fakeNotifier) Notify(_ context.Context, targets []string) []error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = append(n.batches, append([]string(nil), targets...))
	var errs []error
	for _, target := range targets {
		if n.fail[target] {
			errs = append(errs, &certd.NotifyError{Target: target, Err: errors.New("no such container")})
		}
	}
	return errs
}

func (n *fakeNotifier) Batches() [][]string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([][]string(nil), n.batches...)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return b
}

func certBlocks(t *testing.T, path string) []*x509.Certificate {
	t.Helper()
	rest := readFile(t, path)
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return certs
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		require.NoError(t, err)
		certs = append(certs, cert)
	}
}
