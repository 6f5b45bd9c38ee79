// Package toolkit implements certd.Toolkit with lego's certcrypto helpers for keys,
// CSRs and certificate parsing, and the openssl binary for DH parameters.
package toolkit

import (
	"bytes"
	"context"
	"crypto"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-acme/lego/v4/certcrypto"

	"github.com/caasmo/certd"
	"github.com/caasmo/certd/internal/command"
)

const csrPEMType = "CERTIFICATE REQUEST"

// Toolkit is safe for sequential use by a single pipeline.
type Toolkit struct {
	keyType  certcrypto.KeyType
	commands command.Factory
	openssl  string
}

// Option configures a Toolkit.
type Option func(*Toolkit)

// WithCommandFactory replaces the process launcher used for openssl.
func WithCommandFactory(f command.Factory) Option {
	return func(t *Toolkit) { t.commands = f }
}

// WithOpenSSL sets the openssl binary, "openssl" from PATH by default.
func WithOpenSSL(bin string) Option {
	return func(t *Toolkit) { t.openssl = bin }
}

// New returns a toolkit producing keys of keyType ("2048", "4096", "P256", ...).
func New(keyType string, opts ...Option) (*Toolkit, error) {
	kt := certcrypto.KeyType(keyType)
	switch kt {
	case certcrypto.RSA2048, certcrypto.RSA3072, certcrypto.RSA4096, certcrypto.RSA8192,
		certcrypto.EC256, certcrypto.EC384:
	default:
		return nil, fmt.Errorf("toolkit: unsupported key type %q", keyType)
	}

	t := &Toolkit{
		keyType:  kt,
		commands: command.NewFactory(),
		openssl:  "openssl",
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *Toolkit) GenerateKey() (crypto.PrivateKey, []byte, error) {
	key, err := certcrypto.GeneratePrivateKey(t.keyType)
	if err != nil {
		return nil, nil, &certd.ToolkitError{Op: "generate key", Err: err}
	}
	block := certcrypto.PEMBlock(key)
	if block == nil {
		return nil, nil, &certd.ToolkitError{Op: "encode key", Err: fmt.Errorf("unsupported key %T", key)}
	}
	return key, pem.EncodeToMemory(block), nil
}

// GenerateCSR signs a request whose SAN DNS names are exactly domains. The first
// domain is also used as subject common name.
func (t *Toolkit) GenerateCSR(key crypto.PrivateKey, domains []string) ([]byte, error) {
	if len(domains) == 0 {
		return nil, &certd.ToolkitError{Op: "generate csr", Err: certd.ErrNoDomains}
	}
	der, err := certcrypto.GenerateCSR(key, domains[0], domains, false)
	if err != nil {
		return nil, &certd.ToolkitError{Op: "generate csr", Err: err}
	}
	return pem.EncodeToMemory(&pem.Block{Type: csrPEMType, Bytes: der}), nil
}

func (t *Toolkit) InspectCSR(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &certd.ToolkitError{Op: "read csr", Err: err}
	}
	csr, err := certcrypto.PemDecodeTox509CSR(data)
	if err != nil {
		return nil, &certd.ToolkitError{Op: "parse csr " + path, Err: err}
	}
	return certd.NormalizeDomains(csr.DNSNames), nil
}

func (t *Toolkit) InspectKey(path string) (crypto.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &certd.ToolkitError{Op: "read key", Err: err}
	}
	key, err := certcrypto.ParsePEMPrivateKey(data)
	if err != nil {
		return nil, &certd.ToolkitError{Op: "parse key " + path, Err: err}
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, &certd.ToolkitError{Op: "parse key " + path, Err: fmt.Errorf("unsupported key %T", key)}
	}
	return signer.Public(), nil
}

// InspectCertificate reads the leaf, the first PEM block of the file.
func (t *Toolkit) InspectCertificate(path string) (certd.CertificateInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return certd.CertificateInfo{}, &certd.ToolkitError{Op: "read certificate", Err: err}
	}
	cert, err := certcrypto.ParsePEMCertificate(data)
	if err != nil {
		return certd.CertificateInfo{}, &certd.ToolkitError{Op: "parse certificate " + path, Err: err}
	}
	return certd.CertificateInfo{
		Domains:   certd.NormalizeDomains(cert.DNSNames),
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
		PublicKey: cert.PublicKey,
	}, nil
}

// GenerateDhParams runs openssl dhparam into a temporary file and renames it over path.
func (t *Toolkit) GenerateDhParams(ctx context.Context, path string, bits int) error {
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	defer os.Remove(tmp)

	out, err := t.commands.Command(ctx, t.openssl, "dhparam", "-out", tmp, strconv.Itoa(bits)).CombinedOutput()
	if err != nil {
		return &certd.ToolkitError{Op: "openssl dhparam", Err: withOutput(err, out)}
	}
	if _, err := os.Stat(tmp); err != nil {
		return &certd.ToolkitError{Op: "openssl dhparam", Err: fmt.Errorf("no output file: %w", err)}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &certd.ToolkitError{Op: "install dhparam", Err: err}
	}
	return nil
}

func withOutput(err error, out []byte) error {
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return err
	}
	return errors.Join(err, errors.New(string(out)))
}
