package certd

import (
	"bytes"
	"context"
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/caasmo/certd/metrics"
)

// Pipeline reissues one certificate at a time: key, CSR, signing, backup, install.
type Pipeline struct {
	settings  Settings
	layout    Layout
	evaluator *Evaluator
	toolkit   Toolkit
	signer    Signer
	history   Writer
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewPipeline creates a renewal pipeline.
// It requires the settings, the certificate toolkit, a CA signer, and a logger.
func NewPipeline(settings Settings, toolkit Toolkit, signer Signer, logger *slog.Logger, opts ...Option) *Pipeline {
	if toolkit == nil || signer == nil || logger == nil {
		panic("NewPipeline: received nil toolkit, signer, or logger")
	}
	o := buildOptions(opts)
	layout := NewLayout(settings)
	return &Pipeline{
		settings:  settings,
		layout:    layout,
		evaluator: NewEvaluator(layout, toolkit, settings.CertMaxAgeDays, o.now),
		toolkit:   toolkit,
		signer:    signer,
		history:   o.history,
		metrics:   o.metrics,
		logger:    logger.With("component", "pipeline"),
		now:       o.now,
	}
}

// Renew brings def to a valid state. It reports changed=false without touching any
// file when the installed certificate is still valid. A failure at any step leaves the
// serving key and certificate as a matching pair and is retried on the next pass.
func (p *Pipeline) Renew(ctx context.Context, def Definition) (bool, error) {
	log := p.logger.With("cert", def.Name)

	status, err := p.evaluator.Evaluate(def.Name, def.Domains)
	if err != nil {
		log.Error("Failed to evaluate certificate", "error", err)
		p.metrics.ObserveRenewal(def.Name, metrics.ResultFailed)
		return false, err
	}
	if status == StatusValid {
		log.Info("Certificate valid, skipping")
		p.metrics.ObserveRenewal(def.Name, metrics.ResultSkipped)
		return false, nil
	}
	log.Info("Certificate needs issuance", "status", status.String(), "domains", def.Domains)

	if err := p.issue(ctx, def, log); err != nil {
		p.metrics.ObserveRenewal(def.Name, metrics.ResultFailed)
		return false, err
	}
	p.metrics.ObserveRenewal(def.Name, metrics.ResultIssued)
	return true, nil
}

func (p *Pipeline) issue(ctx context.Context, def Definition, log *slog.Logger) error {
	// A fresh key on every issuance, also when only the age triggered it.
	log.Info("Generating private key", "key_type", p.settings.KeyType)
	key, keyPEM, err := p.toolkit.GenerateKey()
	if err != nil {
		log.Error("Failed to generate private key", "error", err)
		return asToolkitError("generate key", err)
	}

	log.Info("Generating CSR")
	csrPEM, err := p.toolkit.GenerateCSR(key, def.Domains)
	if err != nil {
		log.Error("Failed to generate CSR", "error", err)
		return asToolkitError("generate csr", err)
	}
	csrPath := p.layout.CSRPath(def.Name)
	if err := WriteFileAtomic(csrPath, csrPEM, 0o644); err != nil {
		log.Error("Failed to write CSR", "path", csrPath, "error", err)
		return &ToolkitError{Op: "write csr", Err: err}
	}
	csrDomains, err := p.toolkit.InspectCSR(csrPath)
	if err != nil {
		log.Error("Failed to inspect CSR", "path", csrPath, "error", err)
		return asToolkitError("inspect csr", err)
	}
	if !sameDomains(csrDomains, def.Domains) {
		err := fmt.Errorf("csr domains %v do not match configured %v", csrDomains, def.Domains)
		log.Error("CSR does not carry the configured domains", "error", err)
		return &ToolkitError{Op: "verify csr", Err: err}
	}

	log.Info("Requesting signed certificate", "ca", p.settings.CADirectoryURL)
	res, err := p.signer.Sign(ctx, SignRequest{
		Name:           def.Name,
		AccountKeyPath: p.layout.AccountKeyPath,
		CSR:            csrPEM,
		ChallengeDir:   p.layout.ChallengeDir,
		CAURL:          p.settings.CADirectoryURL,
	})
	if err != nil {
		log.Error("Failed to obtain certificate", "error", err)
		return &SigningError{Name: def.Name, Err: err}
	}
	if res == nil || len(res.Certificate) == 0 {
		log.Error("CA returned an empty certificate")
		return &SigningError{Name: def.Name, Err: errors.New("empty certificate payload")}
	}

	chain, err := p.assembleChain(ctx, res, log)
	if err != nil {
		return &SigningError{Name: def.Name, Err: err}
	}

	if err := p.install(def.Name, keyPEM, chain, log); err != nil {
		return err
	}
	log.Info("Certificate installed", "path", p.layout.CertPath(def.Name))

	p.record(def, key, chain, log)
	return nil
}

// assembleChain appends the intermediate when chaining is enabled. The configured
// intermediate URL wins over the issuer returned by the CA.
func (p *Pipeline) assembleChain(ctx context.Context, res *SignResult, log *slog.Logger) ([]byte, error) {
	chain := withTrailingNewline(res.Certificate)
	if !p.settings.Chained {
		return chain, nil
	}

	intermediate := res.Issuer
	if p.settings.IntermediateURL != "" {
		fetched, err := p.signer.FetchIntermediate(ctx, p.settings.IntermediateURL)
		if err != nil {
			log.Error("Failed to fetch intermediate certificate", "url", p.settings.IntermediateURL, "error", err)
			return nil, fmt.Errorf("fetch intermediate: %w", err)
		}
		intermediate = fetched
	}
	if len(bytes.TrimSpace(intermediate)) == 0 {
		log.Warn("No intermediate certificate available, installing leaf only")
		return chain, nil
	}
	return append(chain, withTrailingNewline(intermediate)...), nil
}

// install backs up the current key and certificate, then swaps in the new ones. When the
// certificate cannot be written the previous key is put back, so the key on disk always
// belongs to the certificate on disk.
func (p *Pipeline) install(name string, keyPEM, chain []byte, log *slog.Logger) error {
	keyPath, certPath := p.layout.KeyPath(name), p.layout.CertPath(name)

	prevKey, err := os.ReadFile(keyPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &ToolkitError{Op: "read key", Err: err}
	}
	hadKey := err == nil

	now := p.now()
	for _, f := range []struct{ path, ext string }{
		{keyPath, "key"},
		{certPath, "crt"},
	} {
		ok, err := fileExists(f.path)
		if err != nil {
			return &ToolkitError{Op: "stat " + f.path, Err: err}
		}
		if !ok {
			continue
		}
		dst, err := p.layout.Backup(f.path, name, f.ext, now)
		if err != nil {
			log.Error("Failed to back up previous material", "path", f.path, "error", err)
			return &ToolkitError{Op: "backup " + f.ext, Err: err}
		}
		log.Info("Backed up previous material", "from", f.path, "to", dst)
	}

	if err := WriteFileAtomic(keyPath, keyPEM, 0o600); err != nil {
		log.Error("Failed to write private key", "error", err)
		return &ToolkitError{Op: "write key", Err: err}
	}
	if err := WriteFileAtomic(certPath, chain, 0o644); err != nil {
		log.Error("Failed to write certificate", "error", err)
		p.restoreKey(keyPath, prevKey, hadKey, log)
		return &ToolkitError{Op: "write certificate", Err: err}
	}
	return nil
}

func (p *Pipeline) restoreKey(path string, prev []byte, existed bool, log *slog.Logger) {
	var err error
	if existed {
		err = WriteFileAtomic(path, prev, 0o600)
	} else {
		err = os.Remove(path)
	}
	if err != nil {
		log.Error("Failed to restore previous private key", "path", path, "error", err)
		return
	}
	log.Warn("Restored previous private key", "path", path)
}

func (p *Pipeline) record(def Definition, key crypto.PrivateKey, chain []byte, log *slog.Logger) {
	if p.history == nil {
		return
	}
	info, err := p.toolkit.InspectCertificate(p.layout.CertPath(def.Name))
	if err != nil {
		log.Warn("Could not inspect installed certificate for history", "error", err)
		return
	}
	domains, err := json.Marshal(def.Domains)
	if err != nil {
		log.Warn("Could not encode domains for history", "error", err)
		return
	}
	cert := Cert{
		Identifier:       def.Name,
		Domains:          string(domains),
		CertificateChain: string(chain),
		KeyFingerprint:   keyFingerprint(key),
		IssuedAt:         info.NotBefore.UTC(),
		ExpiresAt:        info.NotAfter.UTC(),
		RecordedAt:       p.now().UTC(),
	}
	if err := p.history.AddCert(cert); err != nil {
		log.Error("Failed to record certificate history", "error", err)
	}
}

func keyFingerprint(key crypto.PrivateKey) string {
	signer, ok := key.(crypto.Signer)
	if !ok {
		return ""
	}
	der, err := x509.MarshalPKIXPublicKey(signer.Public())
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

func asToolkitError(op string, err error) error {
	var terr *ToolkitError
	if errors.As(err, &terr) {
		return err
	}
	return &ToolkitError{Op: op, Err: err}
}

func withTrailingNewline(b []byte) []byte {
	out := bytes.TrimRight(b, "\n")
	out = append(append([]byte{}, out...), '\n')
	return out
}
