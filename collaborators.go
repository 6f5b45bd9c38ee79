package certd

import (
	"context"
	"crypto"
)

// Toolkit performs the cryptographic primitives the pipeline needs.
type Toolkit interface {
	// GenerateKey returns a new private key and its PEM encoding.
	GenerateKey() (crypto.PrivateKey, []byte, error)
	// GenerateCSR returns a PEM CSR carrying exactly domains as SAN DNS names.
	GenerateCSR(key crypto.PrivateKey, domains []string) ([]byte, error)
	InspectCSR(path string) ([]string, error)
	// InspectKey returns the public half of the PEM private key at path.
	InspectKey(path string) (crypto.PublicKey, error)
	InspectCertificate(path string) (CertificateInfo, error)
	GenerateDhParams(ctx context.Context, path string, bits int) error
}

// SignRequest carries everything the CA exchange needs for one certificate.
type SignRequest struct {
	Name           string
	AccountKeyPath string
	CSR            []byte // PEM
	ChallengeDir   string
	CAURL          string
}

// SignResult is the signed leaf plus the issuer chain the CA returned, both PEM.
type SignResult struct {
	Certificate []byte
	Issuer      []byte
}

// Signer talks to the certificate authority.
type Signer interface {
	Sign(ctx context.Context, req SignRequest) (*SignResult, error)
	FetchIntermediate(ctx context.Context, url string) ([]byte, error)
}

// Notifier signals running services that new material is available.
// Failures are reported per target and never stop the batch.
type Notifier interface {
	Notify(ctx context.Context, targets []string) []error
}
