package certd

import (
	"crypto"
	"time"
)

// Definition is one configured certificate for a single pass.
type Definition struct {
	Name    string   // unique key, also the file name stem under the certificate directory
	Domains []string // normalized: lower-cased, deduplicated, sorted, never empty
	Notify  []string // container identifiers signalled when this certificate changes
}

// Status is the outcome of evaluating the on-disk material of a certificate.
type Status int

const (
	StatusValid Status = iota
	StatusMissing
	StatusMismatched
	StatusExpiring
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusMissing:
		return "missing"
	case StatusMismatched:
		return "mismatched"
	case StatusExpiring:
		return "expiring"
	default:
		return "unknown"
	}
}

// CertificateInfo is what the evaluator needs to know about an installed certificate.
type CertificateInfo struct {
	Domains   []string
	NotBefore time.Time
	NotAfter  time.Time
	PublicKey crypto.PublicKey
}

// Cert represents an issuance history record.
type Cert struct {
	ID               int64     // Primary Key (Populated on insert)
	Identifier       string    // Certificate name
	Domains          string    // JSON array of all domains covered
	CertificateChain string    // PEM encoded certificate chain as installed
	KeyFingerprint   string    // hex SHA-256 of the DER public key
	IssuedAt         time.Time // UTC, leaf NotBefore
	ExpiresAt        time.Time // UTC, leaf NotAfter
	RecordedAt       time.Time // UTC, when the record was written
}

const timeLayout = "2006-01-02T15:04:05Z"

// TimeFormat renders t the way history records store timestamps.
func TimeFormat(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// TimeParse is the inverse of TimeFormat.
func TimeParse(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
