package certd

import (
	"crypto"
	"time"
)

const day = 24 * time.Hour

// Evaluator decides whether the installed material of a certificate can keep serving.
type Evaluator struct {
	layout     Layout
	toolkit    Toolkit
	maxAgeDays int
	now        func() time.Time
}

func NewEvaluator(layout Layout, toolkit Toolkit, maxAgeDays int, now func() time.Time) *Evaluator {
	if toolkit == nil {
		panic("NewEvaluator: received nil toolkit")
	}
	if now == nil {
		now = time.Now
	}
	return &Evaluator{layout: layout, toolkit: toolkit, maxAgeDays: maxAgeDays, now: now}
}

// Evaluate returns StatusMissing when the key or certificate file is absent,
// StatusMismatched when the certificate SANs differ from domains or the key does not
// belong to the certificate, StatusExpiring once the certificate is maxAgeDays whole
// days old, StatusValid otherwise. Unreadable material is an error, never StatusMissing.
func (e *Evaluator) Evaluate(name string, domains []string) (Status, error) {
	for _, path := range []string{e.layout.KeyPath(name), e.layout.CertPath(name)} {
		ok, err := fileExists(path)
		if err != nil {
			return StatusMissing, &ToolkitError{Op: "stat " + path, Err: err}
		}
		if !ok {
			return StatusMissing, nil
		}
	}

	info, err := e.toolkit.InspectCertificate(e.layout.CertPath(name))
	if err != nil {
		return StatusMissing, asToolkitError("inspect certificate", err)
	}

	if !sameDomains(info.Domains, domains) {
		return StatusMismatched, nil
	}

	pub, err := e.toolkit.InspectKey(e.layout.KeyPath(name))
	if err != nil {
		return StatusMissing, asToolkitError("inspect key", err)
	}
	if !samePublicKey(pub, info.PublicKey) {
		return StatusMismatched, nil
	}

	if ageDays(e.now(), info.NotBefore) >= e.maxAgeDays {
		return StatusExpiring, nil
	}
	return StatusValid, nil
}

func samePublicKey(a, b crypto.PublicKey) bool {
	k, ok := a.(interface{ Equal(crypto.PublicKey) bool })
	return ok && k.Equal(b)
}

// ageDays counts whole days elapsed since t.
func ageDays(now, t time.Time) int {
	return int(now.Sub(t) / day)
}
