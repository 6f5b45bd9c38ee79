package certd

// Writer defines the interface for storing certificate history records.
type Writer interface {
	// AddCert adds a new certificate record to the issuance history.
	AddCert(cert Cert) error
}
