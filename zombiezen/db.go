package zombiezen

import (
	"context"
	"fmt"

	"github.com/caasmo/certd"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `
CREATE TABLE IF NOT EXISTS certificates (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	identifier        TEXT NOT NULL,
	domains           TEXT NOT NULL,
	certificate_chain TEXT NOT NULL,
	key_fingerprint   TEXT NOT NULL,
	issued_at         TEXT NOT NULL,
	expires_at        TEXT NOT NULL,
	recorded_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS certificates_identifier_issued
	ON certificates (identifier, issued_at);
`

// Db implements the certd.Writer interface using zombiezen/sqlite.
type Db struct {
	pool     *sqlitex.Pool
	ownsPool bool
}

// NewWriter creates a new Db instance satisfying the Writer interface.
// It expects the sqlitex.Pool to be created and managed externally and the
// schema to exist; see Open.
func NewWriter(pool *sqlitex.Pool) *Db {
	if pool == nil {
		panic("zombiezen.NewWriter: received nil pool")
	}
	return &Db{pool: pool}
}

// Open creates or opens the history database at path and ensures the schema.
func Open(ctx context.Context, path string) (*Db, error) {
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		Flags:    sqlite.OpenReadWrite | sqlite.OpenCreate | sqlite.OpenWAL,
		PoolSize: 2,
	})
	if err != nil {
		return nil, fmt.Errorf("db: failed to open pool: %w", err)
	}

	conn, err := pool.Take(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: failed to get connection: %w", err)
	}
	err = sqlitex.ExecuteScript(conn, schema, nil)
	pool.Put(conn)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: failed to create schema: %w", err)
	}

	db := NewWriter(pool)
	db.ownsPool = true
	return db, nil
}

// Close releases the pool opened by Open. A pool passed to NewWriter is left open.
func (d *Db) Close() error {
	if !d.ownsPool {
		return nil
	}
	return d.pool.Close()
}

// AddCert adds a new certificate record to the 'certificates' table.
func (d *Db) AddCert(cert certd.Cert) error {
	conn, err := d.pool.Take(context.Background())
	if err != nil {
		return fmt.Errorf("db: failed to get connection: %w", err)
	}
	defer d.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO certificates (
			identifier, domains, certificate_chain, key_fingerprint, issued_at, expires_at, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?);`,
		&sqlitex.ExecOptions{
			Args: []any{
				cert.Identifier,
				cert.Domains,
				cert.CertificateChain,
				cert.KeyFingerprint,
				certd.TimeFormat(cert.IssuedAt),
				certd.TimeFormat(cert.ExpiresAt),
				certd.TimeFormat(cert.RecordedAt),
			},
		})
	if err != nil {
		return fmt.Errorf("db: failed to insert certificate for identifier %q: %w", cert.Identifier, err)
	}
	return nil
}

// List returns history records newest first. An empty identifier lists every
// certificate; limit <= 0 means no limit.
func (d *Db) List(ctx context.Context, identifier string, limit int) ([]certd.Cert, error) {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("db: failed to get connection: %w", err)
	}
	defer d.pool.Put(conn)

	if limit <= 0 {
		limit = -1
	}

	var certs []certd.Cert
	var scanErr error
	err = sqlitex.Execute(conn,
		`SELECT id, identifier, domains, certificate_chain, key_fingerprint, issued_at, expires_at, recorded_at
		FROM certificates
		WHERE (? = '' OR identifier = ?)
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?;`,
		&sqlitex.ExecOptions{
			Args: []any{identifier, identifier, limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				c := certd.Cert{
					ID:               stmt.ColumnInt64(0),
					Identifier:       stmt.ColumnText(1),
					Domains:          stmt.ColumnText(2),
					CertificateChain: stmt.ColumnText(3),
					KeyFingerprint:   stmt.ColumnText(4),
				}
				if c.IssuedAt, scanErr = certd.TimeParse(stmt.ColumnText(5)); scanErr != nil {
					return scanErr
				}
				if c.ExpiresAt, scanErr = certd.TimeParse(stmt.ColumnText(6)); scanErr != nil {
					return scanErr
				}
				if c.RecordedAt, scanErr = certd.TimeParse(stmt.ColumnText(7)); scanErr != nil {
					return scanErr
				}
				certs = append(certs, c)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("db: failed to list certificates: %w", err)
	}
	return certs, nil
}
