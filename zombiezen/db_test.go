package zombiezen

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/caasmo/certd"
)

func testCert(name string, recorded time.Time) certd.Cert {
	return certd.Cert{
		Identifier:       name,
		Domains:          `["example.com"]`,
		CertificateChain: "-----BEGIN CERTIFICATE-----\n...\n-----END CERTIFICATE-----\n",
		KeyFingerprint:   "ab12",
		IssuedAt:         recorded.Add(-time.Minute),
		ExpiresAt:        recorded.Add(90 * 24 * time.Hour),
		RecordedAt:       recorded,
	}
}

func TestAddAndListCerts(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")
	db, err := Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, db.AddCert(testCert("web", base)))
	require.NoError(t, db.AddCert(testCert("mail", base.Add(time.Hour))))
	require.NoError(t, db.AddCert(testCert("web", base.Add(2*time.Hour))))

	all, err := db.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, base.Add(2*time.Hour), all[0].RecordedAt, "newest first")
	assert.Equal(t, "mail", all[1].Identifier)
	assert.NotZero(t, all[0].ID)

	web, err := db.List(ctx, "web", 0)
	require.NoError(t, err)
	require.Len(t, web, 2)
	want := testCert("web", base.Add(2*time.Hour))
	want.ID = web[0].ID
	assert.Equal(t, want, web[0])

	limited, err := db.List(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	db, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, db.AddCert(testCert("web", time.Now().UTC().Truncate(time.Second))))
	require.NoError(t, db.Close())

	db, err = Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	certs, err := db.List(ctx, "web", 10)
	require.NoError(t, err)
	assert.Len(t, certs, 1)
}

func TestNewWriterLeavesPoolOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	db, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{Flags: sqlite.OpenReadWrite, PoolSize: 1})
	require.NoError(t, err)
	defer pool.Close()

	w := NewWriter(pool)
	require.NoError(t, w.AddCert(testCert("web", time.Now().UTC().Truncate(time.Second))))
	require.NoError(t, w.Close())

	conn, err := pool.Take(ctx)
	require.NoError(t, err, "pool must still be usable after Close")
	pool.Put(conn)

	certs, err := w.List(ctx, "web", 0)
	require.NoError(t, err)
	assert.Len(t, certs, 1)
}

func TestNewWriterPanicsOnNilPool(t *testing.T) {
	assert.Panics(t, func() { NewWriter(nil) })
}
