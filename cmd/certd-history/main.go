package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/caasmo/certd"
	"github.com/caasmo/certd/zombiezen"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	var dbPath string
	var name string
	var limit int
	var showChain bool
	flag.StringVar(&dbPath, "dbfile", "certd.db", "path to the SQLite history database")
	flag.StringVar(&name, "cert", "", "only list this certificate name")
	flag.IntVar(&limit, "limit", 20, "maximum records to print, 0 for all")
	flag.BoolVar(&showChain, "chain", false, "print the PEM chain of each record")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Lists issued certificates recorded by certd, newest first.\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if _, err := os.Stat(dbPath); err != nil {
		logger.Error("History database not found", "path", dbPath, "error", err)
		os.Exit(1)
	}

	db, err := zombiezen.Open(context.Background(), dbPath)
	if err != nil {
		logger.Error("Failed to open history database", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	certs, err := db.List(context.Background(), name, limit)
	if err != nil {
		logger.Error("Failed to list certificates", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tISSUED\tEXPIRES\tRECORDED\tDOMAINS\tKEY")
	for _, c := range certs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%.16s\n",
			c.ID, c.Identifier,
			certd.TimeFormat(c.IssuedAt), certd.TimeFormat(c.ExpiresAt), certd.TimeFormat(c.RecordedAt),
			c.Domains, c.KeyFingerprint)
	}
	w.Flush()

	if showChain {
		for _, c := range certs {
			fmt.Printf("\n# %d %s\n%s", c.ID, c.Identifier, c.CertificateChain)
		}
	}
}
