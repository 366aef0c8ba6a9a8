package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/avdeyev/holst/internal/auth"
	"github.com/avdeyev/holst/internal/integrity"
	"github.com/avdeyev/holst/internal/persist"
	"github.com/avdeyev/holst/internal/session"
	"github.com/avdeyev/holst/internal/storage"
	"github.com/avdeyev/holst/internal/storage/bolt"
	"github.com/avdeyev/holst/internal/storage/postgres"
	"github.com/avdeyev/holst/internal/storage/sqlite"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	backend := flag.String("storage", envOr("HOLST_STORAGE", "sqlite"), "Storage backend: sqlite, bolt or postgres")
	dsn := flag.String("dsn", envOr("HOLST_DSN", "holst.db"), "Database path (sqlite/bolt) or DSN (postgres)")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	command := args[0]
	ctx := context.Background()

	// token не трогает хранилище.
	if command == "token" {
		if err := runToken(args[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	store, err := openStorage(ctx, *backend, *dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open storage: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("failed to close storage", "error", err)
		}
	}()

	switch command {
	case "snapshots":
		err = runSnapshots(ctx, store, args[1:])
	case "export":
		err = runExport(ctx, store, args[1:])
	case "verify":
		err = runVerify(ctx, store, args[1:])
	case "ops":
		err = runOps(ctx, store, args[1:])
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runSnapshots печатает версии снапшотов документа.
func runSnapshots(ctx context.Context, store storage.Store, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: inspect snapshots <documentID>")
	}

	snaps, err := store.ListSnapshots(ctx, args[0])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tCREATED\tWATERMARK\tCHECKSUM")
	for _, s := range snaps {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			s.Version,
			s.CreatedAt.Format(time.RFC3339),
			s.Watermark,
			s.Checksum,
		)
	}
	return w.Flush()
}

// runExport восстанавливает документ (снапшот + хвост журнала) и печатает
// дерево сцены в JSON.
func runExport(ctx context.Context, store storage.Store, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: inspect export <documentID>")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	svc := persist.NewService(store, store, persist.DefaultConfig(), logger)

	doc, watermark, err := svc.Restore(ctx, args[0])
	if err != nil {
		return err
	}

	out := struct {
		DocumentID string      `json:"document_id"`
		Watermark  int64       `json:"watermark"`
		Root       interface{} `json:"root"`
	}{
		DocumentID: args[0],
		Watermark:  watermark,
		Root:       session.NodeToAPI(doc.Tree()),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// runVerify проверяет контрольные суммы всех снапшотов документа.
func runVerify(ctx context.Context, store storage.Store, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: inspect verify <documentID>")
	}

	snaps, err := store.ListSnapshots(ctx, args[0])
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Println("no snapshots")
		return nil
	}

	corrupt := 0
	for _, meta := range snaps {
		// Список не несет payload: состояние читается поштучно.
		s, err := store.GetSnapshot(ctx, meta.DocumentID, meta.Version)
		if err != nil {
			return err
		}
		if err := integrity.Verify(s.State, s.Checksum); err != nil {
			corrupt++
			fmt.Printf("%s  CORRUPT  %v\n", s.Version, err)
			continue
		}
		fmt.Printf("%s  OK\n", s.Version)
	}
	if corrupt > 0 {
		return fmt.Errorf("%d of %d snapshots corrupt", corrupt, len(snaps))
	}
	return nil
}

// runOps печатает хвост журнала операций после указанного номера.
func runOps(ctx context.Context, store storage.Store, args []string) error {
	fs := flag.NewFlagSet("ops", flag.ContinueOnError)
	after := fs.Int64("after", 0, "Print operations with sequence numbers above this")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: inspect ops [-after N] <documentID>")
	}

	records, err := store.Since(ctx, fs.Arg(0), *after)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tTYPE\tNODE\tVERSION\tSESSION")
	for _, r := range records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n",
			r.Seq, r.Op.Type, r.Op.NodeID, r.Op.Version.Counter, r.Op.Version.Session)
	}
	return w.Flush()
}

// runToken выпускает JWT для локальной разработки и тестов.
func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	secret := fs.String("secret", envOr("HOLST_JWT_SECRET", ""), "HMAC secret")
	issuer := fs.String("issuer", envOr("HOLST_JWT_ISSUER", "holst"), "Token issuer")
	userID := fs.String("user", "dev", "User ID claim")
	name := fs.String("name", "", "Display name claim")
	docs := fs.String("documents", "", "Comma-separated allowed document IDs (empty = all)")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *secret == "" {
		return fmt.Errorf("secret is required (-secret or HOLST_JWT_SECRET)")
	}

	var documents []string
	if *docs != "" {
		documents = strings.Split(*docs, ",")
	}

	token, err := auth.SignToken(auth.JWTConfig{
		Issuer: *issuer,
		Secret: []byte(*secret),
	}, *userID, *name, documents, *ttl)
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}

func openStorage(ctx context.Context, backend, dsn string) (storage.Store, error) {
	switch backend {
	case "sqlite":
		return sqlite.New(ctx, dsn)
	case "bolt":
		return bolt.New(dsn)
	case "postgres":
		return postgres.New(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

func printUsage() {
	fmt.Println(`Usage: inspect [flags] <command> [args]

Commands:
  snapshots <documentID>        List snapshot versions of a document
  export <documentID>           Restore a document and print the scene tree as JSON
  verify <documentID>           Verify checksums of all snapshots of a document
  ops [-after N] <documentID>   Print the operation log tail
  token [flags]                 Issue a development JWT

Flags:
  -storage  Storage backend: sqlite, bolt or postgres (HOLST_STORAGE)
  -dsn      Database path or DSN (HOLST_DSN)
  -version  Show version information`)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printVersion() {
	fmt.Printf("Holst Inspect\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
