// Command munin runs the authorization and audit core: the M-of-N
// decision service, hash-chained audit log and handshake packet issuer
// behind the orchestration layer.
package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jacobsprake/munin-sub000/pkg/api"
	"github.com/jacobsprake/munin-sub000/pkg/audit"
	"github.com/jacobsprake/munin-sub000/pkg/config"
	"github.com/jacobsprake/munin-sub000/pkg/crypto"
	"github.com/jacobsprake/munin-sub000/pkg/decision"
	"github.com/jacobsprake/munin-sub000/pkg/keyreg"
	"github.com/jacobsprake/munin-sub000/pkg/packet"
	"github.com/jacobsprake/munin-sub000/pkg/rbac"
	"github.com/jacobsprake/munin-sub000/pkg/session"
	"github.com/jacobsprake/munin-sub000/pkg/store"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServe(stderr)
	}
	switch args[1] {
	case "serve", "server":
		return runServe(stderr)
	case "verify":
		return runVerify(args[2:], stdout, stderr)
	case "export":
		return runExport(args[2:], stdout, stderr)
	case "bootstrap":
		return runBootstrap(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: munin <command>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve       Run the API server (default)")
	fmt.Fprintln(w, "  verify      Verify the audit chain and receipt chain, then exit")
	fmt.Fprintln(w, "  export      Write an evidence bundle (zip) for offline verification")
	fmt.Fprintln(w, "  bootstrap   Create the initial admin operator")
	fmt.Fprintln(w, "  help        Show this help")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// openCore opens storage and wires the component graph.
type core struct {
	cfg      *config.Config
	log      *slog.Logger
	store    *store.Store
	ledger   *audit.Ledger
	keys     *keyreg.Registry
	engine   *decision.Engine
	issuer   *packet.Issuer
	sessions *session.Manager
	attestor *audit.Attestor
}

func openCore(ctx context.Context) (*core, error) {
	cfg := config.Load()
	if code := os.Getenv("SITE_PROFILE"); code != "" {
		profile, err := config.LoadProfile(os.Getenv("SITE_PROFILE_DIR"), code)
		if err != nil {
			return nil, err
		}
		profile.Apply(cfg)
	}
	log := newLogger(cfg.LogLevel)

	if cfg.Driver == store.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o750); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	st, err := store.Open(ctx, cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, err
	}

	ledger := audit.New(st, log)
	keys := keyreg.New(st, ledger, log)
	ledger.SetResolver(keys)
	engine := decision.New(st, ledger, log)
	issuer, err := packet.NewIssuer(st, ledger, engine, log)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	secret, err := sessionSecret(ctx, cfg, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	sessions := session.New(st, ledger, session.Config{
		TTL:          cfg.SessionTTL,
		Secret:       secret,
		AttemptLimit: cfg.LoginAttemptLimit,
		Window:       cfg.LoginAttemptWindow,
	}, log)

	seed, err := st.LoadOrCreateSecret(ctx, "attestation_seed", crypto.NewSecret)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	attestor, err := audit.NewAttestor(seed, "munin-attest-1")
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &core{
		cfg:      cfg,
		log:      log,
		store:    st,
		ledger:   ledger,
		keys:     keys,
		engine:   engine,
		issuer:   issuer,
		sessions: sessions,
		attestor: attestor,
	}, nil
}

// sessionSecret prefers an operator-supplied SESSION_SECRET and falls
// back to one generated once and persisted, so sessions survive
// restarts either way.
func sessionSecret(ctx context.Context, cfg *config.Config, st *store.Store) ([]byte, error) {
	if cfg.SessionSecretBase64 != "" {
		secret, err := decodeSecret(cfg.SessionSecretBase64)
		if err != nil {
			return nil, err
		}
		return secret, nil
	}
	return st.LoadOrCreateSecret(ctx, "session_hmac", crypto.NewSecret)
}

func decodeSecret(b64 string) ([]byte, error) {
	secret, err := base64.StdEncoding.DecodeString(b64)
	if err != nil || len(secret) < 16 {
		return nil, fmt.Errorf("SESSION_SECRET must be base64 of at least 16 bytes")
	}
	return secret, nil
}

func runServe(stderr io.Writer) int {
	ctx := context.Background()
	c, err := openCore(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "startup failed: %v\n", err)
		return 1
	}
	defer func() { _ = c.store.Close() }()

	server := api.NewServer(c.keys, c.sessions, c.engine, c.issuer, c.ledger, c.attestor, c.cfg.Argon2, c.log)
	httpSrv := &http.Server{
		Addr:              c.cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		c.log.Info("listening", "addr", c.cfg.ListenAddr, "driver", c.cfg.Driver)
		errCh <- httpSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		c.log.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			c.log.Error("shutdown", "err", err)
			return 1
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.log.Error("server failed", "err", err)
			return 1
		}
	}
	return 0
}

func runVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	from := fs.Int64("from", 0, "first sequence number to verify")
	to := fs.Int64("to", 0, "last sequence number to verify (0 = head)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	c, err := openCore(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "startup failed: %v\n", err)
		return 1
	}
	defer func() { _ = c.store.Close() }()

	report, err := c.ledger.VerifyChain(ctx, *from, *to)
	if err != nil {
		fmt.Fprintf(stderr, "verification failed to run: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "audit entries checked: %d\n", report.EntriesChecked)
	for _, e := range report.Errors {
		fmt.Fprintf(stdout, "  seq %d: %s: %s\n", e.Sequence, e.Kind, e.Detail)
	}

	problems, err := c.issuer.VerifyReceipts(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "receipt verification failed to run: %v\n", err)
		return 1
	}
	for _, p := range problems {
		fmt.Fprintf(stdout, "  %s\n", p)
	}

	if !report.Valid || len(problems) > 0 {
		fmt.Fprintln(stdout, "TAMPERED")
		return 1
	}
	fmt.Fprintln(stdout, "OK")
	return 0
}

func runExport(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	from := fs.Int64("from", 0, "first sequence number to export")
	to := fs.Int64("to", 0, "last sequence number to export (0 = head)")
	out := fs.String("out", "evidence.zip", "output file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	c, err := openCore(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "startup failed: %v\n", err)
		return 1
	}
	defer func() { _ = c.store.Close() }()

	exporter := audit.NewExporter(c.ledger, c.attestor)
	bundle, err := exporter.Export(ctx, *from, *to)
	if err != nil {
		fmt.Fprintf(stderr, "export failed: %v\n", err)
		return 1
	}
	if err := os.WriteFile(*out, bundle.Data, 0o600); err != nil {
		fmt.Fprintf(stderr, "write bundle: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "exported %d entries to %s\n", bundle.EntryCount, *out)
	fmt.Fprintf(stdout, "bundle sha256: %s\n", bundle.Checksum)
	fmt.Fprintf(stdout, "chain head: seq %d %s\n", bundle.Checkpoint.SequenceNumber, bundle.Checkpoint.ChainHeadHash)
	return 0
}

func runBootstrap(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bootstrap", flag.ContinueOnError)
	fs.SetOutput(stderr)
	operatorID := fs.String("operator-id", "", "operator ID for the initial admin")
	passphrase := fs.String("passphrase", "", "initial admin passphrase")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *operatorID == "" || *passphrase == "" {
		fmt.Fprintln(stderr, "bootstrap requires -operator-id and -passphrase")
		return 2
	}

	ctx := context.Background()
	c, err := openCore(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "startup failed: %v\n", err)
		return 1
	}
	defer func() { _ = c.store.Close() }()

	existing, err := c.keys.ListUsers(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "bootstrap failed: %v\n", err)
		return 1
	}
	if len(existing) > 0 {
		fmt.Fprintln(stderr, "bootstrap refused: users already exist")
		return 1
	}

	hash, err := crypto.HashPassword(*passphrase, c.cfg.Argon2)
	if err != nil {
		fmt.Fprintf(stderr, "bootstrap failed: %v\n", err)
		return 1
	}
	user, err := c.keys.RegisterUser(ctx, keyreg.NewUserParams{
		OperatorID:     *operatorID,
		Role:           rbac.RoleAdmin,
		PassphraseHash: hash,
	})
	if err != nil {
		fmt.Fprintf(stderr, "bootstrap failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "admin %s created (user id %s)\n", *operatorID, user.ID)
	return 0
}
