package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"authgate.org/internal/config"
	"authgate.org/internal/credential"
	"authgate.org/internal/httpapi"
	"authgate.org/internal/identity"
	"authgate.org/internal/obs"
	"authgate.org/internal/replay"
	"authgate.org/internal/secretbox"
	"authgate.org/internal/session"
	"authgate.org/internal/signing"
	"authgate.org/internal/token"
)

var version = "0.3.1"

func main() {
	configPath := flag.String("config", os.Getenv("AUTHGATE_CONFIG"), "Path to YAML config (optional)")
	flag.Parse()

	obs.Init()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Without a DSN every store runs in memory: fine for development,
	// never for production.
	var db *sql.DB
	if cfg.PG.DSN != "" {
		db, err = sql.Open("pgx", cfg.PG.DSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	var (
		subjects    identity.Store
		sessions    session.Store
		credentials credential.Store
		replayCache signing.ReplayCache
	)
	if db != nil {
		subjects = identity.NewPGStore(db)
		sessions = session.NewPGStore(db)
		credentials = credential.NewPGStore(db)
		replayCache = replay.NewPGCache(db)
	} else {
		log.Println("no AUTHGATE_PG_DSN set, using in-memory stores")
		subjects = identity.NewMemoryStore()
		sessions = session.NewMemoryStore()
		credentials = credential.NewMemoryStore()
		replayCache = replay.NewMemory()
	}

	box, err := secretbox.NewFromHex(cfg.WrappingKey)
	if err != nil {
		log.Fatalf("wrapping key: %v", err)
	}

	issuer, err := token.NewIssuer(
		[]byte(cfg.Tokens.AccessSecret),
		[]byte(cfg.Tokens.RefreshSecret),
		cfg.Tokens.Issuer,
		cfg.Tokens.Audience,
		cfg.Tokens.Domain,
		token.WithTTLs(cfg.Tokens.AccessTTL, cfg.Tokens.RefreshTTL),
	)
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}

	manager := session.NewManager(sessions, subjects, issuer, session.Policy{
		Mode:      session.PolicyMode(cfg.Sessions.Policy),
		MaxActive: cfg.Sessions.MaxActive,
	})

	resolver := credential.NewResolver(credentials, box)
	verifier := signing.NewVerifier(resolver, replayCache,
		signing.WithMaxSkew(cfg.Signing.MaxSkew),
		signing.WithMaxAttemptsPerMinute(cfg.Signing.MaxAttemptsPerMinute),
	)

	api := httpapi.New(httpapi.Options{
		Sessions:     manager,
		Credentials:  credential.NewService(credentials, box),
		Verifier:     verifier,
		ReadyProbe:   httpapi.ReadyProbe{DB: db},
		Version:      version,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		RatePerSec:   cfg.RateLimit.PerSecond,
		RateBurst:    cfg.RateLimit.Burst,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	log.Printf("Starting authgate-api %s on %s (env=%s)", version, srv.Addr, cfg.Env)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
