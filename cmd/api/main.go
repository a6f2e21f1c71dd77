package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"orgmesh.io/internal/audit"
	"orgmesh.io/internal/auth"
	"orgmesh.io/internal/config"
	"orgmesh.io/internal/directory"
	"orgmesh.io/internal/email"
	"orgmesh.io/internal/events"
	"orgmesh.io/internal/httpapi"
	"orgmesh.io/internal/obs"
	"orgmesh.io/internal/store/pg"
	"orgmesh.io/internal/token"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	_ = godotenv.Load()

	log := obs.NewLogger()
	defer func() { _ = log.Sync() }()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalw("load config", "error", err)
	}

	store, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalw("open database", "error", err)
	}
	defer func() { _ = store.Close() }()

	var sender email.Sender = email.Noop{}
	if cfg.MailConfigured() {
		sender = email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.SMTPUser, cfg.SMTPPass)
	} else {
		log.Warnw("smtp not configured, mail delivery disabled")
	}

	stream := events.New()
	tokens := token.NewService(store)

	svc, err := directory.NewService(store, tokens, sender, stream, log)
	if err != nil {
		log.Fatalw("wire directory service", "error", err)
	}

	issuer, err := auth.NewTokenIssuer(cfg.SessionTokenSecret, auth.WithSessionTTL(cfg.SessionTokenTTL))
	if err != nil {
		log.Fatalw("wire token issuer", "error", err)
	}
	cache := auth.NewPolicyCache(svc.PolicyLoader())
	gate := auth.NewGate(cache)

	probe := httpapi.ReadyProbe{DB: store.DB()}
	api := httpapi.New(svc, issuer, gate, cache, log, version,
		httpapi.WithReadyProbe(probe),
		httpapi.WithAuditLogger(audit.NewLogger(log)),
		httpapi.WithEventStream(stream),
	)

	rootCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Expired single-use tokens are garbage; sweep them on an interval.
	go func() {
		ticker := time.NewTicker(cfg.TokenSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				n, err := tokens.SweepExpired(rootCtx, time.Now())
				if err != nil {
					log.Warnw("token sweep failed", "error", err)
					continue
				}
				if n > 0 {
					log.Infow("token sweep", "deleted", n)
				}
			}
		}
	}()

	if cfg.GRPCAddr != "" {
		grpcSrv := httpapi.NewGRPCHealthServer(probe)
		go func() {
			log.Infow("grpc health server listening", "addr", cfg.GRPCAddr)
			if err := grpcSrv.Serve(rootCtx, cfg.GRPCAddr); err != nil {
				log.Errorw("grpc health server stopped", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Infow("starting orgmesh-api", "version", version, "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("listen", "error", err)
		}
	}()

	<-rootCtx.Done()
	log.Infow("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Infow("stopped")
}
