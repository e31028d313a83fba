package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"edupanel.org/internal/account"
	"edupanel.org/internal/audit"
	"edupanel.org/internal/config"
	"edupanel.org/internal/credential"
	"edupanel.org/internal/grant"
	"edupanel.org/internal/httpapi"
	"edupanel.org/internal/obs"
	"edupanel.org/internal/permission"
	"edupanel.org/internal/stats"
	"edupanel.org/internal/store/memory"
	"edupanel.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// stores bundles the backends selected at startup.
type stores struct {
	creds    credential.Store
	profiles account.ProfileStore
	grants   grant.Store
	audit    audit.Store
	ready    httpapi.ReadyProbe
	close    func() error
}

func main() {
	envDir := flag.String("env-dir", ".", "directory holding .env.<env> files")
	flag.Parse()

	cfg, err := config.Load(*envDir)
	if err != nil {
		obs.Logger().Fatal().Err(err).Msg("load config")
	}
	obs.Configure(os.Stdout, cfg.LogLevel)
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()

	if cfg.AuthSecret == "" {
		log.Fatal().Msg("EDUPANEL_AUTH_SECRET is required")
	}
	tokens, err := credential.NewTokenIssuer(cfg.AuthSecret, cfg.TokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("token issuer")
	}

	st, err := openStores(cfg, tokens)
	if err != nil {
		log.Fatal().Err(err).Msg("open stores")
	}
	defer func() { _ = st.close() }()

	auditLog, err := audit.NewLog(st.audit, audit.WithExportCap(cfg.AuditExportCap))
	if err != nil {
		log.Fatal().Err(err).Msg("audit log")
	}
	catalog := permission.DefaultCatalog()
	prov, err := account.NewProvisioner(st.creds, st.profiles, auditLog,
		account.WithMinPasswordLength(cfg.MinPasswordLength),
		account.WithRoles(catalog.RoleIDs()...))
	if err != nil {
		log.Fatal().Err(err).Msg("provisioner")
	}
	grants, err := grant.NewManager(st.grants, auditLog, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("grant manager")
	}
	agg, err := stats.NewAggregator(st.profiles, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("stats aggregator")
	}

	api, err := httpapi.New(httpapi.Deps{
		Engine:      permission.NewEngine(catalog, cfg.DefaultAdminEmail),
		Tokens:      tokens,
		Credentials: st.creds,
		Accounts:    prov,
		Grants:      grants,
		Audit:       auditLog,
		Stats:       agg,
		Ready:       st.ready,
		Version:     version,
	},
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("http api")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	health := httpapi.NewGRPCHealth(st.ready)
	grpcServer := grpc.NewServer()
	health.Register(grpcServer)
	go health.Run(ctx, 10*time.Second)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.GRPCAddr).Msg("grpc listen")
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error().Err(err).Msg("grpc serve")
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()
	log.Info().
		Str("version", version).
		Str("env", cfg.Env).
		Str("http_addr", cfg.HTTPAddr).
		Str("grpc_addr", cfg.GRPCAddr).
		Bool("postgres", cfg.PGDSN != "").
		Msg("edupanel api started")

	<-ctx.Done()
	log.Info().Msg("shutting down")

	health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	log.Info().Msg("stopped")
}

// openStores picks PostgreSQL when a DSN is configured and the in-memory
// backends otherwise.
func openStores(cfg config.Config, tokens *credential.TokenIssuer) (stores, error) {
	if cfg.PGDSN == "" {
		obs.Logger().Warn().Msg("EDUPANEL_PG_DSN not set, using in-memory stores")
		mem := memory.New(
			grant.Section{ID: "math", Title: "Mathematics"},
			grant.Section{ID: "physics", Title: "Physics"},
			grant.Section{ID: "chemistry", Title: "Chemistry"},
			grant.Section{ID: "biology", Title: "Biology"},
			grant.Section{ID: "arabic", Title: "Arabic Language"},
			grant.Section{ID: "english", Title: "English Language"},
		)
		return stores{
			creds:    credential.NewMemoryStore(tokens),
			profiles: mem,
			grants:   mem,
			audit:    mem,
			close:    func() error { return nil },
		}, nil
	}
	db, err := pg.Open(cfg.PGDSN)
	if err != nil {
		return stores{}, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.Ping(ctx); err != nil {
		obs.Logger().Warn().Err(err).Msg("database not reachable yet")
	}
	return stores{
		creds:    pg.NewCredentialStore(db.DB(), tokens),
		profiles: db,
		grants:   db,
		audit:    db,
		ready:    httpapi.ReadyProbe{DB: db.DB()},
		close:    db.Close,
	}, nil
}
