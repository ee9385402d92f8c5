// Command vauthd runs the credential lifecycle service: SQLite-backed token
// and API key stores, Redis-backed rate limiting, and the HTTP surface from
// the httpapi package.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"

	vauth "github.com/vizor-analytics/vauth"
	"github.com/vizor-analytics/vauth/httpapi"
	"github.com/vizor-analytics/vauth/internal/sqlitedb"
	"github.com/vizor-analytics/vauth/migrations"
)

func main() {
	cmd := &cli.Command{
		Name:  "vauthd",
		Usage: "credential lifecycle service for metrics ingestion",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Value: ":8080",
				Usage: "HTTP listen address",
			},
			&cli.StringFlag{
				Name:    "db-path",
				Value:   "./vauth.sqlite",
				Sources: cli.EnvVars("VAUTH_DB_PATH"),
				Usage:   "SQLite file path",
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Value:   "localhost:6379",
				Sources: cli.EnvVars("VAUTH_REDIS_ADDR"),
				Usage:   "Redis address for rate-limit counters",
			},
			&cli.StringFlag{
				Name:    "jwt-secret",
				Sources: cli.EnvVars("VAUTH_JWT_SECRET"),
				Usage:   "HS256 signing secret, at least 32 bytes",
			},
			&cli.StringFlag{
				Name:    "issuer",
				Value:   "vauth",
				Sources: cli.EnvVars("VAUTH_ISSUER"),
				Usage:   "JWT issuer claim",
			},
			&cli.DurationFlag{
				Name:  "access-ttl",
				Value: 15 * time.Minute,
				Usage: "Access token lifetime",
			},
			&cli.DurationFlag{
				Name:  "refresh-ttl",
				Value: 30 * 24 * time.Hour,
				Usage: "Refresh token lifetime",
			},
			&cli.StringFlag{
				Name:    "tenant-header",
				Value:   "X-Tenant-ID",
				Sources: cli.EnvVars("VAUTH_TENANT_HEADER"),
				Usage:   "Header carrying the tenant ID",
			},
			&cli.BoolFlag{
				Name:  "audit-stdout",
				Usage: "Write JSON audit events to stdout",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, c *cli.Command) error {
	secret := c.String("jwt-secret")
	if secret == "" {
		return errors.New("jwt-secret is required (flag or VAUTH_JWT_SECRET)")
	}

	db, err := sqlitedb.Open(c.String("db-path"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if closeErr := sqlitedb.Close(db); closeErr != nil {
			log.Printf("close database: %v", closeErr)
		}
	}()

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("database handle: %w", err)
	}
	if err := migrations.Up(ctx, sqlDB); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: c.String("redis-addr")})
	defer func() {
		if closeErr := rdb.Close(); closeErr != nil {
			log.Printf("close redis: %v", closeErr)
		}
	}()

	cfg := vauth.DefaultConfig()
	cfg.JWT.Secret = []byte(secret)
	cfg.JWT.Issuer = c.String("issuer")
	cfg.JWT.AccessTTL = c.Duration("access-ttl")
	cfg.Refresh.TTL = c.Duration("refresh-ttl")
	cfg.Metrics.Enabled = true

	builder := vauth.New().
		WithConfig(cfg).
		WithDB(db).
		WithRedis(rdb)
	if c.Bool("audit-stdout") {
		cfg.Audit.Enabled = true
		builder = builder.WithConfig(cfg).WithAuditSink(vauth.NewJSONWriterSink(os.Stdout))
	}

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	api := httpapi.NewServer(engine, httpapi.WithTenantHeader(c.String("tenant-header")))
	server := &http.Server{
		Addr:              c.String("addr"),
		Handler:           api.Router(nil),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
	case sig := <-sigCh:
		log.Printf("received signal %s", sig)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
