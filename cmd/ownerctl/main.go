package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ownership "go-ownership"
	"go-ownership/httpapi"
	"go-ownership/redisstore"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	configPath string
	flags      = DefaultConfig()
	expiresIn  uint64
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "ownerctl",
		Short: "Two-step ownership transfer for shared resources",
		Long: `Ownerctl manages the owner of resources stored in PostgreSQL or Redis.
The current owner proposes a new owner with a deadline, and the candidate
claims ownership before the deadline passes.`,
		SilenceUsage: true,
	}

	var pf = rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to a YAML config file")
	pf.StringVar(&flags.Backend, "backend", flags.Backend, "Storage backend (postgres or redis)")
	pf.StringVar(&flags.DatabaseURL, "db", flags.DatabaseURL, "PostgreSQL connection URL")
	pf.StringVar(&flags.RedisURL, "redis", flags.RedisURL, "Redis connection URL")
	pf.StringVar(&flags.TablePrefix, "table-prefix", flags.TablePrefix, "Table or key prefix")
	pf.StringVarP(&flags.Resource, "resource", "r", flags.Resource, "Resource identifier")
	pf.StringVar(&flags.Caller, "as", flags.Caller, "Identity of the caller")

	var proposeCmd = &cobra.Command{
		Use:   "propose <owner>",
		Short: "Propose a new owner for the resource",
		Args:  cobra.ExactArgs(1),
		RunE:  runPropose,
	}
	proposeCmd.Flags().Uint64Var(&expiresIn, "expires-in", 3600, "Seconds the proposal stays claimable")

	var serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the ownership HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&flags.Addr, "addr", flags.Addr, "Listen address")
	serveCmd.Flags().StringVar(&flags.JWTKey, "jwt-key", flags.JWTKey, "HS256 signing key for bearer tokens")

	var tokenCmd = &cobra.Command{
		Use:   "token <subject>",
		Short: "Mint a bearer token for the HTTP API",
		Args:  cobra.ExactArgs(1),
		RunE:  runToken,
	}
	tokenCmd.Flags().StringVar(&flags.JWTKey, "jwt-key", flags.JWTKey, "HS256 signing key for bearer tokens")
	tokenCmd.Flags().DurationVar(&flags.TokenTTL, "ttl", flags.TokenTTL, "Token lifetime")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "migrate",
			Short: "Create the storage tables",
			Args:  cobra.NoArgs,
			RunE:  runMigrate,
		},
		&cobra.Command{
			Use:   "create <owner>",
			Short: "Register the resource with its first owner",
			Args:  cobra.ExactArgs(1),
			RunE:  runCreate,
		},
		&cobra.Command{
			Use:   "show",
			Short: "Show the owner and pending proposal",
			Args:  cobra.NoArgs,
			RunE:  runShow,
		},
		proposeCmd,
		&cobra.Command{
			Use:   "drop",
			Short: "Withdraw the pending proposal",
			Args:  cobra.NoArgs,
			RunE:  runDrop,
		},
		&cobra.Command{
			Use:   "claim",
			Short: "Accept the pending proposal",
			Args:  cobra.NoArgs,
			RunE:  runClaim,
		},
		serveCmd,
		tokenCmd,
		&cobra.Command{
			Use:   "watch",
			Short: "Interactive status screen for the resource",
			Args:  cobra.NoArgs,
			RunE:  runWatch,
		},
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// resolveConfig layers explicitly set flags over the config file and environment.
func resolveConfig(cmd *cobra.Command) (Config, error) {
	var cfg, err = LoadConfig(configPath)
	if err != nil {
		return Config{}, err
	}

	var set = func(name string, dst *string, value string) {
		if cmd.Flags().Changed(name) {
			*dst = value
		}
	}
	set("backend", &cfg.Backend, flags.Backend)
	set("db", &cfg.DatabaseURL, flags.DatabaseURL)
	set("redis", &cfg.RedisURL, flags.RedisURL)
	set("table-prefix", &cfg.TablePrefix, flags.TablePrefix)
	set("resource", &cfg.Resource, flags.Resource)
	set("as", &cfg.Caller, flags.Caller)
	set("addr", &cfg.Addr, flags.Addr)
	set("jwt-key", &cfg.JWTKey, flags.JWTKey)
	if cmd.Flags().Changed("ttl") {
		cfg.TokenTTL = flags.TokenTTL
	}

	return cfg, cfg.Validate()
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// backend is an opened host together with its connection.
type backend struct {
	host    ownership.Host
	migrate func() error
	close   func() error
}

func openBackend(ctx context.Context, cfg Config) (*backend, error) {
	switch cfg.Backend {
	case backendRedis:
		client, err := redisstore.Open(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return &backend{
			host:    redisstore.NewHost(client, cfg.TablePrefix),
			migrate: func() error { return nil },
			close:   client.Close,
		}, nil

	default:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}

		var host = ownership.NewPostgresHost(db, cfg.TablePrefix)
		return &backend{
			host:    host,
			migrate: host.Migrate,
			close:   db.Close,
		}, nil
	}
}

// withManager opens the configured backend and runs fn with a Manager over it.
func withManager(cmd *cobra.Command, fn func(ctx context.Context, cfg Config, m *ownership.Manager) error, opts ...ownership.Option) error {
	var ctx = cmd.Context()

	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	var manager = ownership.NewManager(b.host, append([]ownership.Option{ownership.WithLogger(newLogger())}, opts...)...)
	return fn(ctx, cfg, manager)
}

func callerOf(cfg Config) (ownership.Identity, error) {
	if cfg.Caller == "" {
		return "", errors.New("caller identity is required, set --as")
	}
	return ownership.Identity(cfg.Caller), nil
}

func printAck(ack ownership.Ack) {
	for _, attr := range ack.Attributes() {
		fmt.Printf("%s=%s\n", attr.Key, attr.Value)
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	b, err := openBackend(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer b.close()

	if err := b.migrate(); err != nil {
		return err
	}
	fmt.Printf("✓ Storage ready (%s, prefix %q)\n", cfg.Backend, cfg.TablePrefix)
	return nil
}

func runCreate(cmd *cobra.Command, args []string) error {
	return withManager(cmd, func(ctx context.Context, cfg Config, m *ownership.Manager) error {
		owner, err := m.Create(ctx, cfg.Resource, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Created %s owned by %s\n", cfg.Resource, owner)
		return nil
	})
}

func runShow(cmd *cobra.Command, args []string) error {
	return withManager(cmd, func(ctx context.Context, cfg Config, m *ownership.Manager) error {
		status, err := m.Ownership(ctx, cfg.Resource)
		if err != nil {
			return err
		}
		fmt.Print(status.String())
		return nil
	})
}

func runPropose(cmd *cobra.Command, args []string) error {
	return withManager(cmd, func(ctx context.Context, cfg Config, m *ownership.Manager) error {
		caller, err := callerOf(cfg)
		if err != nil {
			return err
		}
		ack, err := m.ProposeNewOwner(ctx, cfg.Resource, caller, args[0], expiresIn)
		if err != nil {
			return err
		}
		printAck(ack)
		return nil
	})
}

func runDrop(cmd *cobra.Command, args []string) error {
	return withManager(cmd, func(ctx context.Context, cfg Config, m *ownership.Manager) error {
		caller, err := callerOf(cfg)
		if err != nil {
			return err
		}
		ack, err := m.DropOwnershipProposal(ctx, cfg.Resource, caller)
		if err != nil {
			return err
		}
		printAck(ack)
		return nil
	})
}

func runClaim(cmd *cobra.Command, args []string) error {
	return withManager(cmd, func(ctx context.Context, cfg Config, m *ownership.Manager) error {
		caller, err := callerOf(cfg)
		if err != nil {
			return err
		}
		ack, err := m.ClaimOwnership(ctx, cfg.Resource, caller)
		if err != nil {
			return err
		}
		printAck(ack)
		return nil
	})
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.JWTKey == "" {
		return errors.New("signing key is required, set --jwt-key")
	}

	token, err := httpapi.NewTokenIssuer(cfg.JWTKey, "ownerctl", cfg.TokenTTL).Issue(ownership.Identity(args[0]))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	var (
		registry = prometheus.NewRegistry()
		metrics  = ownership.NewMetrics(registry)
	)
	registry.MustRegister(collectors.NewGoCollector())

	return withManager(cmd, func(ctx context.Context, cfg Config, m *ownership.Manager) error {
		if cfg.JWTKey == "" {
			return errors.New("signing key is required, set --jwt-key")
		}

		var (
			logger = newLogger()
			tokens = httpapi.NewTokenIssuer(cfg.JWTKey, "ownerctl", cfg.TokenTTL)
			router = chi.NewRouter()
		)
		router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		router.Mount("/", httpapi.NewRouter(httpapi.NewHandler(m, logger), tokens))

		var server = &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		}

		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		var serveErr = make(chan error, 1)
		go func() {
			logger.Info("serving ownership API", "addr", cfg.Addr, "backend", cfg.Backend)
			serveErr <- server.ListenAndServe()
		}()

		select {
		case err := <-serveErr:
			return err
		case <-ctx.Done():
			logger.Info("shutting down")
			var shutdownCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		}
	}, ownership.WithMetrics(metrics))
}
