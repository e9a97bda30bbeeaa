package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rapportd/rapport/internal/api"
	"github.com/rapportd/rapport/internal/logger"
	"github.com/rapportd/rapport/internal/logon"
	"github.com/rapportd/rapport/internal/logon/kerberos"
	locallogon "github.com/rapportd/rapport/internal/logon/local"
	"github.com/rapportd/rapport/pkg/config"
	"github.com/rapportd/rapport/pkg/identity"
	badgerstore "github.com/rapportd/rapport/pkg/identity/store/badger"
	"github.com/rapportd/rapport/pkg/metrics"
	"github.com/rapportd/rapport/pkg/session"
	"github.com/rapportd/rapport/pkg/ticket"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Rapport daemon",
	Long: `Start the Rapport authentication daemon with the specified configuration.

The daemon runs in the foreground; use a process supervisor (systemd,
runit, a container runtime) to manage it.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/rapport/config.yaml.

Examples:
  # Start with default config location
  rapportd start

  # Start with custom config file
  rapportd start --config /etc/rapport/config.yaml

  # Start with environment variable overrides
  RAPPORT_LOGGING_LEVEL=DEBUG rapportd start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Rapport starting", "version", Version)
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	// Initialize metrics FIRST so components created below see them enabled
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}

	// Directory topology
	dir, err := cfg.BuildDirectory()
	if err != nil {
		return fmt.Errorf("failed to build directory: %w", err)
	}
	local := cfg.BuildLocalDirectory()
	logger.Info("Directory configured",
		"machine", local.MachineName(),
		"domains", len(cfg.Directory.Domains),
		"forest", len(cfg.Directory.Forest),
		"trusts", len(cfg.Directory.Trusts))

	for _, d := range cfg.Directory.Domains {
		if err := dir.Probe(ctx, d.Name); err != nil {
			logger.Warn("Domain unreachable at startup", "domain", d.Name, "error", err)
		}
	}

	// Logon providers: Kerberos for domain targets, declared accounts
	// for the local machine.
	domainProvider, err := kerberos.NewProvider(kerberos.Config{
		Krb5Conf:        cfg.Kerberos.Krb5Conf,
		DisablePAFXFAST: cfg.Kerberos.DisablePAFXFAST,
	}, dir)
	if err != nil {
		return fmt.Errorf("failed to initialize logon provider: %w", err)
	}
	provider := logon.Mux{
		Local:  locallogon.NewProvider(local, cfg.BuildLocalAccounts()),
		Domain: domainProvider,
	}

	// Durable identity cache
	var cache identity.Cache
	if cfg.Cache.Enabled {
		store, err := badgerstore.Open(cfg.Cache.Path)
		if err != nil {
			return fmt.Errorf("failed to open identity cache: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("identity cache close error", "error", err)
			}
		}()
		cache = store
		logger.Info("Identity cache enabled", "path", cfg.Cache.Path, "max_age", cfg.Cache.MaxAge)
	} else {
		logger.Info("Identity cache disabled")
	}

	authMetrics := metrics.NewAuthMetrics()

	// Identity pipeline
	validator := identity.NewValidator(provider, dir, local, cfg.Cache.Enabled)
	resolver := identity.NewResolver(dir, local, identity.DefaultCatalog(), cache, cfg.Cache.MaxAge).
		WithMetrics(authMetrics)

	// Session policy
	codec, err := ticket.NewCodec(cfg.Auth.TicketSecret)
	if err != nil {
		return fmt.Errorf("failed to initialize ticket codec: %w", err)
	}
	codec = codec.WithTTLs(cfg.Auth.StandardTTL, cfg.Auth.WriteTTL)

	mode, err := session.ParseAnonymousMode(cfg.Auth.AnonymousMode)
	if err != nil {
		return err
	}
	policy := session.NewPolicy(codec, validator, resolver, mode)
	logger.Info("Session policy configured",
		"anonymous_mode", string(mode),
		"standard_ttl", cfg.Auth.StandardTTL,
		"write_ttl", cfg.Auth.WriteTTL)

	apiServer := api.NewServer(cfg.Server, policy, authMetrics)

	// Metrics endpoint on its own port, never exposed through the portal
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: metrics.Handler(),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	// Start API server in background
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- apiServer.Start(ctx)
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Rapport is running. Press Ctrl+C to stop.")

	var runErr error
	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()
		runErr = <-serverDone

	case runErr = <-serverDone:
		signal.Stop(sigChan)
	}

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
	}

	if runErr != nil {
		logger.Error("Server error", "error", runErr)
		return runErr
	}
	logger.Info("Rapport stopped gracefully")
	return nil
}
