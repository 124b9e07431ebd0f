package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/matiasleandrokruk/voxrelay/internal/api"
	"github.com/matiasleandrokruk/voxrelay/internal/api/ws"
	"github.com/matiasleandrokruk/voxrelay/internal/domain/journal"
	"github.com/matiasleandrokruk/voxrelay/internal/domain/relay"
	"github.com/matiasleandrokruk/voxrelay/internal/infra/config"
	"github.com/matiasleandrokruk/voxrelay/internal/infra/eventbus"
	"github.com/matiasleandrokruk/voxrelay/internal/infra/llm"
	"github.com/matiasleandrokruk/voxrelay/internal/infra/logging"
	"github.com/matiasleandrokruk/voxrelay/internal/infra/sqlite"
	"github.com/matiasleandrokruk/voxrelay/internal/infra/telemetry"
	"github.com/matiasleandrokruk/voxrelay/internal/server"
	"github.com/matiasleandrokruk/voxrelay/internal/version"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			return serve(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides PORT)")
	return cmd
}

// serve wires every component and blocks until ctx is cancelled or the listener fails.
func serve(ctx context.Context, cfg config.Config, out io.Writer) error {
	logger, logCloser, err := logging.Install(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
		Out:    out,
	})
	if err != nil {
		return err
	}
	defer logCloser.Close() //nolint:errcheck

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Options{
		Exporter:       cfg.TelemetryExporter,
		ServiceName:    version.Name,
		ServiceVersion: version.Version,
	})
	if err != nil {
		return err
	}

	provider, err := newProvider(cfg, logger)
	if err != nil {
		return err
	}

	bus := eventbus.New()
	var (
		db          *sql.DB
		journalSvc  *journal.Service
		journalDone = make(chan struct{})
	)
	if cfg.JournalDBPath != "" {
		db, err = openJournalDB(cfg.JournalDBPath)
		if err != nil {
			return err
		}
		journalSvc = journal.NewService(db, logger)
		go func() {
			defer close(journalDone)
			journalSvc.Start(context.WithoutCancel(ctx), bus)
		}()
	} else {
		close(journalDone)
		logger.Info().Msg("lifecycle journal disabled")
	}

	relaySvc := relay.NewService(provider, bus, logger)
	wsHandler := ws.NewHandler(relaySvc, logger)

	deps := api.Deps{
		Provider:  provider,
		WS:        wsHandler,
		Active:    relaySvc.Active,
		StaticDir: cfg.StaticDir,
		Logger:    logger,
	}
	if journalSvc != nil {
		deps.Journal = journalSvc
	}

	srvCfg := server.DefaultConfig()
	srvCfg.Port = cfg.Port
	srv := server.NewServer(api.NewRouter(deps), db, srvCfg, logger)

	// Hooks run in order: connections close and in-flight submits drain, then
	// the journal flushes; Shutdown closes its database last.
	srv.OnShutdown(wsHandler.Shutdown)
	srv.OnShutdown(func(ctx context.Context) error {
		bus.Close()
		select {
		case <-journalDone:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("journal drain: %w", ctx.Err())
		}
	})
	srv.OnShutdown(shutdownTelemetry)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return srv.Start(egCtx)
	})
	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

// newProvider registers every adapter and routes to the configured one.
func newProvider(cfg config.Config, logger zerolog.Logger) (llm.LLMProvider, error) {
	router := llm.NewRouter(map[string]llm.LLMProvider{
		config.ProviderOpenAI: llm.NewOpenAIProvider(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel),
		config.ProviderOllama: llm.NewOllamaProvider(cfg.OllamaBaseURL, cfg.OllamaChatModel),
	}, cfg.LLMProvider)

	provider, err := router.Route(context.Background())
	if err != nil {
		return nil, err
	}
	if cfg.LLMProvider == config.ProviderOpenAI && cfg.OpenAIAPIKey == "" {
		logger.Warn().Msg("OPENAI_API_KEY is not set; every exchange will fail with a provider error")
	}
	meta := provider.ModelInfo()
	logger.Info().Str("provider", meta.Provider).Str("model", meta.ID).Msg("completion provider selected")
	return provider, nil
}

func openJournalDB(path string) (*sql.DB, error) {
	db, err := sqlite.NewDB(path)
	if err != nil {
		return nil, err
	}
	if err := sqlite.MigrateUp(db); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return db, nil
}
