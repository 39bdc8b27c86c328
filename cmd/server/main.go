package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"surveyrun/internal/app"
	"surveyrun/internal/config"
	"surveyrun/internal/repository"
)

// @title surveyrun API
// @version 1.0
// @description Survey navigation and answer-state engine
// @host localhost:8080
// @BasePath /v1
func main() {
	var envFiles []string

	rootCmd := &cobra.Command{
		Use:           "server",
		Short:         "Serve survey runs over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), envFiles)
		},
	}
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "env files to load instead of .env")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), envFiles)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "validate [files...]",
		Short: "Check survey definitions, defaulting to every file in SURVEY_DIR",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFiles...)
			if err != nil {
				return err
			}
			setupLogging(cfg)
			return validate(cmd, cfg, args)
		},
	})

	cobra.CheckErr(rootCmd.Execute())
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.ModeTest {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func serve(ctx context.Context, envFiles []string) error {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log.Logger)
	if err != nil {
		return err
	}

	scheduler, err := a.Schedule()
	if err != nil {
		a.Close(context.Background())
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("surveys", cfg.SurveySource).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "listen")
		}
		return nil
	})

	eg.Go(func() error {
		scheduler.Start()
		log.Info().Str("schedule", cfg.CleanupCron).Msg("cleanup scheduled")
		<-egCtx.Done()
		<-scheduler.Stop().Done()
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egCtx.Done()
		log.Info().Msg("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if cerr := a.Close(shutdownCtx); cerr != nil {
			log.Error().Err(cerr).Msg("failed to release connections")
		}
		if err != nil {
			return errors.Wrap(err, "server forced to shutdown")
		}
		log.Info().Msg("server exited")
		return nil
	})

	return eg.Wait()
}

func validate(cmd *cobra.Command, cfg *config.Config, files []string) error {
	if len(files) == 0 {
		for _, pattern := range []string{"*.json", "*.yaml", "*.yml"} {
			matches, err := filepath.Glob(filepath.Join(cfg.SurveyDir, pattern))
			if err != nil {
				return errors.Wrap(err, "list surveys")
			}
			files = append(files, matches...)
		}
	}
	if len(files) == 0 {
		return errors.Errorf("no survey files in %s", cfg.SurveyDir)
	}

	failed := 0
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrapf(err, "read %s", path)
		}
		ext := filepath.Ext(path)
		sv, err := repository.DecodeSurvey(data, ext, filepath.Base(path[:len(path)-len(ext)]))
		if err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "FAIL %s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok   %s (%s, %d steps)\n", path, sv.ID, len(sv.Steps))
	}
	if failed > 0 {
		return errors.Errorf("%d of %d survey files are invalid", failed, len(files))
	}
	return nil
}
