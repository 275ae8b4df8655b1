package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/ad-alert-guardian/internal/scheduler"
	"github.com/ogulcanaydogan/ad-alert-guardian/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the alert scheduler and HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("listen", "l", "", "Listen address (default from config)")
	serveCmd.Flags().Bool("no-schedule", false, "Serve the API without running scheduled jobs")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	listen, _ := cmd.Flags().GetString("listen")
	if listen != "" {
		a.cfg.Server.Listen = listen
	}
	noSchedule, _ := cmd.Flags().GetBool("no-schedule")

	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Location: loc,
		Recorder: a.metrics,
		Logger:   a.logger,
	})
	if !noSchedule {
		specs := scheduler.Specs{
			AlertCheck: a.cfg.Schedule.AlertCheck,
			Sweep:      a.cfg.Schedule.Sweep,
			Prune:      a.cfg.Schedule.Prune,
		}
		if err := scheduler.Register(sched, specs, a.checker, a.guard); err != nil {
			return err
		}
		sched.Start()
	}

	apiServer := server.NewServer(a.checker, a.registry, a.logger)
	srv := &http.Server{
		Addr:         a.cfg.Server.Listen,
		Handler:      apiServer.Handler(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server started", "listen", a.cfg.Server.Listen, "jobs", len(sched.Jobs()))
		fmt.Fprintf(os.Stderr, "Ad Alert Guardian listening on %s\n", a.cfg.Server.Listen)
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			serveErr = fmt.Errorf("shutdown error: %w", err)
		}
	}

	sched.Stop()
	a.logger.Info("server stopped")
	return serveErr
}
