package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"railtrack.dev/railtrack"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Keeps schedules and live trains refreshed until interrupted",
	Args:  cobra.NoArgs,
	RunE:  serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.config.StationsPath != "" {
		err = a.manager.LoadStations(a.config.StationsPath)
		if err != nil {
			return err
		}
	}

	if a.metrics != nil {
		srv := a.metrics.Serve(a.config.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	done := make(chan struct{}, 2)
	go func() {
		every(ctx, a.config.ScheduleRefresh, "schedule", a.manager.RefreshSchedule)
		done <- struct{}{}
	}()
	go func() {
		every(ctx, a.config.Live.Interval, "trains", a.manager.RefreshTrains)
		done <- struct{}{}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	<-done
	<-done

	return nil
}

// Runs task right away, then once per interval until ctx is done.
func every(ctx context.Context, interval time.Duration, name string, task func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		err := task(ctx)
		if errors.Is(err, railtrack.ErrRefreshInProgress) {
			log.Printf("%s refresh still running, skipping", name)
		} else if err != nil {
			log.Printf("%s refresh: %v", name, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
