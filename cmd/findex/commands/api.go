package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/findex/internal/api"
	"github.com/wonny/findex/internal/api/handlers"
	"github.com/wonny/findex/internal/indexes"
	"github.com/wonny/findex/internal/marketdata"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Serve the read-only JSON API",
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, log, db, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	indexHandler := handlers.NewIndexHandler(indexes.NewRepository(db.Pool), log)
	tickerHandler := handlers.NewTickerHandler(marketdata.NewTickerRepository(db.Pool), log)
	router := api.NewRouter(indexHandler, tickerHandler, log)
	server := api.New(cfg, log, router)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("Shutting down API server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
