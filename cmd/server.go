package cmd

import (
	"context"
	"errors"
	"log"
	httpNet "net/http"
	"os"
	"os/signal"
	"syscall"

	"market-forecast/internal/delivery/http"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the scheduled daily forecast and actuals back-fill",
	Run:   Start,
}

func Start(cmd *cobra.Command, args []string) {
	// Create a context that is canceled on interrupt signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appDep, err := NewAppDependency(ctx)
	if err != nil {
		log.Fatalf("Failed to create app dependency: %v", err)
	}

	_, services, err := appDep.Services()
	if err != nil {
		log.Fatalf("Failed to create services: %v", err)
	}

	var apiServer *HTTPServer
	if appDep.cfg.API.Port > 0 {
		handler := http.NewHttpAPIHandler(ctx, appDep.echo, appDep.log, appDep.registry, services)
		apiServer = NewHTTPServer(ctx, appDep, handler)
		go func() {
			if err := apiServer.Start(); err != nil && !errors.Is(err, httpNet.ErrServerClosed) {
				log.Fatalf("Failed to start HTTP server: %v", err)
			}
		}()
	}

	if err := services.SchedulerService.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	log.Println("Shutting down gracefully...")

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			log.Printf("Failed to stop HTTP server: %v", err)
		}
	}

	if err := appDep.Close(); err != nil {
		log.Fatalf("Failed to close app dependency: %v", err)
	}
}
