package main

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

	"github.com/dexterai/traingen/internal/api"
	"github.com/dexterai/traingen/internal/config"
	"github.com/dexterai/traingen/internal/openrouter"
	"github.com/dexterai/traingen/internal/pipeline"
	"github.com/dexterai/traingen/internal/storage"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate training examples until the target count is reached",
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")
		noWeb, _ := cmd.Flags().GetBool("no-web")
		if count < 1 {
			return fmt.Errorf("--count must be positive, got %d", count)
		}
		return runGenerate(count, noWeb)
	},
}

func init() {
	generateCmd.Flags().Int("count", 1000, "target number of valid examples")
	generateCmd.Flags().Bool("no-web", false, "disable the monitoring HTTP server")
}

func runGenerate(count int, noWeb bool) error {
	fmt.Fprintf(os.Stderr, "traingen version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	initLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	client := openrouter.NewClient(cfg.OpenRouter.APIKey)
	coord := pipeline.New(cfg, client, store)

	// Monitoring server runs alongside generation unless disabled.
	var srv *http.Server
	srvErr := make(chan error, 1)
	if !noWeb {
		handler := api.NewMonitorHandler(api.Deps{
			Store:       store,
			Pipeline:    coord,
			TargetCount: count,
		})
		addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
		srv = &http.Server{Addr: addr, Handler: handler}
		go func() {
			fmt.Fprintf(os.Stderr, "monitor listening on http://%s\n", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				srvErr <- err
			}
			close(srvErr)
		}()
	}

	printStep("Generating %d valid examples...", count)
	start := time.Now()
	runErr := coord.Run(ctx, count)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		srv.Shutdown(shutdownCtx)
		cancel()
		if err := <-srvErr; err != nil {
			printError("monitor server error: %v", err)
		}
	}

	m := coord.Metrics()
	printStatus("Elapsed", "%s", time.Since(start).Round(time.Second))
	printStatus("Scenarios submitted", "%d", m.ScenariosSubmitted)
	printStatus("Scenarios valid", "%d", m.ScenariosValid)
	printStatus("Scenarios invalid", "%d", m.ScenariosInvalid)
	printStatus("Complete examples", "%d", m.CompleteExamples)
	printStatus("Reasoning invalid", "%d", m.ReasoningInvalid)
	printStatus("Rate limit pauses", "%d", m.RateLimitPauses)
	printStatus("Errors", "%d", m.Errors)

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			printWarning("Generation interrupted")
			return nil
		}
		return runErr
	}
	printSuccess("Generation complete")
	return nil
}
