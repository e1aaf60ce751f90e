package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/perlow/giftsync/internal/api"
	"github.com/perlow/giftsync/internal/budget"
	"github.com/perlow/giftsync/internal/config"
	"github.com/perlow/giftsync/internal/ledger"
	"github.com/perlow/giftsync/internal/preview"
	"github.com/perlow/giftsync/internal/refresh"
	"github.com/perlow/giftsync/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the giftsync server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running giftsync server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show giftsync system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "giftsync.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "giftsync version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Ensure API token exists before anything else can race for it.
	apiToken, err := config.GetAPIToken(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("giftsync is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("giftsync is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Build the metadata sync pipeline.
	previewTimeout, err := time.ParseDuration(cfg.Preview.Timeout)
	if err != nil {
		slog.Warn("invalid preview timeout, using default 15s", "value", cfg.Preview.Timeout, "error", err)
		previewTimeout = 15 * time.Second
	}
	previews := preview.NewClient(cfg.Preview.BaseURL, cfg.Preview.APIKey, previewTimeout)
	gate := budget.NewGate(store)
	orch := refresh.NewOrchestrator(store, previews, gate)
	recorder := ledger.NewRecorder(store)

	appHandler := api.NewAppHandler(api.AppDeps{
		Store:  store,
		Orch:   orch,
		Ledger: recorder,
		Token:  apiToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Background refresh worker.
	if cfg.Refresh.WorkerEnabled {
		interval, err := time.ParseDuration(cfg.Refresh.Interval)
		if err != nil {
			slog.Warn("invalid refresh interval, using default 1h", "value", cfg.Refresh.Interval, "error", err)
			interval = time.Hour
		}
		worker := refresh.NewWorker(orch, store, interval)
		g.Go(func() error {
			worker.Run(gCtx)
			return nil
		})
	}

	// MCP server on stdio transport.
	mcpSrv := api.NewMCPServer(api.AppDeps{
		Store:  store,
		Orch:   orch,
		Ledger: recorder,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	g.Go(func() error {
		if err := stdioSrv.Listen(gCtx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
		return nil
	})
	slog.Info("MCP server started (stdio transport)")

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "giftsync listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown on signal or server failure.
	g.Go(func() error {
		<-gCtx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("giftsync is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop giftsync (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to giftsync (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Preview service", "%s", cfg.Preview.BaseURL)

	// Show item counts and budget usage if server is running.
	apiToken, tokenErr := config.GetAPIToken(cfg.Storage.DataDir)
	if tokenErr == nil && resp != nil && resp.StatusCode == 200 {
		itemsResp, err := apiGet(client, serverURL+"/items", apiToken)
		if err == nil {
			var items []struct {
				PurchaseStatus string `json:"purchase_status"`
			}
			if decodeJSON(itemsResp, &items) == nil {
				purchased := 0
				for _, it := range items {
					if it.PurchaseStatus == "purchased" {
						purchased++
					}
				}
				printStatus("Items", "%d (%d fully purchased)", len(items), purchased)
			}
		}
		settingsResp, err := apiGet(client, serverURL+"/settings", apiToken)
		if err == nil {
			var st struct {
				BudgetMonthKey  string `json:"budget_month_key"`
				BudgetCallCount int    `json:"budget_call_count"`
				BudgetCap       int    `json:"budget_cap"`
			}
			if decodeJSON(settingsResp, &st) == nil {
				printStatus("Lookup budget", "%d/%d used in %s", st.BudgetCallCount, st.BudgetCap, st.BudgetMonthKey)
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
}
