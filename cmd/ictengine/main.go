// Command ictengine is the cobra CLI entrypoint wiring the composition
// root (internal/engine) to a config file, a watchlist, and the OS
// signal lifecycle.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ictengine/core/internal/bar"
	"github.com/ictengine/core/internal/broker"
	"github.com/ictengine/core/internal/config"
	"github.com/ictengine/core/internal/engine"
	"github.com/ictengine/core/internal/httpapi"
	"github.com/ictengine/core/internal/logsetup"
	"github.com/ictengine/core/internal/memory"
)

const (
	appName = "ictengine"
	version = "v0.1.0"
)

// Exit codes: 0 success, 1 config error, 2 runtime error, 3
// shutdown timeout.
const (
	exitOK              = 0
	exitConfigError     = 1
	exitRuntimeError    = 2
	exitShutdownTimeout = 3
)

func main() {
	logsetup.Init("info")

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "ICT Engine: institutional pattern detection, risk, and execution",
		Version: version,
		Long: `ictengine runs the ICT pattern-detection engine: FVG/Order Block/BOS-CHoCH/
Liquidity detectors, a historical-performance memory system, a multi-timeframe
validator, a four-stage risk pipeline, and an execution router, all driven by
a bounded worker-pool scheduler.`,
	}
	rootCmd.PersistentFlags().String("config", "config.yaml", "path to config.yaml")
	rootCmd.PersistentFlags().String("data-dir", "data", "root directory for persisted state (memory/journal/status/reports)")
	rootCmd.PersistentFlags().String("log-level", "info", "zerolog level (debug|info|warn|error)")

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the engine and block until shutdown",
		RunE:  runStart,
	}
	startCmd.Flags().String("symbols", "EURUSD,GBPUSD", "comma-separated watchlist symbols")
	startCmd.Flags().String("timeframes", "M5,M15,H4", "comma-separated timeframes analyzed per symbol")
	startCmd.Flags().Duration("poll-every", 15*time.Second, "broker poll interval")
	startCmd.Flags().String("http-host", "127.0.0.1", "read-only HTTP API bind host")
	startCmd.Flags().Int("http-port", 8090, "read-only HTTP API bind port")
	startCmd.Flags().String("pid-file", "", "override the pid file path (defaults to <data-dir>/ictengine.pid)")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Signal a running engine (via its pid file) to shut down",
		RunE:  runStop,
	}
	stopCmd.Flags().String("pid-file", "", "override the pid file path (defaults to <data-dir>/ictengine.pid)")
	stopCmd.Flags().Duration("timeout", 10*time.Second, "how long to wait for the process to exit")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Report engine health, pulled from the local read-only HTTP API",
		RunE:  runStatus,
	}
	statusCmd.Flags().String("http-host", "127.0.0.1", "read-only HTTP API host")
	statusCmd.Flags().Int("http-port", 8090, "read-only HTTP API port")
	statusCmd.Flags().Bool("json", false, "force JSON output regardless of TTY detection")

	exportCmd := &cobra.Command{
		Use:   "export-memory",
		Short: "Export the historical memory store snapshot to a path",
		RunE:  runExportMemory,
	}
	exportCmd.Flags().String("out", "", "output snapshot path (required)")

	importCmd := &cobra.Command{
		Use:   "import-memory",
		Short: "Import a historical memory store snapshot from a path",
		RunE:  runImportMemory,
	}
	importCmd.Flags().String("in", "", "input snapshot path (required)")

	rootCmd.AddCommand(startCmd, stopCmd, statusCmd, exportCmd, importCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(exitRuntimeError)
	}
}

func initLogging(cmd *cobra.Command) {
	level, _ := cmd.Flags().GetString("log-level")
	logsetup.Init(level)
}

func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	initLogging(cmd)

	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", path, err)
	}
	dataDir, _ := cmd.Flags().GetString("data-dir")
	return cfg, dataDir, nil
}

func parseWatchlist(symbols, timeframes string) []engine.Watchlist {
	var tfs []bar.Timeframe
	for _, raw := range strings.Split(timeframes, ",") {
		raw = strings.ToUpper(strings.TrimSpace(raw))
		if raw == "" {
			continue
		}
		tfs = append(tfs, bar.Timeframe(raw))
	}

	var list []engine.Watchlist
	for _, raw := range strings.Split(symbols, ",") {
		sym := strings.ToUpper(strings.TrimSpace(raw))
		if sym == "" {
			continue
		}
		list = append(list, engine.Watchlist{Symbol: sym, Timeframes: tfs})
	}
	return list
}

func pidFilePath(cmd *cobra.Command, dataDir string) string {
	if p, _ := cmd.Flags().GetString("pid-file"); p != "" {
		return p
	}
	return filepath.Join(dataDir, "ictengine.pid")
}

// runStart loads config, builds the broker transport and engine, and
// blocks until SIGINT/SIGTERM or the context is cancelled. It writes a
// pid file so `ictengine stop` can locate the process via a plain
// os.Process/SIGTERM handshake.
func runStart(cmd *cobra.Command, args []string) error {
	cfg, dataDir, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigError)
	}

	symbols, _ := cmd.Flags().GetString("symbols")
	timeframes, _ := cmd.Flags().GetString("timeframes")
	pollEvery, _ := cmd.Flags().GetDuration("poll-every")
	httpHost, _ := cmd.Flags().GetString("http-host")
	httpPort, _ := cmd.Flags().GetInt("http-port")

	transport := broker.NewHTTPWSTransport(cfg.Broker)

	opts := engine.Options{
		Config:    cfg,
		DataDir:   dataDir,
		Transport: transport,
		Watchlist: parseWatchlist(symbols, timeframes),
		HTTPConfig: httpapi.Config{
			Host:         httpHost,
			Port:         httpPort,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		PollEvery: pollEvery,
	}

	eng, err := engine.New(opts)
	if err != nil {
		log.Error().Err(err).Msg("engine construction failed")
		os.Exit(exitRuntimeError)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		log.Error().Err(err).Msg("engine start failed")
		os.Exit(exitRuntimeError)
	}

	pidPath := pidFilePath(cmd, dataDir)
	if err := writePidFile(pidPath); err != nil {
		log.Warn().Err(err).Str("path", pidPath).Msg("could not write pid file, `ictengine stop` will not find this process")
	}
	defer os.Remove(pidPath)

	log.Info().Str("pid_file", pidPath).Msg("engine running, waiting for shutdown signal")
	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()

	if err := eng.Stop(stopCtx); err != nil {
		log.Error().Err(err).Msg("shutdown did not complete cleanly")
		os.Exit(exitShutdownTimeout)
	}

	log.Info().Msg("engine stopped")
	return nil
}

func writePidFile(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// runStop reads the pid file written by `start` and sends SIGTERM,
// then polls for process exit up to --timeout.
func runStop(cmd *cobra.Command, args []string) error {
	initLogging(cmd)
	dataDir, _ := cmd.Flags().GetString("data-dir")
	pidPath := pidFilePath(cmd, dataDir)
	timeout, _ := cmd.Flags().GetDuration("timeout")

	raw, err := os.ReadFile(pidPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "no running engine found at %s: %v\n", pidPath, err)
		os.Exit(exitRuntimeError)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid pid file %s: %v\n", pidPath, err)
		os.Exit(exitConfigError)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not locate process %d: %v\n", pid, err)
		os.Exit(exitRuntimeError)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		fmt.Fprintf(os.Stderr, "failed to signal process %d: %v\n", pid, err)
		os.Exit(exitRuntimeError)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := proc.Signal(syscall.Signal(0)); err != nil {
			fmt.Println("engine stopped")
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	fmt.Fprintf(os.Stderr, "engine did not exit within %s\n", timeout)
	os.Exit(exitShutdownTimeout)
	return nil
}

// runStatus pulls /health from the local read-only HTTP API and prints
// it plain or as JSON, branching on TTY detection.
func runStatus(cmd *cobra.Command, args []string) error {
	initLogging(cmd)
	host, _ := cmd.Flags().GetString("http-host")
	port, _ := cmd.Flags().GetInt("http-port")
	forceJSON, _ := cmd.Flags().GetBool("json")

	url := fmt.Sprintf("http://%s:%d/health", host, port)
	client := &httpClient{timeout: 5 * time.Second}
	body, err := client.get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not reach engine at %s: %v\n", url, err)
		os.Exit(exitRuntimeError)
	}

	if forceJSON || !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Println(string(body))
		return nil
	}

	var pretty map[string]interface{}
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(string(body))
		return nil
	}
	for k, v := range pretty {
		fmt.Printf("%-20s %v\n", k, v)
	}
	return nil
}

// httpClient is a minimal wrapper so runStatus doesn't need the full
// broker.Adapter dependency graph just to GET a local health endpoint.
type httpClient struct {
	timeout time.Duration
}

func (c *httpClient) get(url string) ([]byte, error) {
	client := &http.Client{Timeout: c.timeout}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func runExportMemory(cmd *cobra.Command, args []string) error {
	cfg, dataDir, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigError)
	}
	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		fmt.Fprintln(os.Stderr, "--out is required")
		os.Exit(exitConfigError)
	}

	memoryPath := filepath.Join(dataDir, "memory", "historical_analysis_cache.json")
	store, err := memory.Import(memoryPath, &cfg.Memory)
	if err != nil {
		log.Error().Err(err).Msg("failed to load historical memory store")
		os.Exit(exitRuntimeError)
	}
	if err := store.Export(out); err != nil {
		log.Error().Err(err).Msg("export failed")
		os.Exit(exitRuntimeError)
	}
	fmt.Printf("exported memory snapshot to %s\n", out)
	return nil
}

func runImportMemory(cmd *cobra.Command, args []string) error {
	cfg, dataDir, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigError)
	}
	in, _ := cmd.Flags().GetString("in")
	if in == "" {
		fmt.Fprintln(os.Stderr, "--in is required")
		os.Exit(exitConfigError)
	}

	store, err := memory.Import(in, &cfg.Memory)
	if err != nil {
		log.Error().Err(err).Msg("import failed")
		os.Exit(exitRuntimeError)
	}

	memoryPath := filepath.Join(dataDir, "memory", "historical_analysis_cache.json")
	if err := store.Export(memoryPath); err != nil {
		log.Error().Err(err).Msg("failed to persist imported snapshot into data dir")
		os.Exit(exitRuntimeError)
	}
	fmt.Printf("imported %s into %s\n", in, memoryPath)
	return nil
}
