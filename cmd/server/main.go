package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kevinxiao27/mutstate/sched"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Config is the optional YAML file passed with --config.
//
//	addr: ":8080"
//	frame: 16ms
//	documents:
//	  todo:
//	    title: groceries
//	    items: [eggs, milk]
type Config struct {
	Addr      string         `yaml:"addr"`
	Frame     time.Duration  `yaml:"frame"`
	Debug     bool           `yaml:"debug"`
	Documents map[string]any `yaml:"documents"`
}

func defaultConfig() Config {
	return Config{
		Addr:      ":8080",
		Frame:     16 * time.Millisecond,
		Documents: map[string]any{},
	}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Documents == nil {
		cfg.Documents = map[string]any{}
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		frame      time.Duration
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Serve shared state documents over HTTP and websockets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("frame") {
				cfg.Frame = frame
			}
			if cmd.Flags().Changed("debug") {
				cfg.Debug = debug
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "YAML config with seed documents")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().DurationVar(&frame, "frame", 16*time.Millisecond, "minimum time between commits")
	cmd.Flags().BoolVar(&debug, "debug", false, "log every commit")
	return cmd
}

func run(ctx context.Context, cfg Config) error {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	loop := sched.NewLoop(ctx, cfg.Frame, logger)
	defer loop.Close()

	server := NewServer(loop, cfg.Documents, logger)
	httpServer := &http.Server{Addr: cfg.Addr, Handler: server.Router()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("API server starting", slog.String("addr", cfg.Addr), slog.Duration("frame", cfg.Frame))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
