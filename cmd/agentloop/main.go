// agentloop runs the Cycle Supervisor standalone: load configuration, wire
// every component, start the self-rescheduling cycle loop, and drain on
// SIGINT/SIGTERM. Grounded on the teacher's cmd/cobra_cli.go (root command
// shape, viper config discovery) and cmd/alex/dev.go's
// signal.NotifyContext shutdown idiom.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agentloop/internal/autocoder"
	"agentloop/internal/config"
	"agentloop/internal/effect"
	"agentloop/internal/eventlog"
	"agentloop/internal/goal"
	"agentloop/internal/kvstore"
	"agentloop/internal/llmrouter"
	"agentloop/internal/localrun"
	"agentloop/internal/logging"
	"agentloop/internal/metrics"
	"agentloop/internal/ports"
	"agentloop/internal/reasoning"
	"agentloop/internal/supervisor"
)

var (
	bold = color.New(color.Bold).SprintFunc()
	red  = color.New(color.FgRed).SprintFunc()
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("%s %v\n", red("Error:"), err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath, metricsAddr string

	rootCmd := &cobra.Command{
		Use:   "agentloop",
		Short: "Persistent, time-driven supervisor for an autonomous personal assistant",
		Long: fmt.Sprintf(`%s

agentloop runs one cooperative cycle at a time: collect signals, compose a
prompt, route it to an LLM backend, parse the response into directives, and
dispatch their effects. Cycles self-reschedule based on signal load, cost
budget, and quiet hours rather than a fixed interval.`, bold("agentloop")),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(cmd.Context(), configPath, metricsAddr)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to agentloop config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve /metrics on (e.g. :9090); empty disables it")
	rootCmd.AddCommand(newValidateCommand(&configPath))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newValidateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate configuration without starting the engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, meta, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			fmt.Printf("config OK, loaded from %s\n", meta.LoadedAt().Format("2006-01-02 15:04:05"))
			fmt.Printf("  state_dir:  %s (%s)\n", cfg.StateDir, meta.Source("state_dir"))
			fmt.Printf("  cycle:      interval=%s cron=%q\n", cfg.CycleInterval, cfg.CycleCron)
			fmt.Printf("  backends:   %d registered\n", len(cfg.Backends))
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("agentloop dev")
		},
	}
}

// loadConfig resolves the config file path via viper (AGENTLOOP_CONFIG env,
// --config flag, or ./agentloop.yaml / $HOME/agentloop.yaml by convention)
// and hands the resolved path to internal/config.Load, which owns the
// actual env/file/override precedence.
func loadConfig(explicitPath string) (config.EngineConfig, config.Metadata, error) {
	v := viper.New()
	v.SetEnvPrefix("AGENTLOOP")
	v.AutomaticEnv()
	v.SetConfigName("agentloop")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME")
	v.AddConfigPath(".")

	path := explicitPath
	if path == "" {
		if env := v.GetString("config"); env != "" {
			path = env
		}
	}
	if path == "" {
		if err := v.ReadInConfig(); err == nil {
			path = v.ConfigFileUsed()
		}
	}

	var opts []config.Option
	if path != "" {
		opts = append(opts, config.WithFilePath(path))
	}
	return config.Load(opts...)
}

func runEngine(ctx context.Context, configPath, metricsAddr string) error {
	cfg, meta, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.CycleCron != "" {
		if err := supervisor.ValidateSchedule(cfg.CycleCron); err != nil {
			return err
		}
	}

	stateDir := expandHome(cfg.StateDir)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir %s: %w", stateDir, err)
	}

	logging.LogInfo("SUPERVISOR", "starting, state_dir=%s (%s), cycle_interval=%s", stateDir, meta.Source("state_dir"), cfg.CycleInterval)

	kv, err := kvstore.Open(kvstore.Config{FilePath: filepath.Join(stateDir, "kv.json"), Logger: logging.KVLogger})
	if err != nil {
		return fmt.Errorf("open kv store: %w", err)
	}
	goals, err := goal.Open(goal.Config{FilePath: filepath.Join(stateDir, "goals.json")})
	if err != nil {
		return fmt.Errorf("open goal store: %w", err)
	}
	relevance, err := reasoning.NewRelevanceIndex()
	if err != nil {
		return fmt.Errorf("open relevance index: %w", err)
	}

	toolBridge := localrun.NoopToolBridge{}
	coder := autocoder.New(autocoder.Config{}, toolBridge)

	dispatcher := effect.NewDispatcher(effect.Config{
		GroupAddresses: map[ports.MessageCategory]string{
			ports.CategoryAlerts:   "alerts",
			ports.CategoryHattrick: "hattrick",
			ports.CategoryDaily:    "daily",
		},
		ConfidenceGateEnabled: true,
	}, effect.Deps{
		Goals:      goals,
		Messenger:  localrun.StdoutMessenger{},
		ToolBridge: toolBridge,
		AutoCoder:  coder,
		Trust:      localrun.FixedTrust{},
		Gate:       localrun.LengthHeuristicGate{},
		Learning:   localrun.NoopLearningStore{},
		Logger:     logging.EffectLogger,
	})

	backends := make([]llmrouter.Backend, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		if !b.Enabled {
			continue
		}
		backends = append(backends, llmrouter.Backend{
			Name: b.Name, Tier: llmrouter.Tier(b.Tier), BaseURL: b.BaseURL, Model: b.Model, APIKey: b.APIKey,
		})
	}
	router := llmrouter.NewRouter(llmrouter.RouterConfig{
		Backends:      backends,
		ToolBridge:    toolBridge,
		Logger:        logging.RouterLogger,
		MaxToolRounds: cfg.ToolLoopMaxRounds,
	})

	reg := prometheus.NewRegistry()
	cycleMetrics := metrics.NewCycleMetrics(reg)

	engine := supervisor.New(supervisor.ConfigFromEngine(cfg), supervisor.Deps{
		KV:             kv,
		Goals:          goals,
		ErrorAnalytics: localrun.StaticErrorAnalytics{},
		Notifier:       localrun.StdoutNotifier{},
		Router:         router,
		Session:        reasoning.NewSession(),
		Relevance:      relevance,
		Dispatcher:     dispatcher,
		Events:         eventlog.New(),
		Logger:         logging.SupervisorLogger,
		OnCycle:        cycleMetrics.OnCycle,
	})

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if metricsAddr != "" {
		metricsSrv := &http.Server{Addr: metricsAddr, Handler: metrics.Handler(reg)}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.LogError("SUPERVISOR", "metrics server: %v", err)
			}
		}()
		go func() {
			<-runCtx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	go engine.Run(runCtx)
	<-runCtx.Done()

	logging.LogInfo("SUPERVISOR", "shutdown signal received, draining")
	return engine.Drain(context.Background())
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
