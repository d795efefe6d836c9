// Package main is the entry point for the DataDesk CLI. DataDesk answers
// natural-language business questions against a local data warehouse, using
// fast deterministic lookups where possible and an AI-generated query
// pipeline everywhere else.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/datadeskhq/datadesk/internal/classify"
	"github.com/datadeskhq/datadesk/internal/config"
	"github.com/datadeskhq/datadesk/internal/llm"
	"github.com/datadeskhq/datadesk/internal/logging"
	"github.com/datadeskhq/datadesk/internal/orchestrator"
	"github.com/datadeskhq/datadesk/internal/persona"
	"github.com/datadeskhq/datadesk/internal/server"
	"github.com/datadeskhq/datadesk/internal/session"
	"github.com/datadeskhq/datadesk/internal/tools"
	"github.com/datadeskhq/datadesk/internal/warehouse"
)

var (
	version = "0.1.0"
	cfgPath string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "datadesk",
		Short: "DataDesk - answer business questions from your data warehouse",
		Long: `DataDesk routes natural-language business questions through intent
classification, fast deterministic direct tools, and an AI query pipeline,
returning one consistent answer shape regardless of which path ran.

Start the API server:   datadesk serve
Ask one question:       datadesk ask "What is our equivalent of the VX-2000?"
Inspect configuration:  datadesk config show`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.datadesk/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("DataDesk v%s\n", version)
		},
	})
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(personasCmd())
	rootCmd.AddCommand(toolsCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgPath != "" {
		cfg, err = config.LoadFromPath(cfgPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// app bundles the wired pipeline for commands that answer questions.
type app struct {
	cfg        *config.Config
	personas   *persona.Registry
	store      *warehouse.DB
	dispatcher *tools.Dispatcher
	sessions   *session.Store
	orch       *orchestrator.Orchestrator
}

func buildApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logCfg := logging.Config{
		Level:  cfg.Logging.Level,
		File:   cfg.Logging.File,
		Pretty: cfg.Logging.Pretty,
	}
	if verbose {
		logCfg.Level = "debug"
	}
	if err := logging.Setup(logCfg); err != nil {
		return nil, fmt.Errorf("set up logging: %w", err)
	}

	personas, err := persona.LoadDir(cfg.Personas.Dir, cfg.Personas.Default)
	if err != nil {
		return nil, fmt.Errorf("load personas: %w", err)
	}

	provider, err := llm.NewProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("create LLM provider: %w", err)
	}

	store, err := warehouse.Open(cfg.Warehouse.Driver, cfg.Warehouse.DSN, warehouse.Options{
		QueryTimeout: cfg.Warehouse.QueryTimeout,
		MaxRows:      cfg.Warehouse.MaxRows,
	})
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}

	registry, err := buildToolRegistry(store, cfg.Personas.Default)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build tool registry: %w", err)
	}
	dispatcher := tools.NewDispatcher(registry)

	var sessions *session.Store
	if cfg.Session.Enabled {
		sessions, err = session.Open(cfg.Session.DBPath)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("open session store: %w", err)
		}
	}

	deps := orchestrator.Deps{
		Classifier: classify.NewLLMClassifier(provider, personas),
		Personas:   personas,
		Dispatcher: dispatcher,
		Store:      store,
		Generator:  warehouse.NewLLMGenerator(provider),
		Evaluator:  orchestrator.NewLLMEvaluator(provider, cfg.Pipeline.SampleRows),
		Provider:   provider,
		Pipeline:   cfg.Pipeline,
	}
	if sessions != nil {
		deps.Recorder = sessions
	}

	return &app{
		cfg:        cfg,
		personas:   personas,
		store:      store,
		dispatcher: dispatcher,
		sessions:   sessions,
		orch:       orchestrator.New(deps),
	}, nil
}

func (a *app) Close() {
	if a.sessions != nil {
		a.sessions.Close()
	}
	a.store.Close()
}

// buildToolRegistry registers the built-in direct tools. The competitor
// mapper serves the default persona; additional personas get tools as they
// are written.
func buildToolRegistry(store warehouse.Querier, defaultPersona string) (*tools.Registry, error) {
	mapper := tools.NewCompetitorMapper(store, "competitor_map", "products")
	return tools.NewBuilder().
		Register(defaultPersona, mapper.Descriptor()).
		Build()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := server.New(a.cfg.Server, a.orch, a.personas, a.dispatcher, a.sessions)
			return srv.ListenAndServe(ctx)
		},
	}
}

func askCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			env := a.orch.Handle(cmd.Context(), strings.Join(args, " "))
			if asJSON {
				return printJSON(env)
			}

			fmt.Printf("Path: %s", env.ExecutionPath)
			if env.Degraded {
				fmt.Print(" (degraded)")
			}
			fmt.Printf("\nPersona: %s\n\n%s\n", env.Classification.Persona, env.FinalAnswer)
			if eval := env.StageResults[orchestrator.StageEvaluation]; eval != nil && eval.Evaluation != nil {
				printEvaluation(eval.Evaluation)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full response envelope as JSON")
	return cmd
}

func printEvaluation(result *orchestrator.EvaluationResult) {
	if len(result.KeyFindings) > 0 {
		fmt.Println("\nKey findings:")
		for _, finding := range result.KeyFindings {
			fmt.Printf("  - %s\n", finding)
		}
	}
	if result.RecommendedAction != "" {
		fmt.Printf("\nRecommended action: %s\n", result.RecommendedAction)
	}
	fmt.Printf("Confidence: %s\n", result.ConfidenceLabel)
	if result.DataQualityNote != "" {
		fmt.Printf("Data quality: %s\n", result.DataQualityNote)
	}
}

func personasCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "personas",
		Short: "Manage persona bundles",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List loaded personas",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			personas, err := persona.LoadDir(cfg.Personas.Dir, cfg.Personas.Default)
			if err != nil {
				return err
			}
			for _, name := range personas.Names() {
				p, _ := personas.Get(name)
				marker := " "
				if name == personas.DefaultName() {
					marker = "*"
				}
				fmt.Printf("%s %-24s %s (tables: %s)\n",
					marker, p.Name, p.Description, strings.Join(p.TableNames(), ", "))
			}
			return nil
		},
	})
	return cmd
}

func toolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect direct tools",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered direct tools per persona",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			registry := a.dispatcher.Registry()
			for _, personaName := range registry.Personas() {
				fmt.Printf("%s:\n", personaName)
				for _, d := range registry.ForPersona(personaName) {
					fmt.Printf("  %-24s %s\n", d.Name, d.Description)
				}
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Run each tool's example triggers through its predicate",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			failures := 0
			for _, report := range a.dispatcher.Registry().SelfTest() {
				status := "ok"
				if !report.AllMatch {
					status = "FAIL"
					failures++
				}
				fmt.Printf("[%s] %s/%s\n", status, report.Persona, report.Tool)
				for trigger, matched := range report.Results {
					if !matched {
						fmt.Printf("       no match: %q\n", trigger)
					}
				}
			}
			if failures > 0 {
				return fmt.Errorf("%d tool(s) failed their example triggers", failures)
			}
			return nil
		},
	})
	return cmd
}

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect past question sessions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recent sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openSessions()
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), 20)
			if err != nil {
				return err
			}
			for _, e := range entries {
				flag := ""
				if e.Degraded {
					flag = " [degraded]"
				}
				fmt.Printf("%s  %-22s %s%s\n    %s\n", e.CreatedAt, e.ExecutionPath, e.Persona, flag, e.Question)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show one session in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openSessions()
			if err != nil {
				return err
			}
			defer store.Close()

			entry, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(entry)
		},
	})
	return cmd
}

func openSessions() (*session.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Session.Enabled {
		return nil, fmt.Errorf("session logging is disabled in configuration")
	}
	return session.Open(cfg.Session.DBPath)
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgPath
			if path == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("get home directory: %w", err)
				}
				path = home + "/.datadesk/config.yaml"
			}
			if err := config.Default().SaveToPath(path); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	})
	return cmd
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
