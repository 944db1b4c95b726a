// Package main provides the MnemosDB CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/orneryd/mnemosdb/pkg/config"
	"github.com/orneryd/mnemosdb/pkg/mnemosdb"
	"github.com/orneryd/mnemosdb/pkg/ontology"
	"github.com/orneryd/mnemosdb/pkg/storage"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mnemosdb",
		Short: "MnemosDB - Embedded graph + vector store for agent memory",
		Long: `MnemosDB is an embedded graph-plus-vector storage engine for
personal-memory knowledge graphs.

Features:
  • Typed nodes and directed edges with deterministic ordering
  • Multi-space vector search with exact cosine ranking
  • Pipeline query executor over store primitives
  • Persistent BadgerDB or in-memory storage`,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("MnemosDB v%s (%s)\n", version, commit)
		},
	})

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new MnemosDB database",
		Long:  "Create the data directory, open the engine once, and seed the concept tree if configured.",
		RunE:  runInit,
	}
	initCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	rootCmd.AddCommand(initCmd)

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the concept ontology",
		Long: `Load the built-in concept tree into the database.

Loading is not idempotent: running seed against a database that already
holds the tree creates a duplicate copy. The command refuses in that case
unless --force is given.`,
		RunE: runSeed,
	}
	seedCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	seedCmd.Flags().Bool("force", false, "Seed even if the concept tree already exists")
	rootCmd.AddCommand(seedCmd)

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print node and vector counts",
		RunE:  runStats,
	}
	statsCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	rootCmd.AddCommand(statsCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error("command failed", "err", err)
		os.Exit(1)
	}
}

// loadConfig resolves config file, env overrides, and command-line flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.Storage.DataDir = dir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Logging.Level {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
	return cfg, nil
}

// openEngine opens the configured storage engine.
func openEngine(cfg *config.Config) (storage.BatchEngine, error) {
	if cfg.Storage.Engine == config.EngineMemory {
		return storage.NewMemoryEngine(), nil
	}
	return storage.NewBadgerEngineWithOptions(storage.BadgerOptions{
		DataDir:    cfg.Storage.DataDir,
		SyncWrites: cfg.Storage.SyncWrites,
	})
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	engine, err := openEngine(cfg)
	if err != nil {
		return err
	}
	db := mnemosdb.Open(engine)
	defer db.Close()

	log.Info("database initialized", "engine", cfg.Storage.Engine, "dir", cfg.Storage.DataDir)

	if cfg.Ontology.SeedOnInit {
		ok, err := ontology.Exists(engine)
		if err != nil {
			return err
		}
		if ok {
			log.Info("concept tree already present, skipping seed")
			return nil
		}
		return ontology.Load(engine)
	}
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	force, _ := cmd.Flags().GetBool("force")

	engine, err := openEngine(cfg)
	if err != nil {
		return err
	}
	db := mnemosdb.Open(engine)
	defer db.Close()

	if !force {
		ok, err := ontology.Exists(engine)
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("concept tree already present; use --force to load another copy")
		}
	}
	return ontology.Load(engine)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	engine, err := openEngine(cfg)
	if err != nil {
		return err
	}
	db := mnemosdb.Open(engine)
	defer db.Close()

	stats, err := db.GetStats(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Println("Nodes:")
	for _, typ := range []storage.NodeType{
		storage.NodeUser, storage.NodeMemory, storage.NodeContext,
		storage.NodeEntity, storage.NodeConcept, storage.NodeMemoryChunk,
		storage.NodeDocPage, storage.NodeDocChunk, storage.NodeCodeExample,
	} {
		fmt.Printf("  %-12s %d\n", typ, stats.Nodes[typ])
	}
	fmt.Println("Vectors:")
	for space, n := range stats.Vectors {
		fmt.Printf("  %-16s %d\n", space, n)
	}
	return nil
}
