package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/TumorPatch/internal/config"
	"github.com/TobiSchelling/TumorPatch/internal/database"
	"github.com/TobiSchelling/TumorPatch/internal/pipeline"
	"github.com/TobiSchelling/TumorPatch/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "tumorpatch",
	Short:   "Patch-level histology features inside annotated tumor regions",
	Long:    "tumorpatch selects the tiles of a slide that overlap expert tumor annotations, cuts them into fixed-size patches and stores one feature record per patch.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configureLogging(config.Logging{})

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		applyOverrides(cmd)
		configureLogging(cfg.Logging)
		return nil
	},
}

// configureLogging applies logging.level; --verbose always wins.
func configureLogging(l config.Logging) {
	log.SetOutput(os.Stderr)
	log.SetFlags(log.LstdFlags)
	switch {
	case verbose || l.Debug():
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	case l.Quiet():
		log.SetOutput(io.Discard)
	}
}

var dbPath string

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "b", "", "Feature database path (overrides output.database)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(patchesCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("tumorpatch", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/tumorpatch/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to set the work directory, slide resolution and annotation file.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Database: %s\n\n", db.Path())
		fmt.Println("Runs:")
		fmt.Printf("  Total: %d\n", stats.Runs)
		fmt.Printf("  Completed: %d\n", stats.CompletedRuns)
		fmt.Printf("  Failed: %d\n", stats.FailedRuns)
		fmt.Println("\nFeatures:")
		fmt.Printf("  Patch records: %d\n", stats.PatchFeatures)
		fmt.Printf("  Cases: %d\n", stats.Cases)

		runs, err := db.GetRuns()
		if err != nil {
			return err
		}
		if len(runs) > 0 {
			fmt.Println("\nRecent runs:")
			for i, r := range runs {
				if i == 5 {
					break
				}
				stored, err := db.CountPatchFeatures(r.ID)
				if err != nil {
					return fmt.Errorf("counting patches of run %s: %w", r.ID, err)
				}
				fmt.Printf("  %s  %-10s %s by %s, %d patches (%d stored)\n", r.ID, r.Status, r.CaseID, r.Annotator, r.PatchesWritten, stored)
			}
		}
		return nil
	},
}

// --- run command ---

var (
	dryRun      bool
	caseID      string
	annotator   string
	patchSize   int
	workDir     string
	annotations string
	workers     int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline: annotations -> discover -> select -> join -> extract -> report",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		var (
			result *pipeline.Result
			err    error
		)
		if dryRun {
			result, err = pipeline.New(cfg, nil).DryRun(ctx)
		} else {
			db, openErr := openDB()
			if openErr != nil {
				return openErr
			}
			defer db.Close()
			result, err = pipeline.New(cfg, db).Run(ctx)
		}

		for i, step := range result.Steps {
			fmt.Printf("\nStep %d: %s\n", i+1, step.Name)
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
			} else {
				fmt.Printf("  %s\n", step.Summary)
			}
		}
		if err != nil {
			return err
		}

		if !dryRun {
			fmt.Printf("\nRun %s complete! Run 'tumorpatch serve' to view the report.\n", result.RunID)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Select and join tiles without reading pixels or writing records")
	runCmd.Flags().StringVarP(&caseID, "case", "s", "", "Slide / case identifier")
	runCmd.Flags().StringVarP(&annotator, "annotator", "u", "", "User who marked the tumor regions")
	runCmd.Flags().IntVarP(&patchSize, "patch-size", "p", 0, "Patch edge length in pixels")
	runCmd.Flags().StringVar(&workDir, "work-dir", "", "Directory holding one sub-directory per case")
	runCmd.Flags().StringVar(&annotations, "annotations", "", "GeoJSON file with tumor annotations")
	runCmd.Flags().IntVar(&workers, "workers", 0, "Number of feature extraction workers")
}

// applyOverrides copies explicitly set flags over the loaded configuration.
func applyOverrides(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.Output.Database = dbPath
	}
	if flags.Changed("case") {
		cfg.Run.CaseID = caseID
	}
	if flags.Changed("annotator") {
		cfg.Run.Annotator = annotator
	}
	if flags.Changed("patch-size") {
		cfg.Run.PatchSize = patchSize
	}
	if flags.Changed("work-dir") {
		cfg.Data.WorkDir = workDir
	}
	if flags.Changed("annotations") {
		cfg.Annotations.Path = annotations
	}
	if flags.Changed("workers") && workers > 0 {
		cfg.Processing.Workers = workers
	}
	if flags.Changed("port") {
		cfg.Server.Port = servePort
	}
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		fmt.Printf("Starting server at http://localhost:%d\n", cfg.Server.Port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(db, cfg.Server.Port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}

// --- patches command ---

var patchesCmd = &cobra.Command{
	Use:   "patches [run-id]",
	Short: "Print the patch records of a run as JSON lines (latest run by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		var runID string
		if len(args) == 1 {
			runID = args[0]
		} else {
			runs, err := db.GetRuns()
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				return fmt.Errorf("no runs recorded in %s", db.Path())
			}
			runID = runs[0].ID
		}

		run, err := db.GetRun(runID)
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("run %s not found", runID)
		}

		features, err := db.GetPatchFeatures(run.ID)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		for i := range features {
			if err := enc.Encode(&features[i]); err != nil {
				return err
			}
		}
		return nil
	},
}

func openDB() (*database.DB, error) {
	return database.Open(cfg.GetDatabasePath())
}
