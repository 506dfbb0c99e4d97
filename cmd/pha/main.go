// Command pha generates patient-centric SQL from a unified schema, either
// one-shot from a schema file or as an HTTP service over registered
// database connections.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/koustreak/pha/internal/config"
	"github.com/koustreak/pha/internal/connections"
	"github.com/koustreak/pha/internal/filestore"
	"github.com/koustreak/pha/internal/filestore/minio"
	"github.com/koustreak/pha/internal/logger"
	"github.com/koustreak/pha/internal/querygen"
	"github.com/koustreak/pha/internal/registry"
	"github.com/koustreak/pha/internal/schema"
	"github.com/koustreak/pha/internal/server"
	"github.com/koustreak/pha/internal/snapshot"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "pha",
		Short:        "Patient history query generator",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "Path to the YAML config file (defaults apply when empty)")

	root.AddCommand(serveCmd())
	root.AddCommand(generateCmd())
	root.AddCommand(inspectCmd())
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// --- serve ---

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
}

func runServer(ctx context.Context, cfg *config.Config) error {
	log := logger.New(&cfg.Log)

	fs, err := openFilestore(ctx, cfg)
	if err != nil {
		return err
	}
	var opts []connections.Option
	var store server.Snapshots
	if fs != nil {
		defer fs.Close()
		opts = append(opts, connections.WithRegistry(registry.New(fs, cfg.Filestore.Bucket, log)))
		store = snapshot.New(fs, cfg.Filestore.Bucket, log)
	}

	conns, err := connections.NewManager(cfg.Connections, log, opts...)
	if err != nil {
		return err
	}
	defer conns.Close()
	if err := conns.Restore(ctx); err != nil {
		return err
	}

	gen := querygen.New(cfg.GeneratorOptions()...)
	log.InfoWith("starting pha", map[string]any{
		"connections": len(conns.List()),
		"snapshots":   fs != nil,
		"column_cap":  gen.ColumnCap(),
	})
	return server.New(cfg, gen, conns, store, log).Run(ctx)
}

// openFilestore returns nil when object storage is disabled. Snapshots and
// runtime-registered connections share its bucket.
func openFilestore(ctx context.Context, cfg *config.Config) (filestore.Store, error) {
	if !cfg.Filestore.Enabled {
		return nil, nil
	}
	fs, err := minio.New(ctx, &cfg.Filestore)
	if err != nil {
		return nil, err
	}
	return fs, nil
}

// --- generate ---

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a query from a unified schema file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			file, _ := cmd.Flags().GetString("schema")
			patient, _ := cmd.Flags().GetString("patient")
			queryType, _ := cmd.Flags().GetString("type")
			limit, _ := cmd.Flags().GetInt("limit")
			root, _ := cmd.Flags().GetString("root")

			if !cmd.Flags().Changed("limit") {
				limit = cfg.Generator.DefaultLimit
			}
			return runGenerate(cmd.OutOrStdout(), cfg, file, querygen.Request{
				Patient:   querygen.ParsePatientFilter(patient),
				Limit:     limit,
				RootTable: root,
			}, queryType)
		},
	}
	cmd.Flags().String("schema", "", "Unified schema JSON file (- for stdin)")
	cmd.Flags().String("patient", "", "Patient identifier; empty or \"all\" disables the filter")
	cmd.Flags().String("type", "comprehensive", "Query type: basic, clinical, comprehensive or billing")
	cmd.Flags().Int("limit", 100, "Maximum number of rows")
	cmd.Flags().String("root", "", "Patient root table when the schema has several")
	_ = cmd.MarkFlagRequired("schema")
	return cmd
}

func runGenerate(out io.Writer, cfg *config.Config, file string, req querygen.Request, queryType string) error {
	s, err := readSchema(file)
	if err != nil {
		return err
	}
	req.Schema = s
	if req.Type, err = querygen.ParseQueryType(queryType); err != nil {
		return err
	}

	res, err := querygen.New(cfg.GeneratorOptions()...).Generate(req)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func readSchema(file string) (*schema.Unified, error) {
	if file == "-" {
		return schema.Decode(os.Stdin)
	}
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("open schema: %w", err)
	}
	defer f.Close()
	return schema.Decode(f)
}

// --- inspect ---

func inspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <connection>",
		Short: "Introspect a registered connection and print its unified schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			save, _ := cmd.Flags().GetBool("save")
			return runInspect(cmd.Context(), cmd.OutOrStdout(), cfg, args[0], save)
		},
	}
	cmd.Flags().Bool("save", false, "Store the result as the connection's snapshot")
	return cmd
}

func runInspect(ctx context.Context, out io.Writer, cfg *config.Config, name string, save bool) error {
	log := logger.New(&logger.Config{Level: cfg.Log.Level, Format: "console", Output: os.Stderr})

	fs, err := openFilestore(ctx, cfg)
	if err != nil {
		return err
	}
	var opts []connections.Option
	if fs != nil {
		defer fs.Close()
		opts = append(opts, connections.WithRegistry(registry.New(fs, cfg.Filestore.Bucket, log)))
	}

	conns, err := connections.NewManager(cfg.Connections, log, opts...)
	if err != nil {
		return err
	}
	defer conns.Close()
	if err := conns.Restore(ctx); err != nil {
		return err
	}

	u, err := conns.Inspect(ctx, name)
	if err != nil {
		return err
	}

	if save {
		if fs == nil {
			return fmt.Errorf("--save needs filestore.enabled in the config")
		}
		snap, err := snapshot.New(fs, cfg.Filestore.Bucket, log).Save(ctx, name, u)
		if err != nil {
			return err
		}
		log.InfoWith("snapshot saved", map[string]any{"connection": name, "sha256": snap.SHA256})
	}
	return schema.Encode(out, u)
}
