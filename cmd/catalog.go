package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/cookbook/internal/artifacts"
	"github.com/lehigh-university-libraries/cookbook/internal/catalog"
	"github.com/lehigh-university-libraries/cookbook/internal/config"
)

func newCatalogCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the recipe catalog and prepare its artifacts",
	}

	cmd.AddCommand(newCatalogValidateCmd(opts))
	cmd.AddCommand(newCatalogPickCmd(opts))
	cmd.AddCommand(newCatalogWarmCmd(opts))

	return cmd
}

// openCatalog opens the configured store and loads the catalog source into it
func openCatalog(ctx context.Context, cfg *config.Config) (*catalog.Store, error) {
	src, err := catalog.OpenSource(cfg.Catalog.Source)
	if err != nil {
		return nil, err
	}

	store, err := catalog.Open(cfg.Catalog.DBPath)
	if err != nil {
		return nil, err
	}

	if _, err := store.Load(ctx, src); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load catalog %s: %w", cfg.Catalog.Source, err)
	}
	return store, nil
}

func loadValidConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newCatalogValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the catalog source and report problems",
		Example: `  cookbook catalog validate --catalog assets/index.json
  cookbook catalog validate --catalog recipes.parquet`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidConfig(opts)
			if err != nil {
				return err
			}

			store, err := openCatalog(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.All(cmd.Context())
			if err != nil {
				return err
			}

			pictures := 0
			for _, rec := range records {
				if rec.HasPicture {
					pictures++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d recipes, %d with pictures\n", cfg.Catalog.Source, len(records), pictures)
			return nil
		},
	}
}

func newCatalogPickCmd(opts *rootOptions) *cobra.Command {
	var exclude []int64

	cmd := &cobra.Command{
		Use:   "pick",
		Short: "Print one random recipe as JSON",
		Example: `  # Pick any recipe
  cookbook catalog pick

  # Pick a recipe other than 1, 2 and 7
  cookbook catalog pick --exclude 1,2,7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidConfig(opts)
			if err != nil {
				return err
			}

			store, err := openCatalog(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			rec, ok, err := store.PickExcluding(cmd.Context(), exclude)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no recipe left outside the %d excluded ids", len(exclude))
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}

	cmd.Flags().Int64SliceVar(&exclude, "exclude", nil, "Record ids that must not be picked")

	return cmd
}

func newCatalogWarmCmd(opts *rootOptions) *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Produce the PDF extract and image of every recipe ahead of time",
		Long: `Runs the extraction and render tools for every recipe whose artifacts are not
cached yet, so the bot never waits on them. Existing artifacts are kept.`,
		Example: `  cookbook catalog warm --concurrency 8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidConfig(opts)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("concurrency") {
				cfg.Tools.MaxConcurrent = concurrency
			}

			store, err := openCatalog(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.All(cmd.Context())
			if err != nil {
				return err
			}

			start := time.Now()
			cache := artifacts.New(artifactsConfig(cfg), nil)
			if err := cache.Warm(cmd.Context(), records, cfg.Tools.MaxConcurrent); err != nil {
				return err
			}
			slog.Info("Artifacts ready", "recipes", len(records), "root", cfg.Cache.Root, "elapsed", time.Since(start))
			return nil
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Number of recipes processed at once")

	return cmd
}
