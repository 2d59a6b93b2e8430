package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"brand-catalog/internal/app/server"
	"brand-catalog/internal/config"
	"brand-catalog/internal/refresh"
	"brand-catalog/internal/seed"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "catalog",
	Short:         "Brand marketing catalog",
	Long:          "Serves brand popups and email campaigns and captures live popups from brand websites",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return server.Run(ctx, cfg)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the bundled schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *server.App) error {
			return a.Store.Migrate(ctx)
		})
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load brand reference data from a YAML file",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		brands, err := seed.Load(file)
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *server.App) error {
			return seed.Apply(ctx, a.Store, brands)
		})
	},
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture live popups for one brand, or for all brands",
	RunE: func(cmd *cobra.Command, args []string) error {
		brandID, _ := cmd.Flags().GetString("brand")
		return withApp(cmd.Context(), func(ctx context.Context, a *server.App) error {
			if brandID != "" {
				res, err := a.Refresh.CaptureBrandByID(ctx, brandID)
				if err != nil {
					return err
				}
				log.Info().Str("brand_id", res.BrandID).Int("items", res.Items).Msg("Successfully fetched popup content")
				return nil
			}

			results, err := a.Refresh.CaptureAll(ctx)
			if err != nil {
				return err
			}
			for _, r := range results {
				if r.Err != nil {
					log.Error().Err(r.Err).Str("brand_id", r.BrandID).Str("name", r.Name).Msg("capture failed")
				}
			}
			ok, failed := refresh.Summary(results)
			log.Info().Int("succeeded", ok).Int("failed", failed).Msg("capture finished")
			if failed > 0 {
				return fmt.Errorf("%d of %d brands failed", failed, len(results))
			}
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default configs/application.yaml)")
	seedCmd.Flags().String("file", "configs/brands.yaml", "brand YAML file")
	captureCmd.Flags().String("brand", "", "brand id (default: all brands)")

	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd, captureCmd)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	config.SetupLogging(cfg.Server.LogLevel, cfg.Server.LogFormat)
	return cfg, nil
}

func withApp(ctx context.Context, fn func(context.Context, *server.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := server.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
