// File: cmd/root.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/hlapp/phylosoc2007jestill/internal/config"
	"github.com/hlapp/phylosoc2007jestill/internal/observability"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "phyopt",
	Short: "phyopt maintains denormalized structural indexes over trees in a graph store.",
	Long: `phyopt recomputes two derived indexes per tree: nested-set interval
labels on every node and the materialized node_paths transitive closure.
Both are disposable caches rebuilt from the parent/child edge lists.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initializeConfig(); err != nil {
			return fmt.Errorf("failed to initialize configuration: %w", err)
		}
		if err := config.Load(viper.GetViper()); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		observability.InitializeLogger(config.Get().Logger)
		observability.GetLogger().Debug("Configuration loaded", zap.String("config_file", viper.ConfigFileUsed()))
		return nil
	},
}

// Execute adds all child commands to the root command and runs it.
// It accepts a context passed from main.go for graceful shutdown.
func Execute(ctx context.Context) error {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); ctx.Err() == nil {
			// Cancellation during shutdown is expected; anything else is not.
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(newOptimizeCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// initializeConfig reads in the config file and environment variables.
func initializeConfig() error {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("PHYOPT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// The database connection string is the one setting almost always
	// supplied through the environment, so bind it explicitly.
	_ = viper.BindEnv("database.url", "PHYOPT_DATABASE_URL")

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults plus environment
		// variables carry the run. Parse errors are not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}
