// Package cli implements the reportq command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mohans/reportq/internal/config"
)

const serviceName = "reportq"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "reportq",
	Short:        "Queued report generation with tracked task records",
	SilenceUsage: true,
}

// Execute is the entry point called from cmd/reportq/main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: ./reportq.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug | info | warn | error")
	rootCmd.PersistentFlags().String("db-driver", "sqlite", "database driver: sqlite | pgx")
	rootCmd.PersistentFlags().String("db-dsn", "", "database DSN")
	rootCmd.PersistentFlags().String("redis-addr", "localhost:6379", "Redis address (host:port)")
	bindFlag("log_level", rootCmd.PersistentFlags(), "log-level")
	bindFlag("db_driver", rootCmd.PersistentFlags(), "db-driver")
	bindFlag("db_dsn", rootCmd.PersistentFlags(), "db-dsn")
	bindFlag("redis_addr", rootCmd.PersistentFlags(), "redis-addr")

	rootCmd.AddCommand(newInitCmd(defaultYAML))
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	config.SetDefaults(viper.GetViper())
	config.BindEnv(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, _ := os.UserHomeDir()
		viper.SetConfigName(serviceName)
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath(home + "/.reportq")
		viper.AddConfigPath("/etc/reportq")
	}

	if err := viper.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "error reading config file:", err)
			os.Exit(1)
		}
	} else {
		fmt.Fprintln(os.Stderr, "config:", viper.ConfigFileUsed())
	}
}

func bindFlag(viperKey string, fs *pflag.FlagSet, flagName string) {
	if err := viper.BindPFlag(viperKey, fs.Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("bindFlag %q → %q: %v", flagName, viperKey, err))
	}
}
