package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/MarcoPoloResearchLab/coursepack/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "coursepack",
		Short:         "Course archive import service",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newServeCommand(), newImportCommand(), newTokenCommand())
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	flags.String("database-dsn", defaults.GetString("database.dsn"), "Database DSN or SQLite path")
	flags.String("signing-secret", "", "Upload token signing secret (overrides env)")
	flags.String("upload-dir", defaults.GetString("import.upload_dir"), "Directory holding published course archives")
	flags.String("preview-dir", defaults.GetString("import.preview_dir"), "Directory holding extracted course previews")
	flags.String("temp-dir", defaults.GetString("import.temp_dir"), "Root for per-import workspaces")
	flags.String("storage-driver", defaults.GetString("storage.driver"), "Archive storage driver (local, gcs)")
	flags.String("lock-driver", defaults.GetString("lock.driver"), "Import lock driver (local, redis)")
	flags.Bool("tracing", defaults.GetBool("tracing.enabled"), "Export pipeline spans to stderr")

	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "import.upload_dir", "upload-dir")
	bindFlag(cmd, "import.preview_dir", "preview-dir")
	bindFlag(cmd, "import.temp_dir", "temp-dir")
	bindFlag(cmd, "storage.driver", "storage-driver")
	bindFlag(cmd, "lock.driver", "lock-driver")
	bindFlag(cmd, "tracing.enabled", "tracing")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}
