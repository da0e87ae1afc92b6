package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/vjranagit/patternsearch/internal/config"
)

// app carries the state shared by every subcommand of one invocation
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
}

// Execute runs the command line and exits non-zero on failure
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// NewRootCommand builds the patternsearch command tree
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "patternsearch",
		Short: "Find recorded sensor intervals that resemble a pattern",
		Long: `patternsearch archives multivariate sensor recordings and ranks the
intervals of the archive by their dynamic time warping distance to a
query pattern.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default ./patternsearch.yaml)")
	pf.String("backend", "", "storage backend: badger or influx")
	pf.String("data", "", "badger data directory")
	pf.String("log-level", "", "log level: debug, info, warn or error")
	pf.String("log-format", "", "log format: text or json")
	bindFlags(a.v, pf, map[string]string{
		"storage.backend": "backend",
		"storage.path":    "data",
		"log.level":       "log-level",
		"log.format":      "log-format",
	})

	root.AddCommand(
		newServeCommand(a),
		newIngestCommand(a),
		newSourcesCommand(a),
		newSearchCommand(a),
	)
	return root
}

// bindFlags maps config keys to flags. Unset flags leave the config file,
// environment and defaults in charge.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if f := fs.Lookup(name); f != nil {
			v.BindPFlag(key, f)
		}
	}
}

// init reads the config file and environment and sets up logging
func (a *app) init(cmd *cobra.Command) error {
	config.SetDefaults(a.v)
	config.BindEnv(a.v)

	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		a.v.SetConfigName("patternsearch")
		a.v.SetConfigType("yaml")
		a.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			a.v.AddConfigPath(filepath.Join(home, ".patternsearch"))
		}
	}

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if a.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}

	logger, err := cfg.Log.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if used := a.v.ConfigFileUsed(); used != "" {
		logger.Debug("config loaded", "file", used)
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}
