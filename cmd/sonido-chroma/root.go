package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/RyanBlaney/sonido-chroma/configs"
	"github.com/RyanBlaney/sonido-chroma/logging"
)

var (
	configFile string
	v          = configs.New()
)

// configKeyAnnotation names the config key a flag binds to when it is not
// the flag name with dashes replaced.
const configKeyAnnotation = "sonido-chroma/config-key"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sonido-chroma",
	Short: "Harmonic constant-Q features and learned chroma",
	Long: `Computes harmonic constant-Q (HCQT) pitch features for audio files,
resampled to a fixed feature rate, and scores them with a pretrained
convolutional model to produce 12-bin chroma.

Commands:
- extract: batch feature extraction to .npz archives
- apply:   batch chroma estimation with a selected model
- models:  list the supported model identifiers`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := bindFlags(cmd, v); err != nil {
			return err
		}
		return initLogging()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file (default is ./sonido-chroma.yaml or $HOME/.config/sonido-chroma/sonido-chroma.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("no-color", false,
		"disable colored log output")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "sonido-chroma"))
		}
		v.SetConfigName("sonido-chroma")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
			os.Exit(1)
		}
	}
}

// bindFlags binds each cobra flag to its config key: dashes become
// underscores, so --feature-rate sets feature_rate, unless the flag carries
// a configKeyAnnotation.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var lastErr error

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "help" {
			return
		}
		key := strings.ReplaceAll(f.Name, "-", "_")
		if keys := f.Annotations[configKeyAnnotation]; len(keys) > 0 {
			key = keys[0]
		}

		// Bound flags only override the config when set explicitly.
		if err := v.BindPFlag(key, f); err != nil {
			lastErr = err
		}
	})

	return lastErr
}

func initLogging() error {
	level, err := logging.ParseLevel(v.GetString("log_level"))
	if err != nil {
		return err
	}
	logging.GetGlobalLogger().SetLevel(level)
	if v.GetBool("no_color") {
		logging.DisableColors()
	}
	return nil
}

// loadConfig decodes and validates the merged configuration.
func loadConfig() (*configs.Config, error) {
	cfg, err := configs.LoadConfig(v)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
