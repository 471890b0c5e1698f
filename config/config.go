package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	ConfigDataPath        = "data-path"
	ConfigDebug           = "debug"
	ConfigCPUProfile      = "cpu-profile"
	ConfigMemProfile      = "mem-profile"
	ConfigThreads         = "threads"
	ConfigReservedThreads = "reserved-threads"
	ConfigSaveAttempts    = "save-attempts"

	ConfigGameHighWater       = "game-high-water"
	ConfigGameLowWater        = "game-low-water"
	ConfigGameSubLaps         = "game-sub-laps"
	ConfigGameCheckpointEvery = "game-checkpoint-every"
	ConfigGameProducers       = "game-producers"
	ConfigGameLogEvery        = "game-log-every"
	ConfigGameLogFile         = "game-log-file"

	ConfigWeightsEvalLaps        = "weights-eval-laps"
	ConfigWeightsValidationLaps  = "weights-validation-laps"
	ConfigWeightsPopulation      = "weights-population"
	ConfigWeightsStep            = "weights-step"
	ConfigWeightsBonus           = "weights-bonus"
	ConfigWeightsMergeDuplicates = "weights-merge-duplicates"
)

// Config is every setting of the program, layered as defaults, an optional
// config.yaml, YATZY_* environment variables and command-line flags.
type Config struct {
	*viper.Viper
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(ConfigDataPath, "./data")
	v.SetDefault(ConfigDebug, false)
	v.SetDefault(ConfigCPUProfile, "")
	v.SetDefault(ConfigMemProfile, "")
	v.SetDefault(ConfigThreads, 0)
	v.SetDefault(ConfigReservedThreads, 1)
	v.SetDefault(ConfigSaveAttempts, 1)

	v.SetDefault(ConfigGameHighWater, 100_000)
	v.SetDefault(ConfigGameLowWater, 1000)
	v.SetDefault(ConfigGameSubLaps, 2_000_000_000)
	v.SetDefault(ConfigGameCheckpointEvery, 10_000_000)
	v.SetDefault(ConfigGameProducers, 0)
	v.SetDefault(ConfigGameLogEvery, 0)
	v.SetDefault(ConfigGameLogFile, "")

	v.SetDefault(ConfigWeightsEvalLaps, 100)
	v.SetDefault(ConfigWeightsValidationLaps, 1_000_000)
	v.SetDefault(ConfigWeightsPopulation, 1000)
	v.SetDefault(ConfigWeightsStep, 0.1)
	v.SetDefault(ConfigWeightsBonus, 50)
	v.SetDefault(ConfigWeightsMergeDuplicates, false)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("YATZY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// DefaultConfig has every default and nothing from the environment of the
// machine beyond YATZY_* variables.
func DefaultConfig() *Config {
	return &Config{Viper: newViper()}
}

// Load parses args and returns the positional arguments left over, which
// the caller treats as a command line.
func (c *Config) Load(args []string) ([]string, error) {
	c.Viper = newViper()

	fs := pflag.NewFlagSet("yatzy", pflag.ContinueOnError)
	fs.String(ConfigDataPath, "./data", "directory holding every learned table")
	fs.Bool(ConfigDebug, false, "debug logging on")
	fs.String(ConfigCPUProfile, "", "file to write a CPU profile to")
	fs.String(ConfigMemProfile, "", "file to write a heap profile to on exit")
	fs.Int(ConfigThreads, 0, "worker threads; 0 means one per CPU")
	fs.Int(ConfigReservedThreads, 1, "threads kept free for the reducer")
	fs.Int(ConfigSaveAttempts, 1, "attempts at writing a large table before giving up")
	fs.Int(ConfigGameHighWater, 100_000, "episodes producers may run ahead before they are stalled")
	fs.Int(ConfigGameLowWater, 1000, "backlog at which stalled producers are released")
	fs.Int64(ConfigGameSubLaps, 2_000_000_000, "largest number of game laps between full saves")
	fs.Int64(ConfigGameCheckpointEvery, 10_000_000, "episodes between checkpoints of the game accumulator")
	fs.Int(ConfigGameProducers, 0, "game producers; 0 means the worker thread count")
	fs.Int(ConfigGameLogEvery, 0, "write every nth game to the game log; 0 is off")
	fs.String(ConfigGameLogFile, "", "YAML game log file")
	fs.Int(ConfigWeightsEvalLaps, 100, "games played to rank one weight candidate")
	fs.Int(ConfigWeightsValidationLaps, 1_000_000, "games played to validate a batch winner")
	fs.Int(ConfigWeightsPopulation, 1000, "weight vectors kept between generations")
	fs.Float64(ConfigWeightsStep, 0.1, "weight perturbation step")
	fs.Int(ConfigWeightsBonus, 50, "upper bonus value used while searching weights")
	fs.Bool(ConfigWeightsMergeDuplicates, false, "merge population records with identical weights")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := c.BindPFlags(fs); err != nil {
		return nil, err
	}

	c.SetConfigName("config")
	c.SetConfigType("yaml")
	c.AddConfigPath(c.GetString(ConfigDataPath))
	c.AddConfigPath("$HOME/.yatzy")
	if err := c.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		log.Info().Str("file", c.ConfigFileUsed()).Msg("read-config-file")
	}
	return fs.Args(), nil
}

// AdjustRelativePaths makes the data path absolute, relative to basepath,
// unless it already is.
func (c *Config) AdjustRelativePaths(basepath string) {
	p := c.GetString(ConfigDataPath)
	if !filepath.IsAbs(p) {
		c.Set(ConfigDataPath, filepath.Join(basepath, p))
	}
}

// DataPath is the directory of all table files.
func (c *Config) DataPath() string {
	return c.GetString(ConfigDataPath)
}

// Threads is the number of worker goroutines: the configured count, or the
// CPU count minus the reserved threads. It is at least one.
func (c *Config) Threads() int {
	n := c.GetInt(ConfigThreads)
	if n <= 0 {
		n = runtime.NumCPU() - c.GetInt(ConfigReservedThreads)
	}
	return max(n, 1)
}

// SanitizedSettings returns all settings for logging.
func (c *Config) SanitizedSettings() map[string]any {
	return c.AllSettings()
}
