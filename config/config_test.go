package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/matryer/is"
)

func TestDefaults(t *testing.T) {
	is := is.New(t)
	cfg := DefaultConfig()
	is.Equal(cfg.GetInt(ConfigGameHighWater), 100_000)
	is.Equal(cfg.GetInt(ConfigGameLowWater), 1000)
	is.Equal(cfg.GetInt64(ConfigGameSubLaps), int64(2_000_000_000))
	is.Equal(cfg.GetFloat64(ConfigWeightsStep), 0.1)
	is.Equal(cfg.DataPath(), "./data")
	is.Equal(cfg.Threads(), max(runtime.NumCPU()-1, 1))
}

func TestLoadFlagsAndArgs(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	cfg := &Config{}
	rest, err := cfg.Load([]string{"--data-path", dir, "--threads=3", "learn", "hands", "1000"})
	is.NoErr(err)
	is.Equal(rest, []string{"learn", "hands", "1000"})
	is.Equal(cfg.DataPath(), dir)
	is.Equal(cfg.Threads(), 3)
}

func TestLoadConfigFile(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("game-high-water: 42\nweights-bonus: 35\n"), 0o644)
	is.NoErr(err)
	cfg := &Config{}
	_, err = cfg.Load([]string{"--data-path", dir, "--weights-bonus", "40"})
	is.NoErr(err)
	is.Equal(cfg.GetInt(ConfigGameHighWater), 42)
	// flags win over the file
	is.Equal(cfg.GetInt(ConfigWeightsBonus), 40)
}

func TestEnv(t *testing.T) {
	is := is.New(t)
	t.Setenv("YATZY_GAME_LOW_WATER", "77")
	cfg := &Config{}
	_, err := cfg.Load([]string{"--data-path", t.TempDir()})
	is.NoErr(err)
	is.Equal(cfg.GetInt(ConfigGameLowWater), 77)
}

func TestAdjustRelativePaths(t *testing.T) {
	is := is.New(t)
	cfg := DefaultConfig()
	cfg.AdjustRelativePaths("/opt/yatzy")
	is.Equal(cfg.DataPath(), "/opt/yatzy/data")
	cfg.AdjustRelativePaths("/elsewhere")
	is.Equal(cfg.DataPath(), "/opt/yatzy/data")
}
