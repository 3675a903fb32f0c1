package cmd

import (
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/debtmap/debtcache"
)

var rootCmd = &cobra.Command{
	Use:   "debtcache",
	Short: "Shared analysis cache CLI",
	Long:  "CLI for inspecting and maintaining the shared debtmap analysis cache.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ~/.config/debtcache/config.yaml)")
	rootCmd.PersistentFlags().String("cache-dir", "", "cache directory (default: the shared per-project location)")
	rootCmd.PersistentFlags().String("repo", "", "project path the cache belongs to (default: current directory)")
	rootCmd.PersistentFlags().Bool("local", false, "use the in-repo cache under .debtmap/cache")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	viper.BindPFlag("cache_dir", rootCmd.PersistentFlags().Lookup("cache-dir"))
	viper.BindPFlag("repo", rootCmd.PersistentFlags().Lookup("repo"))
	viper.BindPFlag("local", rootCmd.PersistentFlags().Lookup("local"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}

func initConfig() {
	if cfg := rootCmd.PersistentFlags().Lookup("config").Value.String(); cfg != "" {
		viper.SetConfigFile(cfg)
	} else {
		viper.AddConfigPath(configDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("DEBTCACHE")
	viper.AutomaticEnv()

	viper.ReadInConfig()

	if viper.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
	}
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "debtcache")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "debtcache")
	}
	return ".debtcache"
}

// openCache builds the cache from the persistent flags. CLI invocations
// are short lived, so pruning stays on the calling goroutine.
func openCache() (*debtcache.SharedCache, error) {
	opts := []debtcache.Option{debtcache.WithoutBackgroundPruning()}
	if dir := viper.GetString("cache_dir"); dir != "" {
		opts = append(opts, debtcache.WithCacheDir(dir))
	}
	if viper.GetBool("local") {
		opts = append(opts, debtcache.WithLocalCache())
	}
	return debtcache.New(viper.GetString("repo"), opts...)
}
