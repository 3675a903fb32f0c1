package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/debtmap/debtcache"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Evict cache entries",
	Long:  "Evict entries according to the configured pruning limits and strategy.",
	Args:  cobra.NoArgs,
	RunE:  runPrune,
}

func init() {
	pruneCmd.Flags().String("strategy", "", "eviction strategy: lru, lfu, fifo, or age")
	pruneCmd.Flags().Bool("if-needed", false, "prune only when the cache exceeds its limits")
	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, args []string) error {
	cache, err := openCache()
	if err != nil {
		return err
	}

	strategy, _ := cmd.Flags().GetString("strategy")
	ifNeeded, _ := cmd.Flags().GetBool("if-needed")

	var stats debtcache.PruneStats
	switch {
	case ifNeeded:
		stats, err = cache.PruneIfNeeded()
	case strategy != "":
		stats, err = cache.PruneWithStrategy(debtcache.ParsePruneStrategy(strategy))
	default:
		stats, err = cache.Prune()
	}
	if err != nil {
		return fmt.Errorf("prune failed: %w", err)
	}

	fmt.Println(stats)
	return nil
}
