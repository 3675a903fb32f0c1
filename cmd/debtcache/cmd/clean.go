package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove orphaned or stale entries",
	Long:  "Remove index entries whose files are gone, or entries not accessed within a number of days.",
	Args:  cobra.NoArgs,
	RunE:  runClean,
}

func init() {
	cleanCmd.Flags().Bool("orphans", false, "remove index entries whose files are gone")
	cleanCmd.Flags().Int("older-than", -1, "remove entries not accessed in this many days")
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	cache, err := openCache()
	if err != nil {
		return err
	}

	orphans, _ := cmd.Flags().GetBool("orphans")
	olderThan, _ := cmd.Flags().GetInt("older-than")

	if !orphans && olderThan >= 0 {
		removed, err := cache.CleanupOldEntries(olderThan)
		if err != nil {
			return fmt.Errorf("clean failed: %w", err)
		}
		fmt.Printf("Removed %d stale entries\n", removed)
		return nil
	}

	// Orphan cleanup is the default when no age is given.
	removed, err := cache.CleanOrphanedEntries()
	if err != nil {
		return fmt.Errorf("clean failed: %w", err)
	}
	fmt.Printf("Removed %d orphaned entries\n", removed)
	return nil
}
