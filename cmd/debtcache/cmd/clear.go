package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all cached data",
	Long:  "Remove every cached file and reset the index. With --project, shared test fixtures are kept.",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

func init() {
	clearCmd.Flags().Bool("project", false, "clear project components only")
	rootCmd.AddCommand(clearCmd)
}

func runClear(cmd *cobra.Command, args []string) error {
	cache, err := openCache()
	if err != nil {
		return err
	}

	project, _ := cmd.Flags().GetBool("project")
	if project {
		if err := cache.ClearProject(); err != nil {
			return fmt.Errorf("clear failed: %w", err)
		}
	} else {
		if err := cache.Clear(); err != nil {
			return fmt.Errorf("clear failed: %w", err)
		}
	}

	fmt.Fprintf(os.Stderr, "Cleared %s\n", cache.Location().CachePath())
	return nil
}
