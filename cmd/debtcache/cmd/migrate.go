package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate <local-cache-dir>",
	Short: "Migrate a legacy cache directory",
	Long:  "Copy the contents of a legacy cache directory into the resolved cache location.",
	Args:  cobra.ExactArgs(1),
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cache, err := openCache()
	if err != nil {
		return err
	}

	if err := cache.MigrateFromLocal(args[0]); err != nil {
		return fmt.Errorf("migrate failed: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Done. Cache: %s\n", cache.Location().CachePath())
	return nil
}
