package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the cache version",
	Long:  "Check the cache against the current tool version, clearing it on mismatch.",
	Args:  cobra.NoArgs,
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cache, err := openCache()
	if err != nil {
		return err
	}

	valid, err := cache.ValidateVersion()
	if err != nil {
		return fmt.Errorf("validate failed: %w", err)
	}
	if valid {
		fmt.Println("Cache version OK")
	} else {
		fmt.Println("Cache was stale and has been cleared")
	}
	return nil
}
