package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var keyCmd = &cobra.Command{
	Use:   "key <path>",
	Short: "Print the cache key for a file",
	Long:  "Print the key a file caches under: its path plus a digest of its content.",
	Args:  cobra.ExactArgs(1),
	RunE:  runKey,
}

func init() {
	rootCmd.AddCommand(keyCmd)
}

func runKey(cmd *cobra.Command, args []string) error {
	cache, err := openCache()
	if err != nil {
		return err
	}

	key, err := cache.ComputeKey(args[0])
	if err != nil {
		return err
	}

	fmt.Println(key)
	return nil
}
