package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/repository/cache"
	"github.com/spf13/cobra"
)

// inspectCmd dumps the headers of cached tile files
var inspectCmd = &cobra.Command{
	Use:   "inspect FILE...",
	Short: "Print the headers and payload size of cached tile files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  inspectRunE,
}

func inspectRunE(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var c cache.Container
		if err := c.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		fmt.Fprintf(out, "%s\n  payload: %s\n", path, humanize.IBytes(uint64(len(c.Payload))))

		keys := make([]string, 0, len(c.Headers))
		for k := range c.Headers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "  %s: %s\n", k, c.Headers[k])
		}

		if expiry, ok := c.Expiry(); ok {
			at := time.UnixMilli(expiry)
			fmt.Fprintf(out, "  expires: %s (%s)\n", at.Format(time.RFC3339), humanize.Time(at))
		}
	}

	return nil
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
