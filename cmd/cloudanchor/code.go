package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var codeCmd = &cobra.Command{
	Use:   "code",
	Short: "Manage short codes",
}

var codeNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Allocate the next short code",
	Long: `Allocates the next short code from the selected backend. Codes are never
reused: the counter keeps the last code issued.`,
	Args: cobra.NoArgs,
	RunE: runCodeNext,
}

var codeCount int

func init() {
	codeCmd.AddCommand(codeNextCmd)

	codeNextCmd.Flags().IntVarP(&codeCount, "count", "n", 1, "Number of codes to allocate")
}

func runCodeNext(cmd *cobra.Command, args []string) error {
	if codeCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}

	c, err := openComponents()
	if err != nil {
		return err
	}
	defer c.close()

	for i := 0; i < codeCount; i++ {
		ctx, cancel := withTimeout(cmd.Context())
		code, err := c.allocator.NextCode(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("allocate short code: %w", err)
		}
		fmt.Println(code)
	}
	return nil
}
