package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marimax/cloudanchor/internal/models"
)

var anchorCmd = &cobra.Command{
	Use:   "anchor",
	Short: "Store and look up short code associations",
}

var anchorStoreCmd = &cobra.Command{
	Use:   "store [code] [cloud-anchor-id]",
	Short: "Associate a short code with a cloud anchor ID",
	Args:  cobra.ExactArgs(2),
	RunE:  runAnchorStore,
}

var anchorLookupCmd = &cobra.Command{
	Use:   "lookup [code]",
	Short: "Look up the cloud anchor ID of a short code",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnchorLookup,
}

func init() {
	anchorCmd.AddCommand(anchorStoreCmd, anchorLookupCmd)
}

func runAnchorStore(cmd *cobra.Command, args []string) error {
	code, err := parseCodeArg(args[0])
	if err != nil {
		return err
	}

	c, err := openComponents()
	if err != nil {
		return err
	}
	defer c.close()

	ctx, cancel := withTimeout(cmd.Context())
	defer cancel()
	if err := c.registry.Store(ctx, code, args[1]); err != nil {
		return err
	}

	fmt.Printf("Stored %s -> %s\n", code, args[1])
	return nil
}

func runAnchorLookup(cmd *cobra.Command, args []string) error {
	code, err := parseCodeArg(args[0])
	if err != nil {
		return err
	}

	c, err := openComponents()
	if err != nil {
		return err
	}
	defer c.close()

	ctx, cancel := withTimeout(cmd.Context())
	defer cancel()
	anchorID, found, err := c.registry.Lookup(ctx, code)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("a cloud anchor ID for the short code %s was not found", code)
	}

	fmt.Println(anchorID)
	return nil
}

func parseCodeArg(s string) (models.Code, error) {
	code, err := models.ParseCode(s)
	if err != nil || !code.Valid() {
		return 0, fmt.Errorf("invalid short code %q", s)
	}
	return code, nil
}
