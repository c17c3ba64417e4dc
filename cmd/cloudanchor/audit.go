package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/marimax/cloudanchor/internal/controlplane"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the daemon's audit log",
	Args:  cobra.NoArgs,
	RunE:  runAudit,
}

var (
	auditLimit int
	auditJSON  bool
)

func init() {
	auditCmd.Flags().IntVar(&auditLimit, "limit", 20, "Maximum number of records")
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "Print records as JSON")
}

func runAudit(cmd *cobra.Command, args []string) error {
	client := controlplane.NewClient(cfg.DaemonAPIAddr())
	entries, err := client.Audit(cmd.Context(), auditLimit)
	if err != nil {
		return err
	}

	if auditJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No audit records found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tOUTCOME\tSUBJECT\tDETAILS")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime),
			e.Action,
			e.Outcome,
			e.Subject,
			truncate(e.Details, 60),
		)
	}
	return w.Flush()
}

// --- Helpers ---

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
