package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/marimax/cloudanchor/internal/cloudanchor"
	"github.com/marimax/cloudanchor/internal/models"
	"github.com/marimax/cloudanchor/internal/scheduler"
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Host an anchor and publish its short code",
	Long: `Places an anchor at the origin, hosts it with the simulated cloud anchor
service and stores its cloud anchor ID under a newly allocated short code.`,
	Args: cobra.NoArgs,
	RunE: runHost,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve [code]",
	Short: "Resolve the anchor published under a short code",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolve,
}

func runHost(cmd *cobra.Command, args []string) error {
	c, err := openComponents()
	if err != nil {
		return err
	}
	defer c.close()

	session := c.newSession(cfg.Simulated, printMessage)
	session.OnPlaneTap(cmd.Context(), models.IdentityPose())

	snap, err := runFrames(cmd.Context(), session)
	if err != nil {
		return err
	}
	if snap.Anchor == nil || !snap.Anchor.Code.Valid() {
		return fmt.Errorf("hosting did not produce a short code")
	}

	fmt.Printf("Short code:      %s\n", snap.Anchor.Code)
	fmt.Printf("Cloud anchor ID: %s\n", snap.Anchor.CloudAnchorID)
	return nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	code, err := parseCodeArg(args[0])
	if err != nil {
		return err
	}

	c, err := openComponents()
	if err != nil {
		return err
	}
	defer c.close()

	// Anchors were hosted by another process, so the simulated service
	// cannot know their IDs.
	opts := cfg.Simulated
	opts.AcceptForeignIDs = true

	session := c.newSession(opts, printMessage)
	session.OnShortCodeEntered(cmd.Context(), code)

	snap, err := runFrames(cmd.Context(), session)
	if err != nil {
		return err
	}
	if snap.Anchor == nil || !snap.Anchor.Resolved {
		return fmt.Errorf("short code %s was not resolved", code)
	}

	fmt.Printf("Cloud anchor ID: %s\n", snap.Anchor.CloudAnchorID)
	return nil
}

// runFrames drives session from a frame loop until no operation or store
// work is left, then returns the final snapshot.
func runFrames(ctx context.Context, session *cloudanchor.Session) (cloudanchor.Snapshot, error) {
	done := make(chan cloudanchor.Snapshot, 1)
	var once sync.Once

	sched := scheduler.New(scheduler.UpdaterFunc(func() int {
		n := session.Update()
		// Listeners start store work from Update; wait for it so the
		// snapshot below is settled.
		session.Wait()
		if snap := session.Snapshot(); snap.Pending == 0 {
			once.Do(func() { done <- snap })
		}
		return n
	}), &cfg.Frame, logger)

	sched.Start()
	defer sched.Stop()

	select {
	case snap := <-done:
		return snap, nil
	case <-ctx.Done():
		return session.Snapshot(), ctx.Err()
	}
}

func printMessage(msg string) {
	fmt.Println(msg)
}
