package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/respawn/internal/config"
	"github.com/steveyegge/respawn/internal/statestore"
	"github.com/steveyegge/respawn/internal/ui"
)

func newWatchCmd() *cobra.Command {
	var (
		poll     bool
		interval time.Duration
		once     bool
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream workflow state changes and restart requests",
		Long: `Watch the spec directory and print an event whenever the workflow state
changes or the agent leaves a restart request. Runs until interrupted.

Uses filesystem notifications when the spec directory exists and falls
back to polling otherwise (or with --poll).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyFlagOverrides(cmd)
			s, err := config.Load()
			if err != nil {
				return err
			}
			opts := statestore.WatchOptions{Transport: statestore.TransportFSNotify, Interval: interval}
			if poll {
				opts.Transport = statestore.TransportPoll
			}
			return watchSpecDir(cmd.Context(), cmd.OutOrStdout(), statestore.New(s.SpecDir), opts, once, timeout)
		},
	}
	cmd.Flags().BoolVar(&poll, "poll", false, "Poll instead of using filesystem notifications")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Poll interval")
	cmd.Flags().BoolVar(&once, "once", false, "Exit after the first restart request")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Stop watching after this long (0 = no limit)")
	return cmd
}

func watchSpecDir(ctx context.Context, w io.Writer, store *statestore.Store, opts statestore.WatchOptions, once bool, timeout time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := store.Watch(ctx, opts)
	if errors.Is(err, statestore.ErrNoSpecDir) {
		fmt.Fprintln(w, ui.RenderMuted(store.Root()+" does not exist yet; polling"))
		opts.Transport = statestore.TransportPoll
		events, err = store.Watch(ctx, opts)
	}
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for ev := range events {
			printEvent(w, ev)
			if once && ev.Kind == statestore.RestartRequest && ev.Marker != nil {
				cancel()
			}
		}
		return nil
	})
	if timeout > 0 {
		g.Go(func() error {
			t := time.NewTimer(timeout)
			defer t.Stop()
			select {
			case <-t.C:
				cancel()
			case <-gctx.Done():
			}
			return nil
		})
	}
	return g.Wait()
}

func printEvent(w io.Writer, ev statestore.Event) {
	ts := ui.RenderMuted("[" + ev.At.Format("15:04:05") + "]")
	switch {
	case ev.Err != nil:
		fmt.Fprintf(w, "%s %s %s\n", ts, ui.RenderFail(ui.IconFail), ev.Err)
	case ev.Kind == statestore.RestartRequest && ev.Marker != nil:
		m := ev.Marker
		fmt.Fprintf(w, "%s %s restart requested: %q %s\n", ts, ui.RenderWarn(ui.IconWarn),
			ui.TruncateSimple(m.Instruction, 80), ui.RenderMuted("("+m.Path+")"))
	case ev.Kind == statestore.StateUpdate && ev.State != nil:
		st := ev.State
		fmt.Fprintf(w, "%s %s state: %s %d/%d %s\n", ts, ui.RenderAccent(ui.IconInfo),
			st.Phase, st.TaskIndex, st.TotalTasks, ui.RenderMuted("("+st.Path+")"))
	case ev.Kind == statestore.StateUpdate:
		fmt.Fprintf(w, "%s %s state removed\n", ts, ui.RenderMuted(ui.IconInfo))
	}
}
