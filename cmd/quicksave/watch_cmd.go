package main

import (
	"log/slog"

	"github.com/openmined/quicksave/internal/watch"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func init() {
	rootCmd.AddCommand(newWatchCmd())
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Watch a directory and upload project files when they are saved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			pattern := a.cfg.Pattern
			if cmd.Flags().Changed("pattern") {
				pattern, _ = cmd.Flags().GetString("pattern")
			}
			debounce, _ := cmd.Flags().GetDuration("debounce")

			w, err := watch.NewSaveWatcher(args[0], pattern, watch.WithDebounce(debounce))
			if err != nil {
				return err
			}

			events := a.status.Subscribe()
			g, ctx := errgroup.WithContext(cmd.Context())

			g.Go(func() error {
				defer a.status.Unsubscribe(events)
				return w.Run(ctx, func(ev watch.SaveEvent) {
					res := a.svc.OnSave(ctx, ev.Path)
					slog.Debug("watch", "op", "save", "path", ev.Path, "decision", res.Decision.String())
				})
			})
			g.Go(func() error {
				printEvents(cmd.OutOrStdout(), events)
				return nil
			})

			defer slog.Info("Bye!")
			return g.Wait()
		},
	}
	cmd.Flags().String("pattern", watch.DefaultPattern, "glob for project files, relative to <dir>")
	cmd.Flags().Duration("debounce", watch.DefaultDebounce, "quiet period before a save is handled")
	return cmd
}
