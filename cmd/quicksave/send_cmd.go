package main

import (
	"fmt"

	"github.com/openmined/quicksave/internal/gate"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newSendCmd())
}

func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <file>",
		Short: "Compress and upload a project now, if it changed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			events := a.status.Subscribe()
			printed := make(chan struct{})
			go func() {
				defer close(printed)
				printEvents(cmd.OutOrStdout(), events)
			}()
			finish := func() {
				a.status.Unsubscribe(events)
				<-printed
			}

			res := a.svc.SendNow(cmd.Context(), args[0])
			if !res.Submitted() {
				finish()
				fmt.Fprintln(cmd.OutOrStdout(), describeResult(res))
				if res.Err != nil || res.Decision.Kind == gate.Failed {
					return fmt.Errorf("send %s: %w", args[0], res.Err)
				}
				return nil
			}

			// jobs are not cancellable, so wait even after an interrupt
			err = res.Run.Err()
			finish()
			if err != nil {
				return fmt.Errorf("send %s: %w", args[0], err)
			}
			return nil
		},
	}
}
