package main

import (
	"github.com/openmined/quicksave/internal/pipeline"
	"github.com/openmined/quicksave/internal/state"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newConfigureCmd())
}

func newConfigureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configure <file>",
		Short: "Change the upload settings of a project",
		Long: `Change the upload settings of a project. Only the flags given are changed.

The commit message is used for the next upload only and cleared afterwards.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.svc.Configure(cmd.Context(), args[0], settingsFromFlags(cmd))
			if err != nil {
				return err
			}
			return writeState(cmd.OutOrStdout(), st, false)
		},
	}
	cmd.Flags().SortFlags = false
	cmd.Flags().String("endpoint", "", "webhook URL")
	cmd.Flags().Bool("auto-send", false, "upload on every save")
	cmd.Flags().Int("cooldown", state.DefaultCooldownSeconds, "minimum seconds between uploads (0-3600)")
	cmd.Flags().StringP("message", "m", "", "commit message for the next upload")
	return cmd
}

func settingsFromFlags(cmd *cobra.Command) pipeline.Settings {
	var s pipeline.Settings
	flags := cmd.Flags()
	if flags.Changed("endpoint") {
		v, _ := flags.GetString("endpoint")
		s.EndpointURL = &v
	}
	if flags.Changed("auto-send") {
		v, _ := flags.GetBool("auto-send")
		s.AutoSend = &v
	}
	if flags.Changed("cooldown") {
		v, _ := flags.GetInt("cooldown")
		s.CooldownSeconds = &v
	}
	if flags.Changed("message") {
		v, _ := flags.GetString("message")
		s.CommitMessage = &v
	}
	return s
}
