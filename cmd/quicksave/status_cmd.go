package main

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newEditCmd())
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <file>",
		Short: "Print the stored state of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			asJSON, _ := cmd.Flags().GetBool("json")

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.state(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeState(cmd.OutOrStdout(), st, asJSON)
		},
	}
	cmd.Flags().Bool("json", false, "print JSON instead of YAML")
	return cmd
}

func newEditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <file>",
		Short: "Record the kind of edits made since the last upload",
		Long: `Record the kind of edits made since the last upload (Transform, Geometry, Shading).

They are listed in the default commit message and never trigger an upload.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			kinds, _ := cmd.Flags().GetStringSlice("kind")

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.svc.ObserveEdit(cmd.Context(), args[0], kinds...)
			if err != nil {
				return err
			}
			return writeState(cmd.OutOrStdout(), st, false)
		},
	}
	cmd.Flags().StringSliceP("kind", "k", nil, "edit kind, repeatable")
	cmd.MarkFlagRequired("kind")
	return cmd
}
