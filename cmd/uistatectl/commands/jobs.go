package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-uistate/jobs"
)

func newJobsCommand(env Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage background maintenance jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var retention time.Duration
	trigger := &cobra.Command{
		Use:       "trigger <name>",
		Short:     "Enqueue a maintenance job now",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{jobs.TaskPageStatePrune, jobs.TaskPayablesTrashPurge},
		RunE: func(cmd *cobra.Command, args []string) error {
			client, release, err := env.OpenJobs(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			info, err := client.Trigger(cmd.Context(), args[0], retention)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s (%s) on %s\n", info.Type, info.ID, info.Queue)
			return nil
		},
	}
	trigger.Flags().DurationVar(&retention, "retention", 0, "override the configured retention")
	cmd.AddCommand(trigger)
	return cmd
}
