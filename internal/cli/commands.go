package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/jobq/pkg/admin"
)

// withEnv wraps a command body with setup and teardown of the backend.
func (rt *runtime) withEnv(fn func(cmd *cobra.Command, e *env, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := rt.setup(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()
		return fn(cmd, e, args)
	}
}

func (rt *runtime) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list [QUEUES]",
		Short: "List currently enqueued jobs",
		RunE: rt.withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			infos, err := e.admin.List(cmd.Context(), args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, info := range infos {
				fmt.Fprintf(out, "%s %s %s %s\n", info.Created, info.ID, info.Queue, quoteTitle(info.Title, ""))
			}
			return nil
		}),
	}
}

func (rt *runtime) showCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show details about a specific job",
		RunE: rt.withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			jobID, err := jobIDArg(args)
			if err != nil {
				return err
			}
			info, err := e.admin.Show(cmd.Context(), jobID)
			if err != nil {
				return notFound(err, jobID)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:      %s\n", info.ID)
			fmt.Fprintf(out, "Title:   %s\n", quoteTitle(info.Title, "None"))
			fmt.Fprintf(out, "Created: %s\n", info.Created)
			fmt.Fprintf(out, "Queue:   %s\n", info.Queue)
			return nil
		}),
	}
}

func (rt *runtime) cancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a specific job",
		RunE: rt.withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			jobID, err := jobIDArg(args)
			if err != nil {
				return err
			}
			if err := e.admin.Cancel(cmd.Context(), jobID); err != nil {
				return notFound(err, jobID)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled job %s\n", jobID)
			return nil
		}),
	}
}

func (rt *runtime) clearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear [QUEUES]",
		Short: "Cancel all jobs on the given queues",
		RunE: rt.withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			names, err := e.admin.Clear(cmd.Context(), args)
			if err != nil {
				return err
			}
			quoted := make([]string, len(names))
			for i, name := range names {
				quoted[i] = fmt.Sprintf("%q", name)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared queue(s) %s\n", strings.Join(quoted, ", "))
			return nil
		}),
	}
}

func (rt *runtime) testCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "test [QUEUES]",
		Short: "Enqueue a test job",
		RunE: rt.withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			jobs, err := e.admin.Test(cmd.Context(), args)
			for _, j := range jobs {
				fmt.Fprintf(cmd.OutOrStdout(), "Added test job %s to queue %q\n", j.ID, e.admin.DisplayQueue(j))
			}
			return err
		}),
	}
}

func jobIDArg(args []string) (string, error) {
	if len(args) == 0 || args[0] == "" {
		return "", userErrorf("You must specify a job ID")
	}
	return args[0], nil
}

func notFound(err error, jobID string) error {
	if errors.Is(err, admin.ErrNotFound) {
		return userErrorf("There is no job with ID %q", jobID)
	}
	return err
}

func quoteTitle(title, none string) string {
	if title == "" {
		return none
	}
	return fmt.Sprintf("%q", title)
}
