package driver

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Helcaraxan/helm-toolchain/internal/task"
)

func Run(cOpts *CommonOpts) *cobra.Command {
	opts := &runOpts{CommonOpts: cOpts}

	cmd := &cobra.Command{
		Use:   "run [--name=<task>] [--kind=test|other] [--force] -- <command> [<args>]",
		Short: "Run a command with the path of the Helm executable passed as a property.",
		Long: `Run a command as a task. Test tasks receive the path of the Helm executable as an extra
'-D<property>=<path>' argument, Helm only being provisioned when that happens. The task is skipped
when neither its command-line nor the content of its inputs changed since it last succeeded.

The exit code of the command becomes the exit code of the driver.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.command = args
			return opts.run(cmd)
		},
	}

	cmd.Flags().StringVar(&opts.name, "name", "test", "Name under which the task's history is recorded.")
	cmd.Flags().StringVar(&opts.kind, "kind", string(task.KindTest), "Kind of the task. Only 'test' tasks receive the Helm executable.")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Run the task even if it is up to date.")

	return cmd
}

type runOpts struct {
	*CommonOpts

	name    string
	kind    string
	force   bool
	command []string
}

func (o *runOpts) run(cmd *cobra.Command) error {
	kind := task.Kind(o.kind)
	if kind != task.KindTest && kind != task.KindOther {
		return fmt.Errorf("%w %q, expected %q or %q", ErrUnknownKind, o.kind, task.KindTest, task.KindOther)
	}

	s, err := o.session(cmd.Context())
	if err != nil {
		return err
	}

	tasks := task.NewContainer()
	task.Wire(tasks, s.toolchain, o.Config.PropertyName)

	t := &task.Task{Name: o.name, Kind: kind, Command: o.command[0], Args: o.command[1:]}
	if err = tasks.Register(t); err != nil {
		return err
	}

	runner := task.NewRunner(o.LogBuilder, o.history())
	runner.Force = o.force
	runner.Stdin, runner.Stdout, runner.Stderr = cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr()

	res, err := runner.Run(cmd.Context(), t)
	if err != nil {
		return err
	}
	if !res.UpToDate {
		o.Log.Debug("Task succeeded.", zap.String("task", t.Name), zap.String("fingerprint", res.Fingerprint))
	}
	return nil
}
