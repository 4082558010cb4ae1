package driver

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Helcaraxan/helm-toolchain/internal/task"
)

func Resolve(opts *CommonOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Provision Helm and print the path of its executable.",
		Long: `Fetch the configured Helm distribution, unless it is already cached, extract it into the output
directory and print the absolute path of the executable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.session(cmd.Context())
			if err != nil {
				return err
			}
			p, err := s.toolchain.Executable().Get(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	}
}

func Args(opts *CommonOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "args",
		Short: "Provision Helm and print the argument that passes its path to a test process.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.session(cmd.Context())
			if err != nil {
				return err
			}
			p := &task.FileArgumentProvider{PropertyName: opts.Config.PropertyName, File: s.toolchain.Executable()}
			args, err := p.Arguments(cmd.Context())
			if err != nil {
				return err
			}
			for _, a := range args {
				fmt.Fprintln(cmd.OutOrStdout(), a)
			}
			return nil
		},
	}
}
