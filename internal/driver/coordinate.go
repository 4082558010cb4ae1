package driver

import (
	"fmt"

	"github.com/spf13/cobra"
)

func Coordinate(opts *CommonOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "coordinate",
		Short: "Print the artifact coordinate of the configured Helm distribution.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.session(cmd.Context())
			if err != nil {
				return err
			}
			c, err := s.toolchain.Coordinate()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), c)
			return nil
		},
	}
}
