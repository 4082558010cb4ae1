package driver

import (
	"fmt"

	"github.com/ryanuber/columnize"
	"github.com/spf13/cobra"

	"github.com/Helcaraxan/helm-toolchain/internal/platform"
)

func Platform(cOpts *CommonOpts) *cobra.Command {
	opts := &platformOpts{CommonOpts: cOpts}

	cmd := &cobra.Command{
		Use:   "platform [--all]",
		Short: "Print the platform for which Helm is provisioned.",
		Long: `Print the platform identifier used to select the Helm distribution. Unless one is configured
explicitly it is guessed from the operating system and architecture of the current host.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.platform(cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.all, "all", false, "List every known platform instead.")

	return cmd
}

type platformOpts struct {
	*CommonOpts

	all bool
}

func (o *platformOpts) platform(cmd *cobra.Command) error {
	if o.all {
		rows := []string{"Identifier | Name", "---------- | ----"}
		for _, p := range platform.All() {
			rows = append(rows, p.String()+" | "+p.Name())
		}
		fmt.Fprintln(cmd.OutOrStdout(), columnize.SimpleFormat(rows))
		return nil
	}

	s, err := o.session(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), s.toolchain.Platform())
	return nil
}
