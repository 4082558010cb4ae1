package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Helcaraxan/helm-toolchain/internal/config"
	"github.com/Helcaraxan/helm-toolchain/internal/driver"
	"github.com/Helcaraxan/helm-toolchain/internal/task"
)

func main() {
	opts := driver.NewCommonOpts()

	rootCmd := &cobra.Command{
		Use: config.DriverName,
		Long: `Provision a pinned version of Helm for the platform of the current host.

The matching Helm distribution is fetched once into a shared cache, extracted into the build
directory and its executable is handed to test processes as a '-D<property>=<path>' argument. Nothing
is downloaded until a command actually needs the executable.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return opts.Parse()
		},
	}

	registerRootFlags(rootCmd, opts)

	rootCmd.AddCommand(
		driver.Args(opts),
		driver.Clean(opts),
		driver.Coordinate(opts),
		driver.Env(opts),
		driver.Platform(opts),
		driver.Resolve(opts),
		driver.Run(opts),
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		var exitErr *task.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
}

func registerRootFlags(cmd *cobra.Command, opts *driver.CommonOpts) {
	cmd.PersistentFlags().StringSliceVarP(
		&opts.Verbose,
		"verbose",
		"v",
		nil,
		"Verbose output for the given logging domains or for all of them if none is specified.",
	)
	cmd.Flag("verbose").NoOptDefVal = "all"

	cmd.PersistentFlags().StringVar(&opts.Overrides.Version, "version", "", "Helm version to provision.")
	cmd.PersistentFlags().StringVar(&opts.Overrides.Platform, "platform", "", "Platform to provision Helm for instead of the guessed one.")
	cmd.PersistentFlags().StringVar(&opts.Overrides.Layout, "layout", "", "Layout of the output directory: 'flat' or 'versioned'.")
	cmd.PersistentFlags().StringVar(&opts.Overrides.BuildDir, "build-dir", "", "Build directory under which Helm is extracted.")
}
