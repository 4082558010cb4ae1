package driver

import (
	"fmt"
	"path/filepath"

	"github.com/ryanuber/columnize"
	"github.com/spf13/cobra"

	"github.com/Helcaraxan/helm-toolchain/internal/config"
)

func Env(cOpts *CommonOpts) *cobra.Command {
	opts := &envOpts{CommonOpts: cOpts}

	cmd := &cobra.Command{
		Use:   "env [--full]",
		Short: "Print the settings with which Helm is provisioned.",
		Long: fmt.Sprintf(`Displays the settings as determined by the current working directory. They are read, in
increasing order of priority, from:

- the system configuration at '/etc/%[1]s/%[1]s.yaml' on Linux and MacOS or
  '%%PROGRAMDATA%%/%[1]s/%[1]s.yaml' on Windows.
- the user configuration at '$HOME/.config/%[1]s/%[1]s.yaml' on Linux and MacOS or
  '%%LOCALAPPDATA%%/%[1]s/%[1]s.yaml' on Windows.
- any '.%[1]s.yaml' file from the filesystem root down to the working directory.
- the command-line flags.

Nothing is fetched: the executable path is where Helm will be once it is provisioned.`, config.DriverName),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.environment(cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.full, "full", false, "Also print the artifact repositories.")

	return cmd
}

type envOpts struct {
	*CommonOpts

	full bool
}

func (o *envOpts) environment(cmd *cobra.Command) error {
	s, err := o.session(cmd.Context())
	if err != nil {
		return err
	}
	cfg := s.toolchain

	platformSource := "configured"
	if o.Config.Platform == "" {
		platformSource = "guessed"
	}
	version, executable, coordinate := "<unset>", "<unknown>", "<unknown>"
	if v, err := cfg.Version(); err == nil {
		version = v
		key, _ := cfg.PartitionKey()
		c, _ := cfg.Coordinate()
		executable = filepath.Join(cfg.OutputRoot(), key, cfg.ExecutableName())
		coordinate = c.String()
	}

	rows := []string{
		"Setting | Value | Source",
		"------- | ----- | ------",
		"version | " + version + " | configured",
		"platform | " + cfg.Platform().String() + " | " + platformSource,
		"layout | " + cfg.Layout().String() + " | configured",
		"coordinate | " + coordinate + " | derived",
		"executable | " + executable + " | derived",
		"cache | " + o.Config.CacheRoot + " | configured",
		"property | " + o.Config.PropertyName + " | configured",
	}
	if o.full {
		for i, r := range o.Config.Repositories {
			name := r.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i+1)
			}
			rows = append(rows, fmt.Sprintf("repository %s | %s | configured", name, r))
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), columnize.SimpleFormat(rows))
	return nil
}
