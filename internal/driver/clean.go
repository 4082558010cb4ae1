package driver

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func Clean(cOpts *CommonOpts) *cobra.Command {
	opts := &cleanOpts{CommonOpts: cOpts}

	cmd := &cobra.Command{
		Use:   "clean [--keep-cache] [--keep-history]",
		Short: "Remove the extracted Helm distribution, its cached archive and the task history.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.clean(cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.keepCache, "keep-cache", false, "Keep the downloaded archive.")
	cmd.Flags().BoolVar(&opts.keepHistory, "keep-history", false, "Keep the record of past task runs.")

	return cmd
}

type cleanOpts struct {
	*CommonOpts

	keepCache   bool
	keepHistory bool
}

func (o *cleanOpts) clean(cmd *cobra.Command) error {
	s, err := o.session(cmd.Context())
	if err != nil {
		return err
	}

	key, err := s.toolchain.PartitionKey()
	if err != nil {
		return err
	}
	if err = s.extractor.Clean(cmd.Context(), s.toolchain.OutputRoot(), key); err != nil {
		return err
	}

	if !o.keepCache {
		c, err := s.toolchain.Coordinate()
		if err != nil {
			return err
		}
		if err = s.store.Evict(c); err != nil {
			return err
		}
	}

	if !o.keepHistory {
		if err = o.history().Clear(); err != nil {
			o.Log.Error("Failed to clear the task history.", zap.Error(err))
			return err
		}
	}

	o.Log.Info("Removed Helm " + key + " from " + s.toolchain.OutputRoot() + ".")
	return nil
}
