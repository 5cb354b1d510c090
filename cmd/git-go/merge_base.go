package main

import (
	"fmt"
	"io"

	"github.com/Nivl/git-go/ginternals"
	"github.com/Nivl/git-go/internal/errutil"
	"github.com/spf13/cobra"
)

func newMergeBaseCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge-base COMMIT COMMIT...",
		Short: "Find as good common ancestors as possible for a merge",
		Args:  cobra.MinimumNArgs(2),
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return mergeBaseCmd(cmd.OutOrStdout(), cfg, args)
	}
	return cmd
}

func mergeBaseCmd(out io.Writer, cfg *globalFlags, refNames []string) (err error) {
	r, err := loadRepository(cfg)
	if err != nil {
		return err
	}
	defer errutil.Close(r, &err)

	oids := make([]ginternals.Oid, 0, len(refNames))
	for _, name := range refNames {
		ref, err := r.GetReference(name)
		if err != nil {
			return fmt.Errorf("could not resolve %s: %w", name, err)
		}
		oids = append(oids, ref.Target())
	}

	bases, err := r.MergeBase(oids...)
	if err != nil {
		return fmt.Errorf("could not compute merge base: %w", err)
	}
	for _, base := range bases {
		fmt.Fprintln(out, base.String())
	}
	return nil
}
