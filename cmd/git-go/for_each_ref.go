package main

import (
	"fmt"
	"io"

	"github.com/Nivl/git-go/ginternals"
	"github.com/Nivl/git-go/internal/errutil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newForEachRefCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "for-each-ref",
		Short: "Output information on each ref",
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return forEachRefCmd(cmd.OutOrStdout(), cfg)
	}
	return cmd
}

func forEachRefCmd(out io.Writer, cfg *globalFlags) (err error) {
	r, err := loadRepository(cfg)
	if err != nil {
		return err
	}
	defer errutil.Close(r, &err)

	log := logrus.WithField("command", "for-each-ref")

	return r.WalkReferences(func(ref *ginternals.Reference) error {
		typ := "commit"
		target := ref.Target()
		if target == nil || target.IsZero() {
			log.WithField("ref", ref.Name()).Debug("skipping unresolved reference")
			return nil
		}
		fmt.Fprintf(out, "%s %s\t%s\n", target.String(), typ, ref.Name())
		return nil
	})
}
