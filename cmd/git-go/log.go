package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Nivl/git-go/internal/errutil"
	"github.com/Nivl/git-go/revwalk"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newLogCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log [COMMIT]",
		Short: "Show commit logs",
		Args:  cobra.MaximumNArgs(1),
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		start := "HEAD"
		if len(args) == 1 {
			start = args[0]
		}
		return logCmd(cmd.OutOrStdout(), cfg, start)
	}
	return cmd
}

func logCmd(out io.Writer, cfg *globalFlags, startRef string) (err error) {
	r, err := loadRepository(cfg)
	if err != nil {
		return err
	}
	defer errutil.Close(r, &err)

	ref, err := r.GetReference(startRef)
	if err != nil {
		return fmt.Errorf("could not resolve %s: %w", startRef, err)
	}

	w := r.NewWalker()
	if err := w.Push(ref.Target()); err != nil {
		return fmt.Errorf("could not start walk at %s: %w", startRef, err)
	}

	log := logrus.WithField("command", "log")
	ctx := context.Background()
	for {
		c, err := w.Next(ctx)
		if err != nil {
			if errors.Is(err, revwalk.ErrWalkDone) {
				return nil
			}
			log.WithError(err).Error("walk failed")
			return fmt.Errorf("could not walk commits: %w", err)
		}
		fmt.Fprintf(out, "commit %s\n", c.ID().String())
		fmt.Fprintf(out, "Author: %s\n", c.Author().String())
		fmt.Fprintln(out, "")
		fmt.Fprintf(out, "    %s\n\n", c.Message())
	}
}
