package main

import (
	"fmt"
	"io"

	"github.com/Nivl/git-go/internal/errutil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newPackVerifyCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pack-verify",
		Short: "Validate the checksum and object integrity of every packfile",
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return packVerifyCmd(cmd.OutOrStdout(), cfg)
	}
	return cmd
}

func packVerifyCmd(out io.Writer, cfg *globalFlags) (err error) {
	r, err := loadRepository(cfg)
	if err != nil {
		return err
	}
	defer errutil.Close(r, &err)

	if err := r.VerifyPacks(); err != nil {
		logrus.WithError(err).Error("pack verification failed")
		return fmt.Errorf("pack verification failed: %w", err)
	}
	fmt.Fprintln(out, "all packfiles are valid")
	return nil
}
