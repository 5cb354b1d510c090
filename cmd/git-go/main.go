package main

import (
	"fmt"
	"os"

	"github.com/Nivl/git-go/env"
	"github.com/pkg/errors"
)

func main() {
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	root := newRootCmd(cwd, env.NewFromOs())
	if err := root.Execute(); err != nil {
		// Wrap with a stack trace at the CLI boundary, where it's useful
		// for bug reports, instead of threading stack-capturing errors
		// through every internal package.
		if os.Getenv("GIT_GO_TRACE") != "" {
			fmt.Printf("%+v\n", errors.WithStack(err))
		} else {
			fmt.Println(err)
		}
		os.Exit(1)
	}
}
