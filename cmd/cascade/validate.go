package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kode4food/cascade/internal/parser"
)

var ErrInvalidFlows = errors.New("invalid flow definitions")

func (a *app) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <flow.yaml>...",
		Short: "Parse and validate flow definitions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return a.validate(args)
		},
	}
}

func (a *app) validate(paths []string) error {
	var failed int
	for _, p := range paths {
		f, err := parser.ParseFile(p)
		if err != nil {
			failed++
			fmt.Fprintf(a.out, "FAIL %s\n  %v\n", p, err)
			continue
		}
		fmt.Fprintf(a.out, "OK   %s (%s)\n", p, f.UID())
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrInvalidFlows, failed, len(paths))
	}
	return nil
}
