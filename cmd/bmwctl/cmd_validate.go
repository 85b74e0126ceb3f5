package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lyzr/mutwizard/common/csvimport"
)

// runValidate is the handler for "bmwctl validate". No structure is
// consulted, so unknown residues are not detected.
func runValidate(cmd *cobra.Command, args []string) error {
	res, err := csvimport.ParseFile(cmd.Context(), args[0], nil)
	if err != nil {
		return err
	}

	if jsonOutput {
		if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
			return err
		}
	} else {
		printImport(cmd.OutOrStdout(), args[0], res)
	}

	if !res.OK() {
		return errRejected
	}
	return nil
}

func printImport(w io.Writer, path string, res *csvimport.Result) {
	fmt.Fprintf(w, "%s: %d lines, %d records, %d rejected\n", path, res.Lines, len(res.Records), len(res.Errors))
	for _, le := range res.Errors {
		fmt.Fprintf(w, "  %s\n", le)
	}
}
