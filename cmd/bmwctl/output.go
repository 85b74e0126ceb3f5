package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/lyzr/mutwizard/common/engine"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// printReport writes one row per snapshot record
func printReport(w io.Writer, r engine.Report) {
	fmt.Fprintf(w, "run %s (%s, %s): %s\n", r.RunID, r.Mode, r.OnFailure, r.State)
	fmt.Fprintf(w, "applied %d, failed %d, skipped %d, pending %d\n\n",
		r.Counts.Applied, r.Counts.Failed, r.Counts.Skipped, r.Counts.Pending)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RESIDUE\tFROM\tTO\tSTATUS\tROTAMER\tNOTE")
	for _, e := range r.Entries {
		rot := "-"
		if e.Rotamer != nil {
			rot = strconv.Itoa(*e.Rotamer)
		}
		note := e.ErrorReason
		if e.Drift {
			if note != "" {
				note += "; "
			}
			note += "structure changed since staging"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", e.Residue, e.SourceType, e.TargetType, e.Status, rot, note)
	}
	tw.Flush()
}
