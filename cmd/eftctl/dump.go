package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bentedesco/eft-fingerprint-viewer/internal/an2k"
)

const dumpValueLimit = 200

func newDumpCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "dump <file>",
		Short: "Print every decoded field",
		Long: `Prints every field of the transaction in file order as
"record.field [T.NNN]=value". Long values are cut unless --full is set and
binary payloads are summarised by size.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			fields, err := an2k.Decode(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			limit := dumpValueLimit
			if full {
				limit = 0
			}
			out := cmd.OutOrStdout()
			for _, f := range fields {
				fmt.Fprintf(out, "%s [%s]=%s\n", f.IndexString(), f.Tag(), f.Display(limit))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "print textual values without truncation")
	return cmd
}
