// Command eftctl inspects, validates and extracts ANSI/NIST-ITL transaction
// files from the command line.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bentedesco/eft-fingerprint-viewer/internal/common"
	"github.com/bentedesco/eft-fingerprint-viewer/internal/images"
	"github.com/bentedesco/eft-fingerprint-viewer/internal/rules"
)

type globalOptions struct {
	policies string
	codecBin string
	logLevel string
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}
	root := &cobra.Command{
		Use:           "eftctl",
		Short:         "Inspect and validate ANSI/NIST-ITL transaction files",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return common.SetLevelOutput(cmd.ErrOrStderr(), g.logLevel)
		},
	}
	root.PersistentFlags().StringVar(&g.policies, "policies", "", "requirement table (YAML or JSON); built-in table when empty")
	root.PersistentFlags().StringVar(&g.codecBin, "codec-bin", "", "directory holding opj_decompress and dwsq")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(
		newDumpCmd(),
		newValidateCmd(g),
		newExtractCmd(g),
		newBatchCmd(g),
		newPoliciesCmd(g),
	)
	return root
}

func (g *globalOptions) engine() (*rules.Engine, error) {
	if strings.TrimSpace(g.policies) == "" {
		return rules.NewEngine(rules.DefaultTable()), nil
	}
	t, err := rules.LoadTable(g.policies)
	if err != nil {
		return nil, fmt.Errorf("load policies: %w", err)
	}
	return rules.NewEngine(t), nil
}

// codec selects the image decoder: "std" decodes JPEG only, "exec" uses the
// external tools only and "auto" routes each format to whichever applies.
func (g *globalOptions) codec(name string) (images.Codec, error) {
	switch strings.ToLower(name) {
	case "", "auto":
		return images.DefaultRegistry(g.codecBin), nil
	case "std":
		return images.StdCodec{}, nil
	case "exec":
		return images.NewExecCodec(g.codecBin), nil
	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown codec %q (want auto, std, exec or none)", name)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "eftctl: %v\n", err)
		os.Exit(1)
	}
}
