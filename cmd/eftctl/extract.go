package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bentedesco/eft-fingerprint-viewer/internal/images"
	"github.com/bentedesco/eft-fingerprint-viewer/internal/pipeline"
)

func newExtractCmd(g *globalOptions) *cobra.Command {
	var (
		outDir    string
		codecName string
	)
	cmd := &cobra.Command{
		Use:   "extract <file>",
		Short: "Write embedded images to a directory",
		Long: `Writes each embedded image payload byte-exact as fld_<record>_<field>
with its format extension, plus a PNG rendering for every image the codec
could decode.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := g.codec(codecName)
			if err != nil {
				return err
			}
			res, err := pipeline.ProcessFile(cmd.Context(), args[0], pipeline.Options{Codec: codec})
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}
			return writeImages(cmd, outDir, res)
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory")
	cmd.Flags().StringVar(&codecName, "codec", "auto", "image codec (auto, std, exec, none)")
	cmd.MarkFlagRequired("out")
	return cmd
}

func writeImages(cmd *cobra.Command, outDir string, res *pipeline.Result) error {
	out := cmd.OutOrStdout()
	if len(res.Images) == 0 {
		fmt.Fprintln(out, "no embedded images found")
		return nil
	}
	for i, img := range res.Images {
		raw := filepath.Join(outDir, img.Name()+img.Format.Ext())
		if err := os.WriteFile(raw, img.Data, 0o644); err != nil {
			return err
		}
		status := "not decoded"
		if i < len(res.Decoded) {
			d := res.Decoded[i]
			if d.Err != nil {
				status = "decode failed: " + d.Err.Error()
			} else {
				png, err := images.EncodePNG(d.Image)
				if err != nil {
					return err
				}
				pngPath := filepath.Join(outDir, img.Name()+".png")
				if err := os.WriteFile(pngPath, png, 0o644); err != nil {
					return err
				}
				b := d.Image.Bounds()
				status = fmt.Sprintf("%dx%d -> %s", b.Dx(), b.Dy(), filepath.Base(pngPath))
			}
		}
		pos := "?"
		if img.Position >= 0 {
			pos = fmt.Sprint(img.Position)
		}
		fmt.Fprintf(out, "%s %-9s pos=%-3s %7d bytes  %s\n", filepath.Base(raw), img.Format.Label(), pos, len(img.Data), status)
	}
	return nil
}
