package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/spherical/pdfcbz/internal/app"
	"github.com/spherical/pdfcbz/internal/convert"
	"github.com/spherical/pdfcbz/internal/domain"
)

// conversionFlags are shared by the conversion commands. Unset flags fall
// back to the configuration.
type conversionFlags struct {
	dpi      int
	quality  int
	lossless bool
	maxPages int
	workers  int
	fast     bool
	output   string
}

func (f *conversionFlags) register(cmd *cobra.Command, pdfOptions bool) {
	cmd.Flags().IntVarP(&f.quality, "quality", "q", 0, "JPEG quality 1-100 (default from config)")
	cmd.Flags().BoolVar(&f.lossless, "lossless", false, "write PNG pages instead of JPEG")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "output path")
	if !pdfOptions {
		return
	}
	cmd.Flags().IntVar(&f.dpi, "dpi", 0, "render resolution (default from config)")
	cmd.Flags().IntVar(&f.maxPages, "max-pages", 0, "convert at most this many pages (0 = all)")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "encoder workers (0 = config, then CPU count)")
	cmd.Flags().BoolVar(&f.fast, "fast", false, "render at 72 DPI and upscale (lossy output only)")
}

func (f *conversionFlags) pdfOptions(cmd *cobra.Command) domain.PdfToCbzOptions {
	opts := domain.PdfToCbzOptions{
		DPI:        cfg.Conversion.DPI,
		Quality:    cfg.Conversion.Quality,
		Lossless:   cfg.Conversion.Lossless,
		MaxPages:   cfg.Conversion.MaxPages,
		Workers:    cfg.Conversion.EffectiveWorkers(),
		FastRender: f.fast,
	}
	if cmd.Flags().Changed("dpi") {
		opts.DPI = f.dpi
	}
	if cmd.Flags().Changed("quality") {
		opts.Quality = f.quality
	}
	if cmd.Flags().Changed("lossless") {
		opts.Lossless = f.lossless
	}
	if cmd.Flags().Changed("max-pages") {
		opts.MaxPages = f.maxPages
	}
	if f.workers > 0 {
		opts.Workers = f.workers
	}
	return opts
}

func (f *conversionFlags) archiveOptions(cmd *cobra.Command) domain.CbzToPdfOptions {
	opts := domain.CbzToPdfOptions{
		Quality:  cfg.Conversion.Quality,
		Lossless: cfg.Conversion.Lossless,
	}
	if cmd.Flags().Changed("quality") {
		opts.Quality = f.quality
	}
	if cmd.Flags().Changed("lossless") {
		opts.Lossless = f.lossless
	}
	return opts
}

func newPdfToCbzCmd() *cobra.Command {
	var flags conversionFlags

	cmd := &cobra.Command{
		Use:   "pdf-to-cbz <input.pdf>",
		Short: "Convert a PDF to a CBZ archive",
		Long: `Convert a PDF to a CBZ archive with one image per page.

Pages consisting of one dominant embedded image are extracted directly;
everything else is rendered at --dpi and encoded as JPEG, or PNG with
--lossless.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			in := args[0]
			out := flags.output
			if out == "" {
				out = convert.DefaultOutputPath(in, "", domain.DirectionPDFToCBZ)
			}
			opts := flags.pdfOptions(cmd)

			progress, finish := ui.ConversionProgress(filepath.Base(in))
			opts.Progress = progress
			stats, err := a.Service.PdfToCbzFile(cmd.Context(), in, out, opts)
			finish()
			if err != nil {
				return err
			}
			return reportConversion(in, out, stats)
		},
	}
	flags.register(cmd, true)
	return cmd
}

func newCbzToPdfCmd() *cobra.Command {
	var flags conversionFlags

	cmd := &cobra.Command{
		Use:   "cbz-to-pdf <input.cbz|input.cbr>",
		Short: "Convert a CBZ or CBR archive to a PDF",
		Long: `Convert a CBZ or CBR archive to an A4 PDF with one image per page.

Images are placed in file name order, scaled to fit and anchored at the
bottom-left corner of the page. JPEG images are embedded unchanged. CBR
input needs the unar tool.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			in := args[0]
			out := flags.output
			if out == "" {
				out = convert.DefaultOutputPath(in, "", domain.DirectionCBZToPDF)
			}
			opts := flags.archiveOptions(cmd)

			progress, finish := ui.ConversionProgress(filepath.Base(in))
			opts.Progress = progress
			stats, err := a.Service.CbzToPdfFile(cmd.Context(), in, out, opts)
			finish()
			if err != nil {
				return err
			}
			return reportConversion(in, out, stats)
		},
	}
	flags.register(cmd, false)
	return cmd
}

func reportConversion(in, out string, stats *domain.ConversionStats) error {
	if outputJSON {
		return ui.JSON(map[string]interface{}{
			"input":          in,
			"output":         out,
			"pages":          stats.Pages,
			"extractedPages": stats.ExtractedPages,
			"renderedPages":  stats.RenderedPages,
			"inputBytes":     stats.InputBytes,
			"outputBytes":    stats.OutputBytes,
			"durationMs":     stats.Duration.Milliseconds(),
			"cacheHit":       stats.CacheHit,
		})
	}

	ui.Success("Converted %s → %s", in, out)
	ui.KeyValue("Pages", stats.Pages)
	if stats.ExtractedPages+stats.RenderedPages > 0 {
		ui.KeyValue("Extracted", stats.ExtractedPages)
		ui.KeyValue("Rendered", stats.RenderedPages)
	}
	ui.KeyValue("Size", fmt.Sprintf("%s → %s", FormatBytes(stats.InputBytes), FormatBytes(stats.OutputBytes)))
	ui.KeyValue("Duration", FormatDuration(stats.Duration))
	if stats.CacheHit {
		ui.Info("served from the result cache")
	}
	return nil
}

// batchResult is one row of a batch report.
type batchResult struct {
	Input  string                  `json:"input"`
	Output string                  `json:"output,omitempty"`
	Stats  *domain.ConversionStats `json:"stats,omitempty"`
	Error  string                  `json:"error,omitempty"`
}

func newBatchCmd() *cobra.Command {
	var flags conversionFlags

	cmd := &cobra.Command{
		Use:   "batch <directory>",
		Short: "Convert every PDF, CBZ and CBR file in a directory",
		Long: `Convert every supported file in a directory, one at a time. PDFs become
CBZ archives and archives become PDFs. A failed file does not stop the
batch; the command fails at the end if any file failed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := batchInputs(args[0])
			if err != nil {
				return err
			}
			if len(inputs) == 0 {
				ui.Warning("no PDF, CBZ or CBR files in %s", args[0])
				return nil
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			pdfOpts := flags.pdfOptions(cmd)
			archiveOpts := flags.archiveOptions(cmd)

			results := make([]batchResult, 0, len(inputs))
			failed := 0
			bar := ui.NewBatchProgress(len(inputs))
			for _, in := range inputs {
				if cmd.Context().Err() != nil {
					break
				}
				res := runBatchItem(cmd, a, in, flags.output, pdfOpts, archiveOpts)
				if res.Error != "" {
					failed++
				}
				results = append(results, res)
				bar.Increment()
			}
			bar.Close()

			if outputJSON {
				if err := ui.JSON(results); err != nil {
					return err
				}
			} else {
				printBatch(results)
			}
			if err := cmd.Context().Err(); err != nil {
				return domain.CancelledError(err)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d conversions failed", failed, len(results))
			}
			return nil
		},
	}
	flags.register(cmd, true)
	cmd.Flags().Lookup("output").Usage = "output directory (default: next to each input)"
	return cmd
}

func batchInputs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, domain.InputNotReadableError("read directory "+dir, err)
	}
	var inputs []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := convert.DirectionFor(e.Name()); err == nil {
			inputs = append(inputs, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(inputs)
	return inputs, nil
}

func runBatchItem(cmd *cobra.Command, a *app.App, in, outDir string, pdfOpts domain.PdfToCbzOptions, archiveOpts domain.CbzToPdfOptions) batchResult {
	res := batchResult{Input: in}
	direction, err := convert.DirectionFor(in)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Output = convert.DefaultOutputPath(in, outDir, direction)

	var stats *domain.ConversionStats
	if direction == domain.DirectionPDFToCBZ {
		stats, err = a.Service.PdfToCbzFile(cmd.Context(), in, res.Output, pdfOpts)
	} else {
		stats, err = a.Service.CbzToPdfFile(cmd.Context(), in, res.Output, archiveOpts)
	}
	if err != nil {
		logger.Warn().Err(err).Str("input", in).Msg("batch item failed")
		res.Output = ""
		res.Error = domain.UserMessage(err)
		return res
	}
	res.Stats = stats
	return res
}

func printBatch(results []batchResult) {
	ui.Section("Batch results")
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		if r.Error != "" {
			rows = append(rows, []string{filepath.Base(r.Input), "failed", "", "", r.Error})
			continue
		}
		rows = append(rows, []string{
			filepath.Base(r.Input),
			"ok",
			strconv.Itoa(r.Stats.Pages),
			FormatBytes(r.Stats.OutputBytes),
			FormatDuration(r.Stats.Duration),
		})
	}
	ui.Table([]string{"FILE", "STATUS", "PAGES", "OUTPUT", "TIME / ERROR"}, rows)
}
