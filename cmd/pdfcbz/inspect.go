package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spherical/pdfcbz/internal/analysis"
	"github.com/spherical/pdfcbz/internal/app"
	"github.com/spherical/pdfcbz/internal/archive"
	"github.com/spherical/pdfcbz/internal/convert"
	"github.com/spherical/pdfcbz/internal/domain"
)

// readFor validates and reads an input for the inspection commands.
func readFor(path string) ([]byte, domain.Direction, error) {
	direction, err := convert.DirectionFor(path)
	if err != nil {
		return nil, "", err
	}
	exts := convert.PDFExtensions
	if direction == domain.DirectionCBZToPDF {
		exts = convert.ArchiveExtensions
	}
	if err := convert.ValidateInputPath(path, exts, logger); err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", domain.InputNotReadableError("read "+path, err)
	}
	return data, direction, nil
}

// exclusive runs fn while holding the conversion gate.
func exclusive(cmd *cobra.Command, a *app.App, fn func() error) error {
	release, err := a.Service.Gate().Acquire(cmd.Context())
	if err != nil {
		return domain.CancelledError(err)
	}
	defer release()
	return fn()
}

func newAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <file>",
		Short: "Report page sizes, resolutions and conversion paths",
		Long: `Analyze a PDF or a CBZ/CBR archive without converting it.

For PDFs this reports each page's size, the DPI that renders it 2000 pixels
wide, an estimate of the resolution it was produced at, and whether the page
would be extracted or rendered. For archives it lists the images in page
order with their dimensions and formats.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, direction, err := readFor(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			stop := ui.Spinner("analysing " + filepath.Base(args[0]))
			var pdfReport *analysis.PDFReport
			var archiveReport *analysis.ArchiveReport
			err = exclusive(cmd, a, func() error {
				var err error
				if direction == domain.DirectionPDFToCBZ {
					pdfReport, err = a.Analyzer.AnalyzePDF(cmd.Context(), data)
				} else {
					archiveReport, err = a.Analyzer.AnalyzeArchive(cmd.Context(), data)
				}
				return err
			})
			stop()
			if err != nil {
				return err
			}

			if pdfReport != nil {
				return printPDFReport(pdfReport)
			}
			return printArchiveReport(archiveReport)
		},
	}
}

func printPDFReport(r *analysis.PDFReport) error {
	if outputJSON {
		return ui.JSON(r)
	}
	ui.Section("PDF analysis")
	ui.KeyValue("Pages", r.PageCount)
	ui.KeyValue("Size", fmt.Sprintf("%.2f MB", r.SizeMB))
	ui.KeyValue("Recommended DPI", r.RecommendedDPI)
	ui.KeyValue("Estimated native DPI", r.NativeDPI)
	ui.KeyValue("Extract / render", fmt.Sprintf("%d / %d", r.ExtractPages, r.RenderPages))
	ui.Newline()

	rows := make([][]string, 0, len(r.Pages))
	for _, p := range r.Pages {
		rows = append(rows, []string{
			strconv.Itoa(p.PageNumber),
			fmt.Sprintf("%.0f x %.0f", p.WidthPt, p.HeightPt),
			fmt.Sprintf("%d x %d", p.WidthPx, p.HeightPx),
			strconv.Itoa(p.NativeDPI),
			objectSummary(p.Objects),
			fmt.Sprintf("%.1f%%", p.Coverage*100),
			string(p.Path),
		})
	}
	ui.Table([]string{"PAGE", "SIZE (PT)", "PIXELS", "NATIVE DPI", "OBJECTS", "COVERAGE", "PATH"}, rows)
	return nil
}

func printArchiveReport(r *analysis.ArchiveReport) error {
	if outputJSON {
		return ui.JSON(r)
	}
	ui.Section("Archive analysis")
	ui.KeyValue("Images", r.PageCount)
	ui.KeyValue("Size", fmt.Sprintf("%.2f MB", r.SizeMB))
	ui.Newline()

	rows := make([][]string, 0, len(r.Pages))
	for _, p := range r.Pages {
		rows = append(rows, []string{
			strconv.Itoa(p.PageNumber),
			p.FileName,
			fmt.Sprintf("%d x %d", p.Width, p.Height),
			p.Format,
			fmt.Sprintf("%.1f", p.SizeKB),
		})
	}
	ui.Table([]string{"PAGE", "FILE", "PIXELS", "FORMAT", "KB"}, rows)
	return nil
}

func objectSummary(objects map[string]int) string {
	if len(objects) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(objects))
	for _, kind := range []string{"image", "text", "path", "form", "other"} {
		if n := objects[kind]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", kind, n))
		}
	}
	return strings.Join(parts, " ")
}

func newSmokeRenderCmd() *cobra.Command {
	var (
		opts   analysis.SmokeOptions
		output string
	)

	cmd := &cobra.Command{
		Use:   "smoke-render <input.pdf>",
		Short: "Render one page and check it is not blank",
		Long: `Render a single page and run sanity checks on it: the share of white pixels
in a 64x64 thumbnail and how much of the page box the page's objects cover.
The rendered page is written as PNG. The command fails when a check fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readPDF(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var report *analysis.SmokeReport
			err = exclusive(cmd, a, func() error {
				report, err = a.Analyzer.SmokeRender(cmd.Context(), data, opts)
				return err
			})
			if err != nil {
				return err
			}
			if err := convert.WriteOutput(output, report.PNG); err != nil {
				return err
			}

			if outputJSON {
				if err := ui.JSON(report); err != nil {
					return err
				}
			} else {
				printSmokeReport(report, output)
			}
			if !report.Passed {
				return fmt.Errorf("smoke test failed: white_ratio=%.3f bbox_coverage=%.3f", report.WhiteRatio, report.BBoxCoverage)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.Page, "page", 1, "page number (1-based)")
	cmd.Flags().IntVar(&opts.DPI, "dpi", analysis.SmokeDPI, "render resolution")
	cmd.Flags().Float64Var(&opts.MaxWhiteRatio, "max-white-ratio", analysis.DefaultMaxWhiteRatio, "fail if the white ratio is above this")
	cmd.Flags().Float64Var(&opts.MinBBoxCoverage, "min-bbox-coverage", analysis.DefaultMinBBoxCoverage, "fail if content covers less of the page than this")
	cmd.Flags().StringVarP(&output, "output", "o", "_smoke_page.png", "rendered page output path")
	return cmd
}

func readPDF(path string) ([]byte, error) {
	if err := convert.ValidateInputPath(path, convert.PDFExtensions, logger); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.InputNotReadableError("read "+path, err)
	}
	return data, nil
}

func printSmokeReport(r *analysis.SmokeReport, output string) {
	ui.Section(fmt.Sprintf("Smoke render: page %d of %d", r.Page, r.Pages))
	ui.KeyValue("Rendered", fmt.Sprintf("%d x %d at %d DPI → %s", r.WidthPx, r.HeightPx, r.DPI, output))
	ui.KeyValue("Media box", formatRect(r.MediaBox.Left, r.MediaBox.Bottom, r.MediaBox.Right, r.MediaBox.Top))
	if r.CropBox != nil {
		ui.KeyValue("Crop box", formatRect(r.CropBox.Left, r.CropBox.Bottom, r.CropBox.Right, r.CropBox.Top))
	}
	ui.KeyValue("Objects", objectSummary(r.Objects))
	if r.ContentBox != nil {
		ui.KeyValue("Content box", formatRect(r.ContentBox.Left, r.ContentBox.Bottom, r.ContentBox.Right, r.ContentBox.Top))
	}
	ui.KeyValue("BBox coverage", fmt.Sprintf("%.3f", r.BBoxCoverage))
	ui.KeyValue("White ratio", fmt.Sprintf("%.3f", r.WhiteRatio))
	switch {
	case r.Sparse:
		ui.Warning("content covers little of the page")
	case r.FullBleed:
		ui.Info("content fills the page")
	}
	if r.Passed {
		ui.Success("smoke test passed")
	}
}

func formatRect(l, b, r, t float64) string {
	return fmt.Sprintf("[%.1f %.1f %.1f %.1f]", l, b, r, t)
}

func newPreviewCmd() *cobra.Command {
	var (
		opts   analysis.PreviewOptions
		page   int
		output string
	)

	cmd := &cobra.Command{
		Use:   "preview <file>",
		Short: "Write a single page of a PDF or archive as an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, direction, err := readFor(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var preview *analysis.Preview
			err = exclusive(cmd, a, func() error {
				if direction == domain.DirectionPDFToCBZ {
					preview, err = a.Analyzer.PreviewPDFPage(cmd.Context(), data, page, opts)
				} else {
					preview, err = a.Analyzer.PreviewArchivePage(cmd.Context(), data, page-1, opts)
				}
				return err
			})
			if err != nil {
				return err
			}

			if output == "" {
				base := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
				ext := "jpg"
				if preview.Format == "png" {
					ext = "png"
				}
				output = fmt.Sprintf("%s_page%d.%s", base, page, ext)
			}
			if err := convert.WriteOutput(output, preview.Data); err != nil {
				return err
			}
			if outputJSON {
				return ui.JSON(map[string]interface{}{"output": output, "preview": preview})
			}
			ui.Success("Page %d of %d → %s (%d x %d)", preview.Page, preview.Pages, output, preview.Width, preview.Height)
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number (1-based)")
	cmd.Flags().StringVar(&opts.Format, "format", "jpeg", "image format (png or jpeg)")
	cmd.Flags().IntVar(&opts.DPI, "dpi", 0, "render resolution for PDF pages (default interactive DPI)")
	cmd.Flags().IntVarP(&opts.Quality, "quality", "q", 0, "JPEG quality 1-100")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default <name>_page<N>.<ext>)")
	return cmd
}

func newBenchmarkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "benchmark <file>",
		Short: "Compare stored and DEFLATE packing for an archive's pages",
		Long: `Pack the pages of an archive, or of a PDF converted with the configured
defaults, both stored and compressed with DEFLATE, and report the size and
time of each. Page images are already compressed, so DEFLATE rarely pays.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, direction, err := readFor(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			stop := ui.Spinner("preparing pages")
			if direction == domain.DirectionPDFToCBZ {
				data, _, err = a.Service.PdfToCbz(cmd.Context(), data, domain.PdfToCbzOptions{
					DPI:      cfg.Conversion.DPI,
					Quality:  cfg.Conversion.Quality,
					Lossless: cfg.Conversion.Lossless,
					Workers:  cfg.Conversion.EffectiveWorkers(),
				})
			}
			var entries []domain.ImageEntry
			if err == nil {
				entries, err = a.Service.Archive().Unpack(cmd.Context(), data)
			}
			stop()
			if err != nil {
				return err
			}

			result, err := archive.Benchmark(entries)
			if err != nil {
				return err
			}
			if outputJSON {
				return ui.JSON(result)
			}
			ui.Section("Packing benchmark")
			ui.KeyValue("Entries", result.Entries)
			ui.KeyValue("Image bytes", FormatBytes(result.InputBytes))
			ui.Table([]string{"METHOD", "SIZE", "TIME"}, [][]string{
				{"stored", FormatBytes(result.StoredBytes), FormatDuration(result.StoredDuration)},
				{fmt.Sprintf("deflate-%d", archive.BenchmarkLevel), FormatBytes(result.DeflateBytes), FormatDuration(result.DeflateDuration)},
			})
			ui.KeyValue("Stored speedup", fmt.Sprintf("%.1fx", result.Speedup))
			ui.KeyValue("Stored size penalty", fmt.Sprintf("%.1f%%", result.SizePenalty))
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent conversions from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.Ledger == nil {
				ui.Warning("no ledger configured; set ledger.driver to sqlite or postgres")
				return nil
			}

			recs, err := a.Service.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if outputJSON {
				return ui.JSON(recs)
			}
			rows := make([][]string, 0, len(recs))
			for _, r := range recs {
				rows = append(rows, []string{
					r.CreatedAt.Local().Format("2006-01-02 15:04"),
					string(r.Direction),
					r.InputName,
					r.Status,
					strconv.Itoa(r.Pages),
					FormatBytes(r.OutputBytes),
					r.Error,
				})
			}
			ui.Table([]string{"WHEN", "DIRECTION", "INPUT", "STATUS", "PAGES", "OUTPUT", "ERROR"}, rows)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	return cmd
}
