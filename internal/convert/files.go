package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spherical/pdfcbz/internal/domain"
	"github.com/spherical/pdfcbz/internal/observability"
)

// LargeInputBytes is the size above which an input file draws a warning.
const LargeInputBytes = 100 * 1024 * 1024

var (
	PDFExtensions     = []string{".pdf"}
	ArchiveExtensions = []string{".cbz", ".cbr", ".zip", ".rar"}
)

// DirectionFor picks the conversion direction from a file extension.
func DirectionFor(path string) (domain.Direction, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if hasExt(PDFExtensions, ext) {
		return domain.DirectionPDFToCBZ, nil
	}
	if hasExt(ArchiveExtensions, ext) {
		return domain.DirectionCBZToPDF, nil
	}
	return "", domain.ValidationError(fmt.Sprintf("unsupported file type %q", ext), nil)
}

// DefaultOutputPath swaps the extension of input for the one the direction
// produces. A non-empty dir replaces the input's directory.
func DefaultOutputPath(input, dir string, direction domain.Direction) string {
	ext := ".cbz"
	if direction == domain.DirectionCBZToPDF {
		ext = ".pdf"
	}
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input)) + ext
	if dir == "" {
		dir = filepath.Dir(input)
	}
	return filepath.Join(dir, base)
}

// ValidateInputPath checks that path is a readable regular file with one of
// the given extensions.
func ValidateInputPath(path string, exts []string, log *observability.Logger) error {
	if strings.TrimSpace(path) == "" {
		return domain.ValidationError("file path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.InputNotFoundError(fmt.Sprintf("file does not exist: %s", path), err)
		}
		return domain.InputNotReadableError(fmt.Sprintf("cannot access file: %s", path), err)
	}
	if info.IsDir() {
		return domain.InputNotReadableError(fmt.Sprintf("path is a directory, not a file: %s", path), nil)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !hasExt(exts, ext) {
		return domain.ValidationError(fmt.Sprintf("expected %s file, got %q", strings.Join(exts, "/"), ext), nil)
	}

	if info.Size() > LargeInputBytes && log != nil {
		log.Warn().Str("path", path).Int64("mb", info.Size()/(1024*1024)).Msg("input is very large, conversion may take a while")
	}
	return nil
}

func hasExt(exts []string, ext string) bool {
	for _, e := range exts {
		if e == ext {
			return true
		}
	}
	return false
}

func readInput(path string, exts []string, log *observability.Logger) ([]byte, error) {
	if err := ValidateInputPath(path, exts, log); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.InputNotReadableError("read "+path, err)
	}
	return data, nil
}

// WriteOutput writes data to path through a temporary file in the same
// directory, so a failed write never leaves a partial file at path.
func WriteOutput(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.IOError("create output directory", err)
	}
	tmp, err := os.CreateTemp(dir, ".pdfcbz-*")
	if err != nil {
		return domain.IOError("create temporary output", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return domain.IOError("write output", err)
	}
	if err := tmp.Close(); err != nil {
		return domain.IOError("write output", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return domain.IOError("write output", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return domain.IOError("move output into place", err)
	}
	return nil
}

// PdfToCbzFile converts the PDF at in and writes the archive to out. The
// conversion is recorded in the ledger either way.
func (s *Service) PdfToCbzFile(ctx context.Context, in, out string, opts domain.PdfToCbzOptions) (*domain.ConversionStats, error) {
	data, err := readInput(in, PDFExtensions, s.log)
	if err != nil {
		return nil, err
	}
	stats, err := s.convertFile(ctx, out, func() ([]byte, *domain.ConversionStats, error) {
		return s.PdfToCbz(ctx, data, opts)
	})
	s.Record(ctx, domain.DirectionPDFToCBZ, filepath.Base(in), int64(len(data)), stats, err)
	return stats, err
}

// CbzToPdfFile converts the CBZ/CBR archive at in and writes the PDF to out.
func (s *Service) CbzToPdfFile(ctx context.Context, in, out string, opts domain.CbzToPdfOptions) (*domain.ConversionStats, error) {
	data, err := readInput(in, ArchiveExtensions, s.log)
	if err != nil {
		return nil, err
	}
	stats, err := s.convertFile(ctx, out, func() ([]byte, *domain.ConversionStats, error) {
		return s.CbzToPdf(ctx, data, opts)
	})
	s.Record(ctx, domain.DirectionCBZToPDF, filepath.Base(in), int64(len(data)), stats, err)
	return stats, err
}

func (s *Service) convertFile(ctx context.Context, out string, run func() ([]byte, *domain.ConversionStats, error)) (*domain.ConversionStats, error) {
	result, stats, err := run()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.CancelledError(err)
	}
	if err := WriteOutput(out, result); err != nil {
		return nil, err
	}
	s.log.Info().Str("output", out).Int64("bytes", stats.OutputBytes).Msg("output written")
	return stats, nil
}
