// Package convert drives whole conversions: it validates input, admits one
// conversion at a time, runs the page pipeline or the assembler, packages
// the result and records it.
package convert

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/spherical/pdfcbz/internal/archive"
	"github.com/spherical/pdfcbz/internal/cache"
	"github.com/spherical/pdfcbz/internal/config"
	"github.com/spherical/pdfcbz/internal/domain"
	"github.com/spherical/pdfcbz/internal/engine"
	"github.com/spherical/pdfcbz/internal/observability"
	"github.com/spherical/pdfcbz/internal/pdf"
	"github.com/spherical/pdfcbz/internal/pipeline"
)

// Deps are the collaborators of a Service. Cache and Ledger are optional.
type Deps struct {
	Engine    engine.Engine
	Archive   *archive.Packager
	Assembler *pdf.Assembler
	Cache     cache.Client
	Ledger    domain.Ledger
	Gate      *Gate
	Logger    *observability.Logger
}

// Settings tune a Service.
type Settings struct {
	// DefaultDPI replaces a zero DPI. Command line use wants
	// config.DefaultDPI, interactive use config.DefaultInteractiveDPI.
	DefaultDPI int
	// Workers is used when a request does not set its own.
	Workers  int
	CacheTTL time.Duration
	// WaitForGate makes a conversion wait for a running one to finish
	// instead of failing with a busy error.
	WaitForGate bool
}

// Service implements domain.Converter.
type Service struct {
	pipeline  *pipeline.Pipeline
	archive   *archive.Packager
	assembler *pdf.Assembler
	cache     cache.Client
	ledger    domain.Ledger
	gate      *Gate
	settings  Settings
	log       *observability.Logger
}

var _ domain.Converter = (*Service)(nil)

// NewService wires a Service.
func NewService(deps Deps, settings Settings) *Service {
	log := deps.Logger
	if log == nil {
		log = observability.Nop()
	}
	if deps.Gate == nil {
		deps.Gate = NewGate()
	}
	if deps.Archive == nil {
		deps.Archive = archive.New(config.ArchiveConfig{}, log)
	}
	if deps.Assembler == nil {
		deps.Assembler = pdf.NewAssembler(log)
	}
	if settings.DefaultDPI <= 0 {
		settings.DefaultDPI = config.DefaultDPI
	}
	if settings.CacheTTL <= 0 {
		settings.CacheTTL = time.Hour
	}
	return &Service{
		pipeline:  pipeline.New(deps.Engine, log),
		archive:   deps.Archive,
		assembler: deps.Assembler,
		cache:     deps.Cache,
		ledger:    deps.Ledger,
		gate:      deps.Gate,
		settings:  settings,
		log:       log.WithComponent("convert"),
	}
}

// Gate returns the admission gate shared by this service.
func (s *Service) Gate() *Gate {
	return s.gate
}

// Archive returns the packager used for CBZ/CBR input.
func (s *Service) Archive() *archive.Packager {
	return s.archive
}

// PdfToCbz converts a PDF to a CBZ archive.
func (s *Service) PdfToCbz(ctx context.Context, data []byte, opts domain.PdfToCbzOptions) ([]byte, *domain.ConversionStats, error) {
	if err := validateQuality(opts.Quality); err != nil {
		return nil, nil, err
	}
	if opts.DPI < 0 || opts.MaxPages < 0 {
		return nil, nil, domain.ValidationError("dpi and max pages must not be negative", nil)
	}
	if opts.DPI == 0 {
		opts.DPI = s.settings.DefaultDPI
	}
	if opts.Workers <= 0 {
		opts.Workers = s.settings.Workers
	}

	release, err := s.admit(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	start := time.Now()
	stats := &domain.ConversionStats{InputBytes: int64(len(data))}

	key := cache.Key(domain.DirectionPDFToCBZ, data, fmt.Sprintf("dpi=%d,lossless=%t,q=%d,max=%d,fast=%t",
		opts.DPI, opts.Lossless, opts.Quality, opts.MaxPages, opts.FastRender))
	if out, ok := s.cached(ctx, key, stats); ok {
		return out, s.finish(stats, out, start, true), nil
	}

	res, err := s.pipeline.Run(ctx, data, pipeline.Options{
		DPI:        opts.DPI,
		Lossless:   opts.Lossless,
		Quality:    opts.Quality,
		MaxPages:   opts.MaxPages,
		Workers:    opts.Workers,
		FastRender: opts.FastRender,
	}, opts.Progress)
	if err != nil {
		return nil, nil, err
	}
	stats.Pages = res.Pages
	stats.ExtractedPages = res.Extracted
	stats.RenderedPages = res.Rendered

	if err := ctx.Err(); err != nil {
		return nil, nil, domain.CancelledError(err)
	}
	opts.Progress.Emit(domain.ProgressEvent{Stage: domain.StagePackage, Total: res.Pages})
	out, err := archive.Pack(archive.FromPages(res.Entries))
	if err != nil {
		return nil, nil, err
	}

	s.store(ctx, key, out, stats)
	opts.Progress.Emit(domain.ProgressEvent{Stage: domain.StageDone, Total: res.Pages})
	return out, s.finish(stats, out, start, false), nil
}

// CbzToPdf converts a CBZ or CBR archive to a PDF.
func (s *Service) CbzToPdf(ctx context.Context, data []byte, opts domain.CbzToPdfOptions) ([]byte, *domain.ConversionStats, error) {
	if err := validateQuality(opts.Quality); err != nil {
		return nil, nil, err
	}

	release, err := s.admit(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	start := time.Now()
	stats := &domain.ConversionStats{InputBytes: int64(len(data))}

	key := cache.Key(domain.DirectionCBZToPDF, data, fmt.Sprintf("lossless=%t,q=%d", opts.Lossless, opts.Quality))
	if out, ok := s.cached(ctx, key, stats); ok {
		return out, s.finish(stats, out, start, true), nil
	}

	opts.Progress.Emit(domain.ProgressEvent{Stage: domain.StageUnpack})
	images, err := s.archive.Unpack(ctx, data)
	if err != nil {
		return nil, nil, err
	}
	if len(images) == 0 {
		return nil, nil, domain.NoImagesFoundError("no images found in archive")
	}
	stats.Pages = len(images)

	if err := ctx.Err(); err != nil {
		return nil, nil, domain.CancelledError(err)
	}
	opts.Progress.Emit(domain.ProgressEvent{Stage: domain.StageAssemble, Total: len(images)})
	out, err := s.assembler.Assemble(images, pdf.Options{Lossless: opts.Lossless, Quality: opts.Quality})
	if err != nil {
		return nil, nil, err
	}

	s.store(ctx, key, out, stats)
	opts.Progress.Emit(domain.ProgressEvent{Stage: domain.StageDone, Total: len(images)})
	return out, s.finish(stats, out, start, false), nil
}

// Record writes a ledger entry for a finished conversion. Ledger failures
// are logged, never returned.
func (s *Service) Record(ctx context.Context, direction domain.Direction, inputName string, inputBytes int64, stats *domain.ConversionStats, convErr error) {
	if s.ledger == nil {
		return
	}
	rec := &domain.ConversionRecord{
		Direction:  direction,
		InputName:  inputName,
		InputBytes: inputBytes,
		Status:     domain.StatusSucceeded,
	}
	if stats != nil {
		rec.OutputBytes = stats.OutputBytes
		rec.Pages = stats.Pages
		rec.ExtractedPages = stats.ExtractedPages
		rec.RenderedPages = stats.RenderedPages
		rec.DurationMS = stats.Duration.Milliseconds()
	}
	if convErr != nil {
		rec.Status = domain.StatusFailed
		rec.Error = domain.UserMessage(convErr)
	}
	// a cancelled conversion is still recorded
	if err := s.ledger.Record(context.WithoutCancel(ctx), rec); err != nil {
		s.log.Warn().Err(err).Str("input", inputName).Msg("conversion not recorded")
	}
}

// History returns recent ledger entries, or nil without a ledger.
func (s *Service) History(ctx context.Context, limit int) ([]domain.ConversionRecord, error) {
	if s.ledger == nil {
		return nil, nil
	}
	return s.ledger.Recent(ctx, limit)
}

func (s *Service) admit(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.CancelledError(err)
	}
	if s.settings.WaitForGate {
		release, err := s.gate.Acquire(ctx)
		if err != nil {
			return nil, domain.CancelledError(err)
		}
		return release, nil
	}
	release, ok := s.gate.TryAcquire()
	if !ok {
		return nil, domain.BusyError()
	}
	return release, nil
}

// cachedHeaderLen is the size of the page counts stored ahead of a cached
// output: pages, extracted and rendered as big-endian uint32s.
const cachedHeaderLen = 12

func (s *Service) cached(ctx context.Context, key string, stats *domain.ConversionStats) ([]byte, bool) {
	if s.cache == nil {
		return nil, false
	}
	entry, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Warn().Err(err).Msg("cache lookup failed")
		}
		return nil, false
	}
	if len(entry) < cachedHeaderLen {
		s.log.Warn().Int("bytes", len(entry)).Msg("cache entry truncated, ignoring")
		return nil, false
	}
	stats.Pages = int(binary.BigEndian.Uint32(entry[0:4]))
	stats.ExtractedPages = int(binary.BigEndian.Uint32(entry[4:8]))
	stats.RenderedPages = int(binary.BigEndian.Uint32(entry[8:12]))
	out := entry[cachedHeaderLen:]
	s.log.Debug().Int("bytes", len(out)).Msg("cache hit")
	return out, true
}

func (s *Service) store(ctx context.Context, key string, out []byte, stats *domain.ConversionStats) {
	if s.cache == nil {
		return
	}
	entry := make([]byte, cachedHeaderLen, cachedHeaderLen+len(out))
	binary.BigEndian.PutUint32(entry[0:4], uint32(stats.Pages))
	binary.BigEndian.PutUint32(entry[4:8], uint32(stats.ExtractedPages))
	binary.BigEndian.PutUint32(entry[8:12], uint32(stats.RenderedPages))
	entry = append(entry, out...)
	if err := s.cache.Set(ctx, key, entry, s.settings.CacheTTL); err != nil {
		s.log.Warn().Err(err).Msg("cache store failed")
	}
}

func (s *Service) finish(stats *domain.ConversionStats, out []byte, start time.Time, hit bool) *domain.ConversionStats {
	stats.OutputBytes = int64(len(out))
	stats.Duration = time.Since(start)
	stats.CacheHit = hit
	s.log.Info().
		Int("pages", stats.Pages).
		Int("extracted", stats.ExtractedPages).
		Int("rendered", stats.RenderedPages).
		Int64("input_bytes", stats.InputBytes).
		Int64("output_bytes", stats.OutputBytes).
		Bool("cache_hit", hit).
		Dur("duration", stats.Duration).
		Msg("conversion complete")
	return stats
}

func validateQuality(q int) error {
	if err := config.ValidateQuality(q); err != nil {
		return domain.ValidationError("quality must be 1-100", err)
	}
	return nil
}
