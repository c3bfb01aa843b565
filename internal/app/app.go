// Package app wires the conversion service, analyzer, cache and ledger from
// a loaded configuration. Both binaries build on it.
package app

import (
	"context"
	"io"

	"github.com/spherical/pdfcbz/internal/analysis"
	"github.com/spherical/pdfcbz/internal/archive"
	"github.com/spherical/pdfcbz/internal/cache"
	"github.com/spherical/pdfcbz/internal/config"
	"github.com/spherical/pdfcbz/internal/convert"
	"github.com/spherical/pdfcbz/internal/domain"
	"github.com/spherical/pdfcbz/internal/engine"
	"github.com/spherical/pdfcbz/internal/engine/mupdf"
	"github.com/spherical/pdfcbz/internal/observability"
	"github.com/spherical/pdfcbz/internal/pdf"
	"github.com/spherical/pdfcbz/internal/store"
)

// Mode selects the defaults a binary converts with.
type Mode int

const (
	// ModeCLI waits for the gate and uses the command line defaults.
	ModeCLI Mode = iota
	// ModeInteractive rejects concurrent work and uses the interactive defaults.
	ModeInteractive
)

// App holds the wired components.
type App struct {
	Config   *config.Config
	Logger   *observability.Logger
	Service  *convert.Service
	Analyzer *analysis.Analyzer
	Cache    cache.Client
	Ledger   domain.Ledger

	closers []io.Closer
}

// Options override parts of the wiring, mostly for tests.
type Options struct {
	Engine engine.Engine
}

// New builds an App. Optional backends that fail to start are errors; a
// driver of "none" leaves them unset.
func New(ctx context.Context, cfg *config.Config, log *observability.Logger, mode Mode, opts Options) (*App, error) {
	if log == nil {
		log = observability.Nop()
	}
	eng := opts.Engine
	if eng == nil {
		eng = mupdf.New(log)
	}

	a := &App{Config: cfg, Logger: log}

	c, err := cache.New(cfg.Cache)
	if err != nil {
		return nil, err
	}
	if c != nil {
		a.Cache = c
		a.closers = append(a.closers, c)
		log.Info().Str("driver", cfg.Cache.Driver).Msg("result cache enabled")
	}

	ledger, err := openLedger(ctx, cfg.Ledger, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	if ledger != nil {
		a.Ledger = ledger
		a.closers = append(a.closers, ledger)
		log.Info().Str("driver", cfg.Ledger.Driver).Msg("conversion ledger enabled")
	}

	settings := convert.Settings{
		DefaultDPI:  cfg.Conversion.DPI,
		Workers:     cfg.Conversion.EffectiveWorkers(),
		CacheTTL:    cfg.Cache.TTL,
		WaitForGate: true,
	}
	if mode == ModeInteractive {
		settings.DefaultDPI = cfg.Conversion.InteractiveDPI
		settings.WaitForGate = false
	}

	pkg := archive.New(cfg.Archive, log)
	a.Service = convert.NewService(convert.Deps{
		Engine:    eng,
		Archive:   pkg,
		Assembler: pdf.NewAssembler(log),
		Cache:     a.Cache,
		Ledger:    a.Ledger,
		Logger:    log,
	}, settings)
	a.Analyzer = analysis.New(eng, pkg, log)
	return a, nil
}

// openLedger keeps a disabled ledger a nil interface rather than a typed nil.
func openLedger(ctx context.Context, cfg config.LedgerConfig, log *observability.Logger) (domain.Ledger, error) {
	l, err := store.Open(ctx, cfg, log)
	if err != nil || l == nil {
		return nil, err
	}
	return l, nil
}

// Quality returns the default JPEG quality for mode.
func (a *App) Quality(mode Mode) int {
	if mode == ModeInteractive {
		return a.Config.Conversion.InteractiveQuality
	}
	return a.Config.Conversion.Quality
}

// Close releases the cache and ledger.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}
