package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pdfcbz/internal/config"
	"github.com/spherical/pdfcbz/internal/domain"
	"github.com/spherical/pdfcbz/internal/engine/enginetest"
)

func TestNew_Defaults(t *testing.T) {
	a, err := New(context.Background(), config.DefaultConfig(), nil, ModeCLI, Options{Engine: enginetest.New()})
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Cache)
	assert.Nil(t, a.Ledger, "a disabled ledger is a nil interface")
	assert.NotNil(t, a.Service)
	assert.NotNil(t, a.Analyzer)
	assert.Equal(t, config.DefaultQuality, a.Quality(ModeCLI))
	assert.Equal(t, config.DefaultInteractiveQuality, a.Quality(ModeInteractive))
}

func TestNew_WithBackends(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Cache.Driver = "memory"
	cfg.Ledger = config.LedgerConfig{Driver: "sqlite", DSN: filepath.Join(dir, "ledger.db")}

	eng := enginetest.New(enginetest.PageSpec{WidthPt: 72, HeightPt: 144})
	a, err := New(context.Background(), cfg, nil, ModeInteractive, Options{Engine: eng})
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.Cache)
	require.NotNil(t, a.Ledger)

	in := filepath.Join(dir, "book.pdf")
	require.NoError(t, os.WriteFile(in, []byte("%PDF-1.4"), 0o644))
	out := filepath.Join(dir, "book.cbz")

	stats, err := a.Service.PdfToCbzFile(context.Background(), in, out, domain.PdfToCbzOptions{Quality: a.Quality(ModeInteractive)})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pages)
	assert.FileExists(t, out)

	// interactive mode renders at the interactive default
	require.Len(t, eng.Renders(), 1)
	assert.Equal(t, 200, eng.Renders()[0].Width)

	recs, err := a.Service.History(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "book.pdf", recs[0].InputName)
	assert.Equal(t, domain.StatusSucceeded, recs[0].Status)
}

func TestNew_BadCacheDriver(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Cache.Driver = "memcached"
	_, err := New(context.Background(), cfg, nil, ModeCLI, Options{Engine: enginetest.New()})
	assert.Error(t, err)
}
