package archive

import (
	"bytes"
	"context"
	"image/color"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pdfcbz/internal/config"
	"github.com/spherical/pdfcbz/internal/domain"
	"github.com/spherical/pdfcbz/internal/testutil"
)

func names(entries []domain.ImageEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func TestPack_StoredAndOrdered(t *testing.T) {
	entries := []domain.ImageEntry{
		{Name: "page_0002.jpg", Data: []byte("two")},
		{Name: "page_0001.jpg", Data: []byte("one")},
	}

	data, err := Pack(entries)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "page_0002.jpg", zr.File[0].Name)
	for _, f := range zr.File {
		assert.Equal(t, zip.Store, f.Method)
	}
}

func TestPack_RejectsBadNames(t *testing.T) {
	_, err := Pack([]domain.ImageEntry{{Name: "a.jpg"}, {Name: "a.jpg"}})
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))

	_, err = Pack([]domain.ImageEntry{{Name: ""}})
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
}

func TestPackUnpack_RoundTrip(t *testing.T) {
	jpeg := testutil.JPEG(t, 8, 8, color.White)
	png := testutil.PNG(t, 4, 4, color.Black)
	pages := []domain.PageEntry{
		{PageNumber: 1, Filename: "page_0001.jpg", Data: jpeg},
		{PageNumber: 2, Filename: "page_0002.png", Data: png},
	}

	data, err := Pack(FromPages(pages))
	require.NoError(t, err)

	got, err := New(config.ArchiveConfig{}, nil).Unpack(context.Background(), data)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "page_0001.jpg", got[0].Name)
	assert.Equal(t, jpeg, got[0].Data)
	assert.Equal(t, "page_0002.png", got[1].Name)
	assert.Equal(t, png, got[1].Data)
}

func TestUnpack_SortsByName(t *testing.T) {
	data := testutil.Zip(t,
		testutil.Entry{Name: "b.jpg", Data: []byte("b")},
		testutil.Entry{Name: "a.jpg", Data: []byte("a")},
		testutil.Entry{Name: "c.jpg", Data: []byte("c")},
	)

	got, err := New(config.ArchiveConfig{}, nil).Unpack(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.jpg", "c.jpg"}, names(got))
}

func TestUnpack_FiltersEntries(t *testing.T) {
	data := testutil.Zip(t,
		testutil.Entry{Name: "ComicInfo.xml", Data: []byte("<x/>")},
		testutil.Entry{Name: "scans/", Data: nil},
		testutil.Entry{Name: "scans/01.JPEG", Data: []byte("1")},
		testutil.Entry{Name: "scans/.thumb.jpg", Data: []byte("t")},
		testutil.Entry{Name: "02.webp", Data: []byte("2")},
		testutil.Entry{Name: "03.Gif", Data: []byte("3")},
		testutil.Entry{Name: "04.tiff", Data: []byte("4")},
	)

	got, err := New(config.ArchiveConfig{}, nil).Unpack(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, []string{"02.webp", "03.Gif", "scans/01.JPEG"}, names(got))
}

func TestUnpack_Empty(t *testing.T) {
	got, err := New(config.ArchiveConfig{}, nil).Unpack(context.Background(), testutil.Zip(t))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUnpack_NotAnArchive(t *testing.T) {
	_, err := New(config.ArchiveConfig{}, nil).Unpack(context.Background(), []byte("plain text"))
	assert.True(t, domain.IsType(err, domain.ErrorTypeArchiveOpenFailed))
}

func TestIsRAR(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"rar4", []byte("Rar!\x1a\x07\x00rest"), true},
		{"rar5", []byte("Rar!\x1a\x07\x01\x00rest"), true},
		{"rar4 signature only", []byte("Rar!\x1a\x07\x00"), true},
		{"truncated", []byte("Rar!\x1a\x07"), false},
		{"unknown version", []byte("Rar!\x1a\x07\x02\x00"), false},
		{"zip", []byte("PK\x03\x04"), false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRAR(tt.data))
		})
	}
}

// fakeTool writes a shell script standing in for unar.
func fakeTool(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script tool")
	}
	p := filepath.Join(t.TempDir(), "fake-unar")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return p
}

func TestUnpack_RAR(t *testing.T) {
	tool := fakeTool(t, `out="$2"
mkdir -p "$out/vol1"
printf b > "$out/b.jpg"
printf a > "$out/vol1/a.png"
printf n > "$out/notes.txt"`)
	tmp := t.TempDir()
	p := New(config.ArchiveConfig{RarTool: tool, RarToolArgs: []string{"-o"}, TempDir: tmp}, nil)

	got, err := p.Unpack(context.Background(), []byte("Rar!\x1a\x07\x01\x00payload"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b.jpg", "vol1/a.png"}, names(got))
	assert.Equal(t, []byte("a"), got[1].Data)

	left, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, left, "temp files must be removed")
}

func TestUnpack_RARToolFailure(t *testing.T) {
	tool := fakeTool(t, `echo "unar: archive is corrupt" >&2
exit 1`)
	tmp := t.TempDir()
	p := New(config.ArchiveConfig{RarTool: tool, RarToolArgs: []string{"-o"}, TempDir: tmp}, nil)

	_, err := p.Unpack(context.Background(), []byte("Rar!\x1a\x07\x00payload"))
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeExternalToolFailed))
	assert.Contains(t, err.Error(), "unar: archive is corrupt")

	left, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestUnpack_RARToolMissing(t *testing.T) {
	p := New(config.ArchiveConfig{RarTool: "pdfcbz-no-such-tool", TempDir: t.TempDir(), ToolTimeout: time.Second}, nil)

	_, err := p.Unpack(context.Background(), []byte("Rar!\x1a\x07\x00payload"))
	assert.True(t, domain.IsType(err, domain.ErrorTypeExternalToolFailed))
	assert.Contains(t, err.Error(), "not found")
}

func TestPageAt(t *testing.T) {
	data := testutil.Zip(t,
		testutil.Entry{Name: "2.jpg", Data: []byte("2")},
		testutil.Entry{Name: "1.jpg", Data: []byte("1")},
	)
	p := New(config.ArchiveConfig{}, nil)

	e, total, err := p.PageAt(context.Background(), data, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, "2.jpg", e.Name)

	_, _, err = p.PageAt(context.Background(), data, 2)
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))

	_, _, err = p.PageAt(context.Background(), testutil.Zip(t), 0)
	assert.True(t, domain.IsType(err, domain.ErrorTypeNoImagesFound))
}

func TestBenchmark(t *testing.T) {
	// highly compressible payloads so DEFLATE clearly wins on size
	entries := []domain.ImageEntry{
		{Name: "a.png", Data: bytes.Repeat([]byte("a"), 64<<10)},
		{Name: "b.png", Data: bytes.Repeat([]byte("b"), 64<<10)},
	}

	res, err := Benchmark(entries)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Entries)
	assert.Equal(t, int64(128<<10), res.InputBytes)
	assert.Greater(t, res.StoredBytes, res.InputBytes)
	assert.Less(t, res.DeflateBytes, res.StoredBytes)
	assert.Greater(t, res.SizePenalty, 0.0)
}
