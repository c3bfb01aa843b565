// Package archive reads and writes comic book archives.
//
// CBZ output is a ZIP whose entries are stored without compression; page
// images are already compressed. CBZ input is read in-process. CBR input is
// detected by its RAR signature and unpacked with an external tool.
package archive

import (
	"bytes"
	"context"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/pkg/errors"

	"github.com/spherical/pdfcbz/internal/config"
	"github.com/spherical/pdfcbz/internal/domain"
	"github.com/spherical/pdfcbz/internal/observability"
)

var (
	rar4Magic = []byte("Rar!\x1a\x07\x00")
	rar5Magic = []byte("Rar!\x1a\x07\x01\x00")
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".gif":  true,
}

// Packager packs and unpacks archives.
type Packager struct {
	cfg config.ArchiveConfig
	log *observability.Logger
}

// New creates a Packager. Zero fields of cfg take their defaults.
func New(cfg config.ArchiveConfig, log *observability.Logger) *Packager {
	if log == nil {
		log = observability.Nop()
	}
	def := config.DefaultConfig().Archive
	if cfg.RarTool == "" {
		cfg.RarTool = def.RarTool
		if cfg.RarToolArgs == nil {
			cfg.RarToolArgs = def.RarToolArgs
		}
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = def.ToolTimeout
	}
	return &Packager{cfg: cfg, log: log.WithComponent("archive")}
}

// IsRAR reports whether data starts with a RAR 4 or RAR 5 signature.
func IsRAR(data []byte) bool {
	return bytes.HasPrefix(data, rar5Magic) || bytes.HasPrefix(data, rar4Magic)
}

// IsImageName reports whether name looks like a page image. Directories and
// dot-files are not.
func IsImageName(name string) bool {
	if strings.HasSuffix(name, "/") {
		return false
	}
	base := path.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return imageExtensions[strings.ToLower(path.Ext(base))]
}

// FromPages turns pipeline output into archive entries, keeping order.
func FromPages(pages []domain.PageEntry) []domain.ImageEntry {
	out := make([]domain.ImageEntry, len(pages))
	for i, p := range pages {
		out[i] = domain.ImageEntry{Name: p.Filename, Data: p.Data}
	}
	return out
}

// Pack writes entries to a ZIP archive in the given order, uncompressed.
func Pack(entries []domain.ImageEntry) ([]byte, error) {
	return pack(zip.NewWriter, entries, zip.Store)
}

func pack(newWriter func(io.Writer) *zip.Writer, entries []domain.ImageEntry, method uint16) ([]byte, error) {
	var buf bytes.Buffer
	zw := newWriter(&buf)

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Name == "" {
			return nil, domain.ValidationError("archive entry without a name", nil)
		}
		if seen[e.Name] {
			return nil, domain.ValidationError("duplicate archive entry "+e.Name, nil)
		}
		seen[e.Name] = true

		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.Name, Method: method})
		if err != nil {
			return nil, domain.SerializationError("add "+e.Name, err)
		}
		if _, err := w.Write(e.Data); err != nil {
			return nil, domain.SerializationError("write "+e.Name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, domain.SerializationError("finalize archive", err)
	}
	return buf.Bytes(), nil
}

// Unpack returns the images held in a CBZ or CBR archive sorted by name.
// An archive without images yields an empty slice and no error.
func (p *Packager) Unpack(ctx context.Context, data []byte) ([]domain.ImageEntry, error) {
	if IsRAR(data) {
		p.log.Debug().Int("bytes", len(data)).Msg("RAR signature found")
		return p.unpackRAR(ctx, data)
	}
	return p.unpackZip(data)
}

func (p *Packager) unpackZip(data []byte) ([]domain.ImageEntry, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, domain.ArchiveOpenError("open ZIP archive", err)
	}

	var images []domain.ImageEntry
	skipped := 0
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !IsImageName(f.Name) {
			skipped++
			continue
		}
		body, err := readZipFile(f)
		if err != nil {
			return nil, domain.ArchiveEntryReadError(f.Name, err)
		}
		images = append(images, domain.ImageEntry{Name: f.Name, Data: body})
	}

	sortEntries(images)
	p.log.Debug().Int("images", len(images)).Int("skipped", skipped).Msg("ZIP archive read")
	return images, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, errors.Wrap(err, "open entry")
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrap(err, "read entry")
	}
	return body, nil
}

func sortEntries(entries []domain.ImageEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
}

// PageAt returns the image at index in name order, for previews.
func (p *Packager) PageAt(ctx context.Context, data []byte, index int) (domain.ImageEntry, int, error) {
	images, err := p.Unpack(ctx, data)
	if err != nil {
		return domain.ImageEntry{}, 0, err
	}
	if len(images) == 0 {
		return domain.ImageEntry{}, 0, domain.NoImagesFoundError("archive holds no images")
	}
	if index < 0 || index >= len(images) {
		return domain.ImageEntry{}, len(images), domain.ValidationError("page index out of range", nil)
	}
	return images[index], len(images), nil
}
