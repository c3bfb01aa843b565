package archive

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/spherical/pdfcbz/internal/domain"
)

// unpackRAR writes data to a temp file, runs the configured tool to extract
// it into a temp directory and collects the images found there. Both temp
// paths are removed on every exit path.
func (p *Packager) unpackRAR(ctx context.Context, data []byte) ([]domain.ImageEntry, error) {
	base := p.cfg.TempDir
	if base == "" {
		base = os.TempDir()
	}
	id := uuid.NewString()
	archivePath := filepath.Join(base, "pdfcbz_"+id+".cbr")
	extractDir := filepath.Join(base, "pdfcbz_extract_"+id)

	defer func() {
		if err := os.Remove(archivePath); err != nil && !os.IsNotExist(err) {
			p.log.Warn().Str("path", archivePath).Err(err).Msg("temp archive not removed")
		}
		if err := os.RemoveAll(extractDir); err != nil {
			p.log.Warn().Str("path", extractDir).Err(err).Msg("temp directory not removed")
		}
	}()

	if err := os.WriteFile(archivePath, data, 0o600); err != nil {
		return nil, domain.IOError("write temporary archive", err)
	}
	if err := os.MkdirAll(extractDir, 0o700); err != nil {
		return nil, domain.IOError("create extraction directory", err)
	}

	if err := p.runTool(ctx, extractDir, archivePath); err != nil {
		return nil, err
	}

	images, err := collectImages(extractDir)
	if err != nil {
		return nil, err
	}
	sortEntries(images)
	p.log.Debug().Int("images", len(images)).Msg("RAR archive read")
	return images, nil
}

func (p *Packager) runTool(ctx context.Context, extractDir, archivePath string) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ToolTimeout)
	defer cancel()

	args := append(append([]string{}, p.cfg.RarToolArgs...), extractDir, archivePath)
	cmd := exec.CommandContext(ctx, p.cfg.RarTool, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	p.log.Debug().Str("tool", p.cfg.RarTool).Strs("args", args).Msg("running RAR tool")
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return domain.ExternalToolError(p.cfg.RarTool+" not found; install it to read CBR files", err)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "RAR extraction failed"
		}
		return domain.ExternalToolError(msg, err)
	}
	return nil
}

// collectImages walks dir and reads every image file. Names are paths
// relative to dir with forward slashes.
func collectImages(dir string) ([]domain.ImageEntry, error) {
	var images []domain.ImageEntry
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !IsImageName(name) {
			return nil
		}
		body, err := os.ReadFile(p)
		if err != nil {
			return domain.ArchiveEntryReadError(name, err)
		}
		images = append(images, domain.ImageEntry{Name: name, Data: body})
		return nil
	})
	if err != nil {
		if domain.TypeOf(err) != "" {
			return nil, err
		}
		return nil, domain.ArchiveOpenError("walk extracted files", err)
	}
	return images, nil
}
