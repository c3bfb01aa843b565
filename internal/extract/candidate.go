// Package extract picks the embedded image that best represents a page and
// pulls it out of the page without rasterising.
package extract

import (
	"github.com/pkg/errors"

	"github.com/spherical/pdfcbz/internal/engine"
	"github.com/spherical/pdfcbz/internal/observability"
)

// MinCoverage is the smallest fraction of the page box an image must cover
// to be extracted instead of rendering the page.
const MinCoverage = 0.005

// ImageCandidate is an image object eligible for direct extraction.
// ObjectIndex is only valid for the page handle it was computed from.
type ImageCandidate struct {
	ObjectIndex   int
	Bounds        engine.Rect
	Coverage      float64
	CanExtractRaw bool
}

// Selector finds extraction candidates.
type Selector struct {
	log *observability.Logger
}

// NewSelector creates a Selector.
func NewSelector(log *observability.Logger) *Selector {
	if log == nil {
		log = observability.Nop()
	}
	return &Selector{log: log.WithComponent("selector")}
}

// FindBestImageCandidate returns the top-level image object with the
// largest coverage of the page's crop box (media box when there is no crop
// box), along with that box. It returns a nil candidate when no image
// reaches MinCoverage.
func (s *Selector) FindBestImageCandidate(page engine.Page) (*ImageCandidate, engine.Rect, error) {
	box := engine.EffectiveBox(page)
	boxArea := box.Area()
	if boxArea == 0 {
		return nil, box, errors.Errorf("page %d has an empty page box", page.Number())
	}

	objects, err := page.Objects()
	if err != nil {
		return nil, box, errors.Wrapf(err, "enumerate objects on page %d", page.Number())
	}

	var best *ImageCandidate
	images := 0
	for i, obj := range objects {
		if obj.Kind != engine.KindImage || !obj.HasBounds {
			continue
		}
		images++
		coverage := obj.Bounds.Normalize().Area() / boxArea
		if coverage > 1 {
			coverage = 1
		}
		if best == nil || coverage > best.Coverage {
			best = &ImageCandidate{
				ObjectIndex:   i,
				Bounds:        obj.Bounds,
				Coverage:      coverage,
				CanExtractRaw: obj.RawAvailable,
			}
		}
	}

	if best == nil {
		s.log.Debug().Int("page", page.Number()).Int("objects", len(objects)).Msg("no image objects")
		return nil, box, nil
	}
	if best.Coverage < MinCoverage {
		s.log.Debug().
			Int("page", page.Number()).
			Int("images", images).
			Float64("coverage", best.Coverage).
			Msg("largest image below coverage threshold")
		return nil, box, nil
	}

	s.log.Debug().
		Int("page", page.Number()).
		Int("object", best.ObjectIndex).
		Float64("coverage", best.Coverage).
		Bool("raw", best.CanExtractRaw).
		Msg("image candidate selected")
	return best, box, nil
}
