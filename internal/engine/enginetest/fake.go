// Package enginetest provides an in-memory engine for tests.
package enginetest

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"sync/atomic"

	"github.com/spherical/pdfcbz/internal/engine"
)

// ErrLoad is the default Load failure.
var ErrLoad = errors.New("fake engine: cannot load document")

// PageSpec describes one fake page.
type PageSpec struct {
	WidthPt, HeightPt float64
	Crop              *engine.Rect
	Objects           []engine.Object
	// Bitmaps holds raw bitmaps by object index.
	Bitmaps map[int]image.Image
	// RawErr forces RawBitmap to fail for an object index.
	RawErr map[int]error
	// ObjectsErr forces Objects to fail.
	ObjectsErr error
	RenderErr  error
	// Fill is the colour renders are painted with. Defaults to PageColor.
	Fill color.Color
}

// PageColor is a colour that identifies a page number after a lossy round trip.
func PageColor(page int) color.RGBA {
	v := uint8((page * 20) % 256)
	return color.RGBA{R: v, G: 255 - v, B: 128, A: 255}
}

// Engine is a fake engine.Engine. It counts calls and flags any overlap of
// engine calls from different goroutines.
type Engine struct {
	Pages []PageSpec
	// FailLoad makes Load fail with LoadErr, or ErrLoad when LoadErr is nil.
	FailLoad bool
	LoadErr  error

	mu          sync.Mutex
	loads       int
	renders     []RenderCall
	rawCalls    []int
	closed      int
	inFlight    int32
	overlapSeen atomic.Bool
}

// RenderCall records a Render invocation.
type RenderCall struct {
	Page          int
	Width, Height int
}

// New returns a fake engine with the given pages.
func New(pages ...PageSpec) *Engine {
	return &Engine{Pages: pages}
}

// Load implements engine.Engine.
func (e *Engine) Load(data []byte) (engine.Document, error) {
	defer e.enter()()
	e.mu.Lock()
	e.loads++
	e.mu.Unlock()
	if e.FailLoad {
		if e.LoadErr != nil {
			return nil, e.LoadErr
		}
		return nil, ErrLoad
	}
	return &document{e: e}, nil
}

// Loads returns how many times Load was called.
func (e *Engine) Loads() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loads
}

// Renders returns the recorded render calls.
func (e *Engine) Renders() []RenderCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]RenderCall(nil), e.renders...)
}

// RawCalls returns the pages RawBitmap was called for.
func (e *Engine) RawCalls() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.rawCalls...)
}

// Closed returns how many documents were closed.
func (e *Engine) Closed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Overlapped reports whether two engine calls ever ran at the same time.
func (e *Engine) Overlapped() bool {
	return e.overlapSeen.Load()
}

func (e *Engine) enter() func() {
	if atomic.AddInt32(&e.inFlight, 1) > 1 {
		e.overlapSeen.Store(true)
	}
	return func() { atomic.AddInt32(&e.inFlight, -1) }
}

type document struct {
	e *Engine
}

func (d *document) PageCount() int {
	defer d.e.enter()()
	return len(d.e.Pages)
}

func (d *document) Page(index int) (engine.Page, error) {
	defer d.e.enter()()
	if index < 0 || index >= len(d.e.Pages) {
		return nil, fmt.Errorf("%w: %d", engine.ErrPageIndex, index)
	}
	return &page{e: d.e, spec: d.e.Pages[index], number: index + 1}, nil
}

func (d *document) Close() error {
	d.e.mu.Lock()
	d.e.closed++
	d.e.mu.Unlock()
	return nil
}

type page struct {
	e      *Engine
	spec   PageSpec
	number int
}

func (p *page) Number() int { return p.number }

func (p *page) Size() (float64, float64) {
	defer p.e.enter()()
	return p.spec.WidthPt, p.spec.HeightPt
}

func (p *page) MediaBox() engine.Rect {
	return engine.Rect{Right: p.spec.WidthPt, Top: p.spec.HeightPt}
}

func (p *page) CropBox() (engine.Rect, bool) {
	if p.spec.Crop == nil {
		return engine.Rect{}, false
	}
	return *p.spec.Crop, true
}

func (p *page) Objects() ([]engine.Object, error) {
	defer p.e.enter()()
	if p.spec.ObjectsErr != nil {
		return nil, p.spec.ObjectsErr
	}
	return append([]engine.Object(nil), p.spec.Objects...), nil
}

func (p *page) RawBitmap(objectIndex int) (image.Image, error) {
	defer p.e.enter()()
	p.e.mu.Lock()
	p.e.rawCalls = append(p.e.rawCalls, p.number)
	p.e.mu.Unlock()

	if objectIndex < 0 || objectIndex >= len(p.spec.Objects) {
		return nil, engine.ErrObjectIndex
	}
	if p.spec.Objects[objectIndex].Kind != engine.KindImage {
		return nil, engine.ErrNotImage
	}
	if err := p.spec.RawErr[objectIndex]; err != nil {
		return nil, err
	}
	img, ok := p.spec.Bitmaps[objectIndex]
	if !ok {
		return nil, engine.ErrRawUnavailable
	}
	return img, nil
}

func (p *page) Render(w, h int) (image.Image, error) {
	defer p.e.enter()()
	p.e.mu.Lock()
	p.e.renders = append(p.e.renders, RenderCall{Page: p.number, Width: w, Height: h})
	p.e.mu.Unlock()

	if p.spec.RenderErr != nil {
		return nil, p.spec.RenderErr
	}
	fill := p.spec.Fill
	if fill == nil {
		fill = PageColor(p.number)
	}
	return Solid(w, h, fill), nil
}

// Solid returns a w x h image painted with c.
func Solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

// ImageObject returns an image object covering r.
func ImageObject(r engine.Rect) engine.Object {
	return engine.Object{Kind: engine.KindImage, Bounds: r, HasBounds: true, RawAvailable: true}
}
