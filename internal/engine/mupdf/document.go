// Package mupdf implements engine.Engine with MuPDF (through go-fitz) for
// page geometry and rasterisation, and pdfcpu for the page object graph
// and embedded image streams.
package mupdf

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // decoders for extracted image streams
	_ "image/png"
	"sync"

	"github.com/disintegration/imaging"
	fitz "github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/pkg/errors"
	_ "golang.org/x/image/tiff" // pdfcpu emits CMYK and CCITT images as TIFF

	"github.com/spherical/pdfcbz/internal/engine"
	"github.com/spherical/pdfcbz/internal/observability"
)

// nativeDPI is the resolution at which one point is one pixel.
const nativeDPI = 72.0

var errNoObjectGraph = errors.New("page object graph unavailable")

var configOnce sync.Once

// Engine opens PDFs with MuPDF and pdfcpu.
type Engine struct {
	log *observability.Logger
}

// New creates an Engine.
func New(log *observability.Logger) *Engine {
	if log == nil {
		log = observability.Nop()
	}
	return &Engine{log: log.WithComponent("mupdf")}
}

// Load implements engine.Engine. A document MuPDF can open but pdfcpu cannot
// parse still loads; its pages report no objects and always render.
func (e *Engine) Load(data []byte) (engine.Document, error) {
	fz, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, errors.Wrap(err, "open document")
	}

	doc := &Document{fz: fz, log: e.log}
	ctx, err := readObjectGraph(data)
	if err != nil {
		e.log.Warn().Err(err).Msg("object graph unavailable, every page will be rendered")
	} else {
		doc.ctx = ctx
	}
	return doc, nil
}

func readObjectGraph(data []byte) (ctx *model.Context, err error) {
	configOnce.Do(api.DisableConfigDir)

	// pdfcpu can panic on malformed input
	defer func() {
		if r := recover(); r != nil {
			ctx, err = nil, fmt.Errorf("pdfcpu: %v", r)
		}
	}()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err = api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, errors.Wrap(err, "read object graph")
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, errors.Wrap(err, "count pages")
	}
	return ctx, nil
}

// Document is an open PDF.
type Document struct {
	fz  *fitz.Document
	ctx *model.Context
	log *observability.Logger
}

// PageCount implements engine.Document.
func (d *Document) PageCount() int {
	return d.fz.NumPage()
}

// Page implements engine.Document.
func (d *Document) Page(index int) (engine.Page, error) {
	if index < 0 || index >= d.fz.NumPage() {
		return nil, fmt.Errorf("%w: %d", engine.ErrPageIndex, index)
	}

	bound, err := d.fz.Bound(index)
	if err != nil {
		return nil, errors.Wrapf(err, "bound page %d", index+1)
	}

	p := &Page{
		doc:    d,
		index:  index,
		width:  float64(bound.Dx()),
		height: float64(bound.Dy()),
		media:  engine.Rect{Right: float64(bound.Dx()), Top: float64(bound.Dy())},
	}
	if d.ctx != nil {
		p.loadPageDict()
	}
	return p, nil
}

// Close implements engine.Document.
func (d *Document) Close() error {
	return d.fz.Close()
}

// Page is one page of a Document.
type Page struct {
	doc           *Document
	index         int
	width, height float64
	media         engine.Rect
	crop          engine.Rect
	hasCrop       bool

	dict      types.Dict
	resources types.Dict
	xobjects  map[string]*xobjectEntry
}

type xobjectEntry struct {
	info  xobjectInfo
	sd    *types.StreamDict
	objNr int
}

func (p *Page) loadPageDict() {
	dict, _, inh, err := p.doc.ctx.PageDict(p.index+1, true)
	if err != nil || dict == nil {
		p.doc.log.Debug().Int("page", p.index+1).Err(err).Msg("page dictionary unavailable")
		return
	}
	p.dict = dict
	if inh == nil {
		return
	}
	p.resources = inh.Resources
	if inh.MediaBox != nil {
		p.media = toRect(inh.MediaBox)
	}
	if inh.CropBox != nil {
		p.crop = toRect(inh.CropBox)
		p.hasCrop = true
	}

	// MuPDF reports whole points; prefer the exact box size when known.
	box := p.media
	if p.hasCrop {
		box = p.media.Intersect(p.crop)
	}
	if !box.Empty() {
		w, h := box.Width(), box.Height()
		if inh.Rotate%180 != 0 {
			w, h = h, w
		}
		p.width, p.height = w, h
	}
}

// Number implements engine.Page.
func (p *Page) Number() int { return p.index + 1 }

// Size implements engine.Page.
func (p *Page) Size() (float64, float64) { return p.width, p.height }

// MediaBox implements engine.Page.
func (p *Page) MediaBox() engine.Rect { return p.media }

// CropBox implements engine.Page.
func (p *Page) CropBox() (engine.Rect, bool) { return p.crop, p.hasCrop }

// Objects implements engine.Page.
func (p *Page) Objects() ([]engine.Object, error) {
	scanned, err := p.scan()
	if err != nil {
		return nil, err
	}
	out := make([]engine.Object, len(scanned))
	for i, s := range scanned {
		out[i] = s.Object
	}
	return out, nil
}

func (p *Page) scan() ([]scannedObject, error) {
	if p.dict == nil {
		return nil, errNoObjectGraph
	}
	content, err := p.content()
	if err != nil {
		return nil, err
	}
	return scanContent(content, p.lookupXObject), nil
}

// RawBitmap implements engine.Page. The object list is enumerated again,
// so objectIndex must come from an Objects call on this page.
func (p *Page) RawBitmap(objectIndex int) (img image.Image, err error) {
	scanned, err := p.scan()
	if err != nil {
		return nil, err
	}
	if objectIndex < 0 || objectIndex >= len(scanned) {
		return nil, engine.ErrObjectIndex
	}
	obj := scanned[objectIndex]
	if obj.Kind != engine.KindImage {
		return nil, engine.ErrNotImage
	}
	entry := p.xobjects[obj.XObject]
	if obj.XObject == "" || entry == nil || !entry.info.RawAvailable {
		return nil, engine.ErrRawUnavailable
	}

	defer func() {
		if r := recover(); r != nil {
			img, err = nil, errors.Wrapf(engine.ErrRawUnavailable, "pdfcpu: %v", r)
		}
	}()

	extracted, err := pdfcpu.ExtractImage(p.doc.ctx, entry.sd, false, obj.XObject, entry.objNr, false)
	if err != nil {
		return nil, errors.Wrapf(err, "extract image %s", obj.XObject)
	}
	if extracted == nil {
		return nil, engine.ErrRawUnavailable
	}

	img, _, err = image.Decode(extracted)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s image %s", extracted.FileType, obj.XObject)
	}
	return img, nil
}

// Render implements engine.Page.
func (p *Page) Render(widthPx, heightPx int) (image.Image, error) {
	if widthPx <= 0 || heightPx <= 0 {
		return nil, fmt.Errorf("invalid render size %dx%d", widthPx, heightPx)
	}
	dpi := nativeDPI * float64(widthPx) / p.width

	img, err := p.doc.fz.ImageDPI(p.index, dpi)
	if err != nil {
		return nil, errors.Wrapf(err, "render page %d", p.index+1)
	}
	// MuPDF rounds the pixmap outward, so the result can be a pixel off.
	if b := img.Bounds(); b.Dx() != widthPx || b.Dy() != heightPx {
		return imaging.Resize(img, widthPx, heightPx, imaging.CatmullRom), nil
	}
	return img, nil
}

func (p *Page) content() ([]byte, error) {
	ctx := p.doc.ctx
	obj, found := p.dict.Find("Contents")
	if !found || obj == nil {
		return nil, nil
	}
	obj, err := ctx.Dereference(obj)
	if err != nil {
		return nil, errors.Wrap(err, "dereference contents")
	}

	switch o := obj.(type) {
	case types.StreamDict:
		return decodeStream(o)
	case types.Array:
		var buf bytes.Buffer
		for _, item := range o {
			item, err := ctx.Dereference(item)
			if err != nil {
				return nil, errors.Wrap(err, "dereference content stream")
			}
			sd, ok := item.(types.StreamDict)
			if !ok {
				continue
			}
			b, err := decodeStream(sd)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
			buf.WriteByte('\n')
		}
		return buf.Bytes(), nil
	}
	return nil, nil
}

func decodeStream(sd types.StreamDict) ([]byte, error) {
	if err := sd.Decode(); err != nil {
		return nil, errors.Wrap(err, "decode content stream")
	}
	return sd.Content, nil
}

func (p *Page) lookupXObject(name string) (xobjectInfo, bool) {
	if e, ok := p.xobjects[name]; ok {
		if e == nil {
			return xobjectInfo{}, false
		}
		return e.info, true
	}
	if p.xobjects == nil {
		p.xobjects = make(map[string]*xobjectEntry)
	}
	e := p.resolveXObject(name)
	p.xobjects[name] = e
	if e == nil {
		return xobjectInfo{}, false
	}
	return e.info, true
}

func (p *Page) resolveXObject(name string) *xobjectEntry {
	ctx := p.doc.ctx
	if p.resources == nil {
		return nil
	}
	xo, found := p.resources.Find("XObject")
	if !found {
		return nil
	}
	xo, err := ctx.Dereference(xo)
	if err != nil {
		return nil
	}
	xdict, ok := xo.(types.Dict)
	if !ok {
		return nil
	}
	ref, found := xdict.Find(name)
	if !found {
		return nil
	}

	objNr := 0
	if ir, ok := ref.(types.IndirectRef); ok {
		objNr = int(ir.ObjectNumber)
	}
	obj, err := ctx.Dereference(ref)
	if err != nil {
		return nil
	}
	sd, ok := obj.(types.StreamDict)
	if !ok {
		return nil
	}

	e := &xobjectEntry{sd: &sd, objNr: objNr, info: xobjectInfo{Kind: engine.KindOther}}
	subtype := sd.Dict.NameEntry("Subtype")
	switch {
	case subtype == nil:
	case *subtype == "Image":
		e.info.Kind = engine.KindImage
		e.info.RawAvailable = rawDecodable(sd)
	case *subtype == "Form":
		e.info.Kind = engine.KindForm
		e.info.BBox = rectFromArray(sd.Dict.ArrayEntry("BBox"))
		e.info.Matrix = identity
		if m := sd.Dict.ArrayEntry("Matrix"); len(m) == 6 {
			for i := range e.info.Matrix {
				e.info.Matrix[i], _ = number(m[i])
			}
		}
	}
	return e
}

// rawDecodable reports whether pdfcpu can hand back a bitmap Go can decode.
func rawDecodable(sd types.StreamDict) bool {
	if mask := sd.Dict.BooleanEntry("ImageMask"); mask != nil && *mask {
		return false
	}
	for _, f := range sd.FilterPipeline {
		switch f.Name {
		case "JPXDecode", "JBIG2Decode":
			return false
		}
	}
	return true
}

func toRect(r *types.Rectangle) engine.Rect {
	return engine.Rect{Left: r.LL.X, Bottom: r.LL.Y, Right: r.UR.X, Top: r.UR.Y}.Normalize()
}

func rectFromArray(a types.Array) engine.Rect {
	if len(a) != 4 {
		return engine.Rect{}
	}
	var v [4]float64
	for i := range v {
		v[i], _ = number(a[i])
	}
	return engine.Rect{Left: v[0], Bottom: v[1], Right: v[2], Top: v[3]}.Normalize()
}

func number(o types.Object) (float64, bool) {
	switch v := o.(type) {
	case types.Integer:
		return float64(v), true
	case types.Float:
		return float64(v), true
	}
	return 0, false
}
