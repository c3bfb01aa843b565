package mupdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pdfcbz/internal/engine"
)

func lookupFrom(m map[string]xobjectInfo) xobjectLookup {
	return func(name string) (xobjectInfo, bool) {
		info, ok := m[name]
		return info, ok
	}
}

func TestMatrixMultiply(t *testing.T) {
	scale := matrix{2, 0, 0, 3, 0, 0}
	move := translate(10, 20)

	// scale first, then move
	x, y := scale.multiply(move).apply(1, 1)
	assert.Equal(t, 12.0, x)
	assert.Equal(t, 23.0, y)

	// move first, then scale
	x, y = move.multiply(scale).apply(1, 1)
	assert.Equal(t, 22.0, x)
	assert.Equal(t, 63.0, y)

	assert.Equal(t, scale, identity.multiply(scale))
}

func TestScanContent_ImagePlacement(t *testing.T) {
	content := []byte(`
q
500 0 0 700 50 40 cm
/Im0 Do
Q
q 10 0 0 10 0 0 cm /Im1 Do Q
`)
	objs := scanContent(content, lookupFrom(map[string]xobjectInfo{
		"Im0": {Kind: engine.KindImage, RawAvailable: true},
		"Im1": {Kind: engine.KindImage},
	}))

	require.Len(t, objs, 2)
	assert.Equal(t, engine.KindImage, objs[0].Kind)
	assert.Equal(t, "Im0", objs[0].XObject)
	assert.True(t, objs[0].HasBounds)
	assert.True(t, objs[0].RawAvailable)
	assert.Equal(t, engine.Rect{Left: 50, Bottom: 40, Right: 550, Top: 740}, objs[0].Bounds)

	// Q restored the identity CTM before the second image
	assert.Equal(t, engine.Rect{Right: 10, Top: 10}, objs[1].Bounds)
	assert.False(t, objs[1].RawAvailable)
}

func TestScanContent_NestedCTM(t *testing.T) {
	content := []byte(`1 0 0 1 100 100 cm q 2 0 0 2 0 0 cm q 50 0 0 50 0 0 cm /Im0 Do Q Q /Im0 Do`)
	objs := scanContent(content, lookupFrom(map[string]xobjectInfo{
		"Im0": {Kind: engine.KindImage},
	}))

	require.Len(t, objs, 2)
	assert.Equal(t, engine.Rect{Left: 100, Bottom: 100, Right: 200, Top: 200}, objs[0].Bounds)
	assert.Equal(t, engine.Rect{Left: 100, Bottom: 100, Right: 101, Top: 101}, objs[1].Bounds)
}

func TestScanContent_Paths(t *testing.T) {
	content := []byte(`
10 10 m 100 10 l 100 50 l h S
0 0 612 792 re W n
20 20 30 40 re f
`)
	objs := scanContent(content, lookupFrom(nil))

	require.Len(t, objs, 2, "clip-only path must not produce an object")
	assert.Equal(t, engine.KindPath, objs[0].Kind)
	assert.Equal(t, engine.Rect{Left: 10, Bottom: 10, Right: 100, Top: 50}, objs[0].Bounds)
	assert.Equal(t, engine.Rect{Left: 20, Bottom: 20, Right: 50, Top: 60}, objs[1].Bounds)
}

func TestScanContent_Text(t *testing.T) {
	content := []byte(`BT /F1 12 Tf 72 700 Td (Hello) Tj ET`)
	objs := scanContent(content, lookupFrom(nil))

	require.Len(t, objs, 1)
	assert.Equal(t, engine.KindText, objs[0].Kind)
	require.True(t, objs[0].HasBounds)
	assert.InDelta(t, 72, objs[0].Bounds.Left, 0.001)
	assert.InDelta(t, 700, objs[0].Bounds.Bottom, 0.001)
	assert.InDelta(t, 72+5*0.5*12, objs[0].Bounds.Right, 0.001)
	assert.InDelta(t, 712, objs[0].Bounds.Top, 0.001)
}

func TestScanContent_TextArrayAndEscapes(t *testing.T) {
	content := []byte(`BT /F1 10 Tf 14 TL 0 0 Td [(A\)B) -500 <4142>] TJ T* (x\101) ' ET`)
	objs := scanContent(content, lookupFrom(nil))

	require.Len(t, objs, 1)
	b := objs[0].Bounds
	assert.InDelta(t, -28, b.Bottom, 0.001, "T* and ' each move down by the leading")
	// 5 glyphs at half an em plus half an em of negative kerning
	assert.InDelta(t, (5*0.5+0.5)*10, b.Right, 0.001)
}

func TestScanContent_InlineImage(t *testing.T) {
	content := []byte("q 100 0 0 50 10 10 cm BI /W 2 /H 1 /CS /G /BPC 8 ID \x00EIx\xff EI Q 0 0 1 1 re f")
	objs := scanContent(content, lookupFrom(nil))

	require.Len(t, objs, 2)
	assert.Equal(t, engine.KindImage, objs[0].Kind)
	assert.False(t, objs[0].RawAvailable)
	assert.Empty(t, objs[0].XObject)
	assert.Equal(t, engine.Rect{Left: 10, Bottom: 10, Right: 110, Top: 60}, objs[0].Bounds)
	assert.Equal(t, engine.KindPath, objs[1].Kind)
}

func TestScanContent_FormNotEntered(t *testing.T) {
	content := []byte(`q 1 0 0 1 50 50 cm /Fm0 Do Q /Missing Do`)
	objs := scanContent(content, lookupFrom(map[string]xobjectInfo{
		"Fm0": {Kind: engine.KindForm, BBox: engine.Rect{Right: 100, Top: 200}, Matrix: matrix{0.5, 0, 0, 0.5, 0, 0}},
	}))

	require.Len(t, objs, 2)
	assert.Equal(t, engine.KindForm, objs[0].Kind)
	assert.Equal(t, engine.Rect{Left: 50, Bottom: 50, Right: 100, Top: 150}, objs[0].Bounds)
	assert.Equal(t, engine.KindOther, objs[1].Kind)
	assert.False(t, objs[1].HasBounds)
}

func TestScanContent_MarkedContentAndComments(t *testing.T) {
	content := []byte(`% header comment
/Artifact <</Type /Pagination /Bbox [0 0 1 1]>> BDC
q 200 0 0 300 0 0 cm /Im0 Do Q
EMC`)
	objs := scanContent(content, lookupFrom(map[string]xobjectInfo{
		"Im0": {Kind: engine.KindImage, RawAvailable: true},
	}))

	require.Len(t, objs, 1)
	assert.Equal(t, engine.Rect{Right: 200, Top: 300}, objs[0].Bounds)
}

func TestScanContent_Garbage(t *testing.T) {
	assert.NotPanics(t, func() {
		scanContent([]byte("((( <<< ]]] Q Q Q cm Do 1 2 TJ BI"), lookupFrom(nil))
	})
	assert.Empty(t, scanContent(nil, lookupFrom(nil)))
}
