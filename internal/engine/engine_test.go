package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spherical/pdfcbz/internal/engine"
	"github.com/spherical/pdfcbz/internal/engine/enginetest"
)

func TestRect(t *testing.T) {
	r := engine.Rect{Left: 10, Bottom: 20, Right: 110, Top: 70}

	assert.Equal(t, 100.0, r.Width())
	assert.Equal(t, 50.0, r.Height())
	assert.Equal(t, 5000.0, r.Area())
	assert.False(t, r.Empty())

	inverted := engine.Rect{Left: 110, Bottom: 70, Right: 10, Top: 20}
	assert.Zero(t, inverted.Area())
	assert.Equal(t, r, inverted.Normalize())

	o := engine.Rect{Left: 100, Bottom: 0, Right: 200, Top: 30}
	assert.Equal(t, engine.Rect{Left: 10, Bottom: 0, Right: 200, Top: 70}, r.Union(o))
	assert.Equal(t, engine.Rect{Left: 100, Bottom: 20, Right: 110, Top: 30}, r.Intersect(o))
	assert.True(t, r.Intersect(engine.Rect{Left: 500, Bottom: 500, Right: 600, Top: 600}).Empty())
}

func TestEffectiveBox(t *testing.T) {
	crop := engine.Rect{Left: 36, Bottom: 36, Right: 576, Top: 756}
	doc, err := enginetest.New(
		enginetest.PageSpec{WidthPt: 612, HeightPt: 792},
		enginetest.PageSpec{WidthPt: 612, HeightPt: 792, Crop: &crop},
	).Load(nil)
	assert.NoError(t, err)

	p1, err := doc.Page(0)
	assert.NoError(t, err)
	assert.Equal(t, engine.Rect{Right: 612, Top: 792}, engine.EffectiveBox(p1))

	p2, err := doc.Page(1)
	assert.NoError(t, err)
	assert.Equal(t, crop, engine.EffectiveBox(p2))
}

func TestObjectKind_String(t *testing.T) {
	assert.Equal(t, "image", engine.KindImage.String())
	assert.Equal(t, "text", engine.KindText.String())
	assert.Equal(t, "path", engine.KindPath.String())
	assert.Equal(t, "form", engine.KindForm.String())
	assert.Equal(t, "other", engine.KindOther.String())
}
