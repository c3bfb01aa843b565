package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pdfcbz/internal/domain"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ValidationError("bad", nil), http.StatusBadRequest},
		{domain.InputNotReadableError("read", errors.New("eof")), http.StatusBadRequest},
		{domain.BusyError(), http.StatusConflict},
		{domain.DocumentLoadError("load", nil), http.StatusUnprocessableEntity},
		{domain.NoPagesError("empty"), http.StatusUnprocessableEntity},
		{domain.ArchiveOpenError("open", nil), http.StatusUnprocessableEntity},
		{domain.NoImagesFoundError("none"), http.StatusUnprocessableEntity},
		{domain.CancelledError(context.Canceled), http.StatusRequestTimeout},
		{domain.RenderError(3, errors.New("boom")), http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", domain.BusyError()), http.StatusConflict},
		{errors.New("plain"), http.StatusInternalServerError},
		{domain.InputNotReadableError("read", &http.MaxBytesError{Limit: 10}), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestReadUpload_RawBodyName(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/v1/pdf-to-cbz?name=../../etc/book.pdf", strings.NewReader("%PDF"))
	in, err := readUpload(r, "document.pdf")
	require.NoError(t, err)
	assert.Equal(t, "book.pdf", in.Name)
	assert.Equal(t, []byte("%PDF"), in.Data)

	r = httptest.NewRequest(http.MethodPost, "/v1/pdf-to-cbz", strings.NewReader("%PDF"))
	in, err = readUpload(r, "document.pdf")
	require.NoError(t, err)
	assert.Equal(t, "document.pdf", in.Name)
}

func TestReadUpload_MissingMultipartField(t *testing.T) {
	body := "--x\r\nContent-Disposition: form-data; name=\"other\"\r\n\r\nvalue\r\n--x--\r\n"
	r := httptest.NewRequest(http.MethodPost, "/v1/pdf-to-cbz", strings.NewReader(body))
	r.Header.Set("Content-Type", "multipart/form-data; boundary=x")

	_, err := readUpload(r, "document.pdf")
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
}

func TestQueryParams(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/?dpi=150&lossless=true&fast=maybe", nil)

	dpi, err := queryInt(r, "dpi", 0)
	require.NoError(t, err)
	assert.Equal(t, 150, dpi)

	q, err := queryInt(r, "quality", 85)
	require.NoError(t, err)
	assert.Equal(t, 85, q)

	lossless, err := queryBool(r, "lossless", false)
	require.NoError(t, err)
	assert.True(t, lossless)

	_, err = queryBool(r, "fast", false)
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
}

func TestSwapExt(t *testing.T) {
	assert.Equal(t, "book.cbz", swapExt("book.pdf", ".cbz"))
	assert.Equal(t, "book.v2.pdf", swapExt("book.v2.cbr", ".pdf"))
	assert.Equal(t, "noext.pdf", swapExt("noext", ".pdf"))
}
