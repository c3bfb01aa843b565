// Package handlers provides HTTP handlers for the pdfcbz API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spherical/pdfcbz/internal/domain"
	"github.com/spherical/pdfcbz/internal/observability"
)

// uploadField is the multipart field carrying the input file.
const uploadField = "file"

// upload is a request's input document.
type upload struct {
	Name string
	Data []byte
}

// readUpload reads the input from a multipart "file" field, or from the raw
// body for any other content type. Size limits are applied by middleware.
func readUpload(r *http.Request, fallbackName string) (*upload, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile(uploadField)
		if err != nil {
			return nil, domain.ValidationError(fmt.Sprintf("multipart field %q is required", uploadField), err)
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, domain.InputNotReadableError("read upload", err)
		}
		return &upload{Name: filepath.Base(header.Filename), Data: data}, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, domain.InputNotReadableError("read request body", err)
	}
	if len(data) == 0 {
		return nil, domain.ValidationError("request body is empty", nil)
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = fallbackName
	}
	return &upload{Name: filepath.Base(name), Data: data}, nil
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, domain.ValidationError(fmt.Sprintf("%s must be an integer", key), err)
	}
	return n, nil
}

// queryBool parses an optional boolean query parameter.
func queryBool(r *http.Request, key string, def bool) (bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, domain.ValidationError(fmt.Sprintf("%s must be a boolean", key), err)
	}
	return b, nil
}

// StatusFor maps an error to an HTTP status code.
func StatusFor(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	switch domain.TypeOf(err) {
	case domain.ErrorTypeValidation, domain.ErrorTypeInputNotFound, domain.ErrorTypeInputNotReadable:
		return http.StatusBadRequest
	case domain.ErrorTypeBusy:
		return http.StatusConflict
	case domain.ErrorTypeDocumentLoadFailed, domain.ErrorTypeNoPages,
		domain.ErrorTypeArchiveOpenFailed, domain.ErrorTypeArchiveEntryReadFailed,
		domain.ErrorTypeNoImagesFound:
		return http.StatusUnprocessableEntity
	case domain.ErrorTypeCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	resp := map[string]string{
		"error":   message,
		"message": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	writeJSON(w, status, resp)
}

// writeDomainError logs err and writes its user message with the matching
// status. The error type goes out as detail; library detail never does.
func writeDomainError(w http.ResponseWriter, log *observability.Logger, err error) {
	status := StatusFor(err)
	evt := log.Warn()
	if status >= http.StatusInternalServerError {
		evt = log.Error()
	}
	evt.Err(err).Int("status", status).Msg("request failed")
	writeError(w, status, domain.UserMessage(err), string(domain.TypeOf(err)))
}

// writeFile sends a converted document or image.
func writeFile(w http.ResponseWriter, contentType, name string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func swapExt(name, ext string) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + ext
}
