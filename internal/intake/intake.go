// Package intake turns a multipart upload request into a payload plus an
// opaque field map. It performs structural checks only; coercion of field
// values is left to the caller.
package intake

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
)

const maxFieldBytes = 64 << 10

// RequiredNumeric lists fields that must hold a finite positive number.
var RequiredNumeric = []string{"width", "height"}

type Upload struct {
	Field       string
	Filename    string
	ContentType string
	Payload     []byte
	Fields      map[string]string
}

// ValidationError is returned for requests the client must fix.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid upload: " + e.Reason
	}
	return fmt.Sprintf("invalid upload: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Parse reads the request body as multipart/form-data. Only the first file
// part is kept; later file parts are skipped.
func Parse(r *http.Request, maxBytes int64) (*Upload, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		return nil, invalid("", "content type must be multipart/form-data")
	}
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(nil, r.Body, maxBytes)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, invalid("", "malformed multipart body: %v", err)
	}

	up := &Upload{Fields: make(map[string]string)}
	haveFile := false

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, readError(err)
		}

		if part.FileName() != "" {
			if haveFile {
				part.Close()
				continue
			}
			if err := readFile(part, up); err != nil {
				return nil, err
			}
			haveFile = true
			continue
		}

		value, err := readField(part)
		if err != nil {
			return nil, err
		}
		if name := part.FormName(); name != "" {
			up.Fields[name] = value
		}
	}

	if !haveFile {
		return nil, invalid("file", "no file part present")
	}
	if len(up.Payload) == 0 {
		return nil, invalid("file", "file is empty")
	}
	if err := validateFields(up.Fields); err != nil {
		return nil, err
	}
	return up, nil
}

func readFile(part *multipart.Part, up *Upload) error {
	defer part.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, part); err != nil {
		return readError(err)
	}
	up.Field = part.FormName()
	up.Filename = part.FileName()
	up.ContentType = part.Header.Get("Content-Type")
	up.Payload = buf.Bytes()
	return nil
}

func readField(part *multipart.Part) (string, error) {
	defer part.Close()

	data, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
	if err != nil {
		return "", readError(err)
	}
	if len(data) > maxFieldBytes {
		return "", invalid(part.FormName(), "value exceeds %d bytes", maxFieldBytes)
	}
	return string(data), nil
}

func readError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return invalid("", "request body exceeds %d bytes", tooLarge.Limit)
	}
	return invalid("", "malformed multipart body: %v", err)
}

func validateFields(fields map[string]string) error {
	for _, name := range RequiredNumeric {
		raw, ok := fields[name]
		if !ok || strings.TrimSpace(raw) == "" {
			return invalid(name, "is required")
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return invalid(name, "must be a number")
		}
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return invalid(name, "must be a finite positive number")
		}
	}
	return nil
}
