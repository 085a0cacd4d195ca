package intake_test

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gallery-pipeline/internal/intake"
)

type filePart struct {
	field, name string
	data        []byte
}

func newRequest(t *testing.T, fields map[string]string, files ...filePart) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		w, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = w.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func validFields() map[string]string {
	return map[string]string{"width": "4000", "height": "3000", "title": " Dune "}
}

func TestParse_Valid(t *testing.T) {
	req := newRequest(t, validFields(), filePart{"file", "dune.jpg", []byte("jpegbytes")})

	up, err := intake.Parse(req, 1<<20)
	require.NoError(t, err)

	assert.Equal(t, "dune.jpg", up.Filename)
	assert.Equal(t, []byte("jpegbytes"), up.Payload)
	// values stay untouched, trimming is the orchestrator's job
	assert.Equal(t, " Dune ", up.Fields["title"])
	assert.Equal(t, "4000", up.Fields["width"])
}

func TestParse_FirstFileWins(t *testing.T) {
	req := newRequest(t, validFields(),
		filePart{"file", "first.jpg", []byte("first")},
		filePart{"file", "second.jpg", []byte("second")},
	)

	up, err := intake.Parse(req, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, "first.jpg", up.Filename)
	assert.Equal(t, []byte("first"), up.Payload)
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		files  []filePart
		field  string
	}{
		{"no file", validFields(), nil, "file"},
		{"empty file", validFields(), []filePart{{"file", "a.jpg", nil}}, "file"},
		{"missing width", map[string]string{"height": "10"}, []filePart{{"file", "a.jpg", []byte("x")}}, "width"},
		{"non numeric height", map[string]string{"width": "10", "height": "tall"}, []filePart{{"file", "a.jpg", []byte("x")}}, "height"},
		{"zero width", map[string]string{"width": "0", "height": "10"}, []filePart{{"file", "a.jpg", []byte("x")}}, "width"},
		{"negative height", map[string]string{"width": "10", "height": "-3"}, []filePart{{"file", "a.jpg", []byte("x")}}, "height"},
		{"infinite width", map[string]string{"width": "Inf", "height": "10"}, []filePart{{"file", "a.jpg", []byte("x")}}, "width"},
		{"NaN height", map[string]string{"width": "10", "height": "NaN"}, []filePart{{"file", "a.jpg", []byte("x")}}, "height"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newRequest(t, tt.fields, tt.files...)
			_, err := intake.Parse(req, 1<<20)
			require.Error(t, err)

			var ve *intake.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.True(t, intake.IsValidation(err))
		})
	}
}

func TestParse_NotMultipart(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", strings.NewReader(`{"a":1}`))
	req.Header.Set("Content-Type", "application/json")

	_, err := intake.Parse(req, 1<<20)
	assert.True(t, intake.IsValidation(err))
}

func TestParse_BodyTooLarge(t *testing.T) {
	req := newRequest(t, validFields(), filePart{"file", "big.jpg", bytes.Repeat([]byte("x"), 4096)})

	_, err := intake.Parse(req, 512)
	require.Error(t, err)
	assert.True(t, intake.IsValidation(err))
	assert.Contains(t, err.Error(), "exceeds")
}
