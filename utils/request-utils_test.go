package utils

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func analysisRequest(t *testing.T, withUpload bool) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fields := map[string]string{
		"province":   "AZUAY",
		"region":     "cuenca",
		"operator":   "CLARO",
		"technology": "4G",
		"year":       "2023",
		"level":      "-85",
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatal(err)
		}
	}
	if withUpload {
		part, err := writer.CreateFormFile("coverage", "coverage.zip")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write([]byte("zip-bytes")); err != nil {
			t.Fatal(err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/analyze", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestReadAnalysisForm(t *testing.T) {
	form, err := ReadAnalysisForm(analysisRequest(t, true), "coverage")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(form.CoveragePath)

	if form.Province != "AZUAY" || form.Region != "cuenca" {
		t.Errorf("selection = %q/%q, want AZUAY/cuenca", form.Province, form.Region)
	}
	if form.Operator != "CLARO" || form.Technology != "4G" || form.Year != "2023" {
		t.Errorf("metadata = %q/%q/%q", form.Operator, form.Technology, form.Year)
	}
	if form.Level != "-85" {
		t.Errorf("level = %q, want -85", form.Level)
	}

	if filepath.Ext(form.CoveragePath) != ".zip" {
		t.Errorf("staged upload %q should keep the .zip extension", form.CoveragePath)
	}
	data, err := os.ReadFile(form.CoveragePath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "zip-bytes" {
		t.Errorf("staged content = %q, want zip-bytes", data)
	}
}

func TestReadAnalysisForm_MissingUpload(t *testing.T) {
	if _, err := ReadAnalysisForm(analysisRequest(t, false), "coverage"); err == nil {
		t.Fatal("expected error when the coverage upload is missing")
	}
}
