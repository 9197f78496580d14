package utils

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

// maxUploadBytes caps the in-memory part of multipart parsing; larger file
// parts spill to disk.
const maxUploadBytes = 64 << 20

// AnalysisForm is the parsed analyze request: the selection fields plus the
// uploaded coverage archive, staged to a temp file.
type AnalysisForm struct {
	Province     string
	Region       string
	Operator     string
	Technology   string
	Year         string
	Level        string
	CoveragePath string
}

// ReadAnalysisForm parses the multipart analyze form and writes the upload
// under fileKey to a temp file. The caller removes CoveragePath when done.
func ReadAnalysisForm(r *http.Request, fileKey string) (*AnalysisForm, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, fmt.Errorf("failed to parse multipart form: %w", err)
	}

	form := &AnalysisForm{
		Province:   r.FormValue("province"),
		Region:     r.FormValue("region"),
		Operator:   r.FormValue("operator"),
		Technology: r.FormValue("technology"),
		Year:       r.FormValue("year"),
		Level:      r.FormValue("level"),
	}

	var header *multipart.FileHeader
	for key, headers := range r.MultipartForm.File {
		if key == fileKey && len(headers) > 0 {
			header = headers[0]
		}
	}
	if header == nil {
		return nil, fmt.Errorf("missing %q upload", fileKey)
	}

	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer file.Close()

	suffix := filepath.Ext(header.Filename)
	if suffix == "" {
		suffix = ".zip"
	}
	temp, err := os.CreateTemp("", "coverage-upload-*"+suffix)
	if err != nil {
		return nil, fmt.Errorf("failed to stage upload: %w", err)
	}
	if _, err := io.Copy(temp, file); err != nil {
		temp.Close()
		os.Remove(temp.Name())
		return nil, fmt.Errorf("failed to stage upload: %w", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(temp.Name())
		return nil, fmt.Errorf("failed to stage upload: %w", err)
	}

	form.CoveragePath = temp.Name()
	return form, nil
}
