package utils

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ExtractZip unpacks an archive into destDir and returns the extracted file
// paths. Entries that would land outside destDir are rejected.
func ExtractZip(archivePath, destDir string) ([]string, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	defer reader.Close()

	var extracted []string
	for _, file := range reader.File {
		path, err := extractZipEntry(file, destDir)
		if err != nil {
			return nil, fmt.Errorf("failed to extract %s: %w", file.Name, err)
		}
		if path != "" {
			extracted = append(extracted, path)
		}
	}
	return extracted, nil
}

// extractZipEntry writes a single archive entry below destDir. Returns the
// written path, or "" for directory entries.
func extractZipEntry(file *zip.File, destDir string) (string, error) {
	filePath := filepath.Join(destDir, file.Name)
	if !strings.HasPrefix(filepath.Clean(filePath), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("entry escapes destination directory")
	}

	if file.FileInfo().IsDir() {
		return "", os.MkdirAll(filePath, 0755)
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return "", err
	}

	srcFile, err := file.Open()
	if err != nil {
		return "", err
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", err
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return "", err
	}
	return filePath, nil
}

// FindShapefile searches dir recursively for the first .shp file.
func FindShapefile(dir string) (string, error) {
	var shpPath string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.EqualFold(filepath.Ext(info.Name()), ".shp") {
			shpPath = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if shpPath == "" {
		return "", fmt.Errorf("no .shp file found in %s", dir)
	}
	return shpPath, nil
}
