package library

import (
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"

	"RadioRoyal/model"
)

// MetadataReader extracts tag metadata from audio files
type MetadataReader struct{}

// NewMetadataReader creates a new metadata reader
func NewMetadataReader() *MetadataReader {
	return &MetadataReader{}
}

// Read builds a Track for filePath; files without tags are named after the file.
func (r *MetadataReader) Read(filePath string) (model.Track, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return model.Track{}, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	track := model.Track{
		ID:     trackID(filePath),
		Title:  titleFromName(filePath),
		URL:    filePath,
		Source: "file",
	}

	metadata, err := tag.ReadFrom(file)
	if err != nil {
		return track, nil
	}
	track.Title = getOrDefault(strings.TrimSpace(metadata.Title()), track.Title)
	track.Artist = strings.TrimSpace(metadata.Artist())
	track.Album = strings.TrimSpace(metadata.Album())
	return track, nil
}

// trackID derives a stable ID from a path or URL
func trackID(ref string) string {
	hash := md5.Sum([]byte(ref))
	return fmt.Sprintf("track-%x", hash[:8])
}

func titleFromName(p string) string {
	base := filepath.Base(p)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// getOrDefault returns the value if non-empty, otherwise returns the default
func getOrDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}
