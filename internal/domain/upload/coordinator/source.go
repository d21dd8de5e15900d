// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package coordinator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"

	"github.com/ManuGH/uplink/internal/domain/upload/model"
)

// Source is what a caller submits: a LocalFile or a RemoteURL.
type Source interface {
	Kind() model.SourceKind
}

// LocalFile is a file transferred by the client. Open is called once per
// transfer attempt.
type LocalFile struct {
	Name     string
	Size     int64
	MimeType string
	Open     func() (io.ReadCloser, error)
}

func (LocalFile) Kind() model.SourceKind { return model.SourceLocalFile }

// RemoteURL is a resource the backend fetches itself. The caller must have
// acknowledged the content rights prompt.
type RemoteURL struct {
	URL                 string
	ConsentAcknowledged bool
}

func (RemoteURL) Kind() model.SourceKind { return model.SourceRemoteURL }

// File builds a LocalFile from a path on disk. The mime type is sniffed
// from content, falling back to the extension.
func File(path string) (LocalFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return LocalFile{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return LocalFile{}, fmt.Errorf("%s is a directory", path)
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return LocalFile{}, fmt.Errorf("detect type of %s: %w", path, err)
	}
	mimeType := mt.String()
	if mt.Is("application/octet-stream") {
		if byExt := mimetype.Lookup(extensionMime(filepath.Ext(path))); byExt != nil {
			mimeType = byExt.String()
		}
	}

	return LocalFile{
		Name:     filepath.Base(path),
		Size:     info.Size(),
		MimeType: baseMime(mimeType),
		Open:     func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

var extMimes = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
}

func extensionMime(ext string) string {
	return extMimes[normalizeExt(ext)]
}
