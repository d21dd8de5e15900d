// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package coordinator

import (
	"fmt"
	"mime"
	"net/url"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/net/idna"

	"github.com/ManuGH/uplink/internal/domain/upload/model"
)

// DefaultMaxBytes is the largest accepted local file (500 MB).
const DefaultMaxBytes int64 = 500 << 20

// Rules are the boundary checks run before any network call.
type Rules struct {
	MaxBytes    int64
	MimeTypes   []string
	Extensions  []string
	URLPatterns []string
	// ProgressRate caps transfer progress updates per second.
	ProgressRate float64
}

// DefaultRules returns the stock limits for video submissions.
func DefaultRules() Rules {
	return Rules{
		MaxBytes:   DefaultMaxBytes,
		MimeTypes:  []string{"video/mp4", "video/quicktime", "video/x-msvideo", "video/webm", "video/x-matroska"},
		Extensions: []string{".mp4", ".mov", ".avi", ".webm", ".mkv"},
		URLPatterns: []string{
			`^https?://(www\.|m\.)?youtube\.com/watch\?(.*&)?v=[\w-]+`,
			`^https?://youtu\.be/[\w-]+`,
			`^https?://(www\.)?youtube\.com/embed/[\w-]+`,
		},
		ProgressRate: 10,
	}
}

// ValidationError reports a submission rejected before it reached the
// backend.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return model.ErrValidation }

func invalid(field string, value any, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: fmt.Sprintf(format, args...)}
}

type validator struct {
	rules    Rules
	patterns []*regexp.Regexp
	mimes    []string
	exts     []string
}

func newValidator(r Rules) (*validator, error) {
	v := &validator{rules: r}
	for _, p := range r.URLPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("url pattern %q: %w", p, err)
		}
		v.patterns = append(v.patterns, re)
	}
	for _, m := range r.MimeTypes {
		v.mimes = append(v.mimes, baseMime(m))
	}
	for _, e := range r.Extensions {
		v.exts = append(v.exts, normalizeExt(e))
	}
	return v, nil
}

func (v *validator) check(src Source) error {
	switch s := src.(type) {
	case LocalFile:
		return v.checkFile(s)
	case *LocalFile:
		return v.checkFile(*s)
	case RemoteURL:
		return v.checkRemote(s)
	case *RemoteURL:
		return v.checkRemote(*s)
	case nil:
		return invalid("source", nil, "no source given")
	default:
		return invalid("source", src, "unsupported source type %T", src)
	}
}

func (v *validator) checkFile(f LocalFile) error {
	if strings.TrimSpace(f.Name) == "" {
		return invalid("name", f.Name, "file name is empty")
	}
	if f.Size <= 0 {
		return invalid("size", f.Size, "file is empty")
	}
	if v.rules.MaxBytes > 0 && f.Size > v.rules.MaxBytes {
		return invalid("size", f.Size, "file exceeds %d MB", v.rules.MaxBytes>>20)
	}
	if ext := normalizeExt(filepath.Ext(f.Name)); !slices.Contains(v.exts, ext) {
		return invalid("extension", ext, "extension %q is not allowed", ext)
	}
	if mt := baseMime(f.MimeType); !slices.Contains(v.mimes, mt) {
		return invalid("mimeType", f.MimeType, "type %q is not an accepted video format", mt)
	}
	if f.Open == nil {
		return invalid("source", f.Name, "file has no content")
	}
	return nil
}

func (v *validator) checkRemote(r RemoteURL) error {
	raw := strings.TrimSpace(r.URL)
	if raw == "" {
		return invalid("url", raw, "url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return invalid("url", raw, "url does not parse")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalid("url", raw, "scheme must be http or https")
	}
	if u.Hostname() == "" {
		return invalid("url", raw, "url has no host")
	}
	if _, err := idna.Lookup.ToASCII(u.Hostname()); err != nil {
		return invalid("url", raw, "host is not a valid domain name")
	}
	if len(v.patterns) > 0 && !slices.ContainsFunc(v.patterns, func(re *regexp.Regexp) bool { return re.MatchString(raw) }) {
		return invalid("url", raw, "url is not from a supported platform")
	}
	if !r.ConsentAcknowledged {
		return invalid("consentAcknowledged", false, "content rights must be acknowledged")
	}
	return nil
}

func baseMime(m string) string {
	if mt, _, err := mime.ParseMediaType(m); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(m))
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
