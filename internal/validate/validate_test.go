// SPDX-License-Identifier: MIT
package validate

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestValidator_URL(t *testing.T) {
	tests := []struct {
		name           string
		value          string
		allowedSchemes []string
		wantErr        bool
	}{
		{"valid http", "http://example.com", []string{"http", "https"}, false},
		{"valid https", "https://example.com", []string{"http", "https"}, false},
		{"empty url", "", []string{"http"}, true},
		{"no host", "http://", []string{"http"}, true},
		{"invalid scheme", "ftp://example.com", []string{"http", "https"}, true},
		{"no scheme", "example.com", []string{"http"}, true},
		{"with port", "http://example.com:8080", []string{"http"}, false},
		{"with path", "http://example.com/path", []string{"http"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			v.URL("testURL", tt.value, tt.allowedSchemes)

			if tt.wantErr && v.IsValid() {
				t.Errorf("expected error, got none")
			}
			if !tt.wantErr && !v.IsValid() {
				t.Errorf("unexpected error: %v", v.Err())
			}
		})
	}
}

func TestValidator_ListenAddr(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{"loopback", "127.0.0.1:8089", false},
		{"any host", ":8089", false},
		{"ephemeral", "127.0.0.1:0", false},
		{"no port", "127.0.0.1", true},
		{"port out of range", ":65536", true},
		{"named port", ":http", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			v.ListenAddr("listen", tt.addr)

			if tt.wantErr == v.IsValid() {
				t.Errorf("wantErr=%v, got %v", tt.wantErr, v.Err())
			}
		})
	}
}

func TestValidator_Range(t *testing.T) {
	tests := []struct {
		name    string
		value   int
		wantErr bool
	}{
		{"lower bound", 1, false},
		{"upper bound", 10, false},
		{"below", 0, true},
		{"above", 11, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			v.Range("n", tt.value, 1, 10)

			if tt.wantErr == v.IsValid() {
				t.Errorf("wantErr=%v, got %v", tt.wantErr, v.Err())
			}
		})
	}
}

func TestValidator_Directory(t *testing.T) {
	tmpDir := t.TempDir()
	file := filepath.Join(tmpDir, "plain")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		path      string
		mustExist bool
		wantErr   bool
	}{
		{"existing dir", tmpDir, true, false},
		{"existing dir no mustExist", tmpDir, false, false},
		{"nonexistent mustExist", filepath.Join(tmpDir, "nonexistent"), true, true},
		{"nonexistent create", filepath.Join(tmpDir, "autocreate"), false, false},
		{"empty path", "", false, true},
		{"file not dir", file, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			v.Directory("testDir", tt.path, tt.mustExist)

			if tt.wantErr && v.IsValid() {
				t.Errorf("expected error, got none")
			}
			if !tt.wantErr && !v.IsValid() {
				t.Errorf("unexpected error: %v", v.Err())
			}
		})
	}
}

func TestValidator_DirectoryCreation(t *testing.T) {
	newDir := filepath.Join(t.TempDir(), "auto", "create", "nested")

	v := New()
	v.Directory("testDir", newDir, false)

	if !v.IsValid() {
		t.Errorf("unexpected error: %v", v.Err())
	}
	if _, err := os.Stat(newDir); os.IsNotExist(err) {
		t.Error("directory was not created")
	}
}

func TestValidator_Scalars(t *testing.T) {
	v := New()
	v.NotEmpty("blank", "   ")
	v.OneOf("push", "carrier-pigeon", []string{"websocket", "sse"})
	v.Positive("attempts", 0)
	v.PositiveDuration("interval", -time.Second)
	v.Fraction("rate", 1.5)
	v.Custom("custom", "hi", func(any) error { return errors.New("too short") })

	got := v.Errors()
	if len(got) != 6 {
		t.Fatalf("expected 6 errors, got %d: %v", len(got), got)
	}
	want := []string{"blank", "push", "attempts", "interval", "rate", "custom"}
	for i, f := range want {
		if got[i].Field != f {
			t.Errorf("error %d: field %q, want %q", i, got[i].Field, f)
		}
	}

	ok := New()
	ok.NotEmpty("name", "x")
	ok.OneOf("push", "sse", []string{"websocket", "sse"})
	ok.Positive("attempts", 1)
	ok.PositiveDuration("interval", time.Millisecond)
	ok.Fraction("rate", 0)
	if !ok.IsValid() {
		t.Errorf("unexpected errors: %v", ok.Err())
	}
}

func TestValidator_MultipleErrors(t *testing.T) {
	v := New()

	v.ListenAddr("listen", "nope")
	v.URL("url", "", []string{"http"})
	v.NotEmpty("name", "")

	if v.IsValid() {
		t.Fatal("expected errors, got none")
	}
	if n := len(v.Errors()); n != 3 {
		t.Errorf("expected 3 errors, got %d", n)
	}

	err := v.Err()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var ve ValidationError
	if !errors.As(err, &ve) || len(ve.Errors()) != 3 {
		t.Fatalf("expected ValidationError with 3 entries, got %T", err)
	}
	for _, field := range []string{"listen", "url", "name"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error message should mention %q", field)
		}
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	for _, l := range LogLevels() {
		if !LogLevel(l).IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if LogLevel("trace").IsValid() {
		t.Error("trace should be invalid")
	}
}
