package commands

import (
	"errors"
	"testing"

	"github.com/bryanchriswhite/snapmark/internal/geometry"
	"github.com/bryanchriswhite/snapmark/internal/session"
)

func TestParseRect(t *testing.T) {
	r, err := parseRect("100, 50,400.5,300")
	if err != nil {
		t.Fatalf("parseRect failed: %v", err)
	}
	want := geometry.Rect{X: 100, Y: 50, Width: 400.5, Height: 300}
	if r != want {
		t.Fatalf("parseRect = %+v, want %+v", r, want)
	}

	for _, bad := range []string{"", "1,2,3", "1,2,3,x", "1,2,3,4,5"} {
		if _, err := parseRect(bad); err == nil {
			t.Fatalf("parseRect(%q) should fail", bad)
		}
	}
	if _, err := parseRect("0,0,-5,10"); !errors.Is(err, geometry.ErrNegativeSize) {
		t.Fatalf("negative width: got %v", err)
	}
}

func TestParseSize(t *testing.T) {
	s, err := parseSize("960X540")
	if err != nil {
		t.Fatalf("parseSize failed: %v", err)
	}
	if s.Width != 960 || s.Height != 540 {
		t.Fatalf("parseSize = %+v", s)
	}
	for _, bad := range []string{"960", "x540", "960xabc"} {
		if _, err := parseSize(bad); err == nil {
			t.Fatalf("parseSize(%q) should fail", bad)
		}
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		want    interface{}
		wantErr bool
	}{
		{"stream.fps", "24", 24, false},
		{"stream.fps", "fast", nil, true},
		{"preferences.auto_save", "true", true, false},
		{"preferences.auto_save", "maybe", nil, true},
		{"export.backend", "s3", "s3", false},
		{"export.backend", "ftp", nil, true},
		{"log_level", "debug", "debug", false},
		{"preferences.save_directory", "/tmp/shots", "/tmp/shots", false},
	}

	for _, tt := range tests {
		got, err := parseValue(tt.key, tt.value)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("parseValue(%s, %s) should fail", tt.key, tt.value)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseValue(%s, %s) failed: %v", tt.key, tt.value, err)
		}
		if got != tt.want {
			t.Fatalf("parseValue(%s, %s) = %v, want %v", tt.key, tt.value, got, tt.want)
		}
	}
}

func TestReportStatus(t *testing.T) {
	if err := reportStatus(nil); err != nil {
		t.Fatalf("nil error: got %v", err)
	}
	if err := reportStatus(session.ErrBusy); err == nil {
		t.Fatal("busy should be reported as an error")
	}
}
