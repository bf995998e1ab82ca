package cfg_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/drivebags/drivebags-go/internal/frameworks/service/cfg"
)

type uploadConfig struct {
	MaxUploadMB int           `mapstructure:"max_upload_mb"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Scopes      []string      `mapstructure:"scopes"`
	Profile     string        `mapstructure:"profile"`
}

func (c *uploadConfig) ApplyDefaults() {
	if c.MaxUploadMB == 0 {
		c.MaxUploadMB = 1024
	}
	if c.Profile == "" {
		c.Profile = "default"
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]any
		want  uploadConfig
	}{
		{
			name:  "defaults on empty input",
			input: nil,
			want:  uploadConfig{MaxUploadMB: 1024, Profile: "default"},
		},
		{
			name:  "typed values",
			input: map[string]any{"max_upload_mb": int64(5), "timeout": "15s", "scopes": []any{"a", "b"}},
			want:  uploadConfig{MaxUploadMB: 5, Timeout: 15 * time.Second, Scopes: []string{"a", "b"}, Profile: "default"},
		},
		{
			name:  "weak scalars and comma lists",
			input: map[string]any{"max_upload_mb": "64", "scopes": "x,y", "profile": "upload"},
			want:  uploadConfig{MaxUploadMB: 64, Scopes: []string{"x", "y"}, Profile: "upload"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got uploadConfig
			if err := cfg.Decode(tt.input, &got); err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecode_InvalidValue(t *testing.T) {
	var c uploadConfig
	if err := cfg.Decode(map[string]any{"timeout": "soon"}, &c); err == nil {
		t.Error("expected error for unparsable duration")
	}
}

func TestDecodeWithUnused(t *testing.T) {
	var c uploadConfig
	unused, err := cfg.DecodeWithUnused(map[string]any{
		"profile":    "x",
		"zeta":       1,
		"alpha":      true,
		"max_upload": 3,
	}, &c)
	if err != nil {
		t.Fatalf("DecodeWithUnused: %v", err)
	}
	if want := []string{"alpha", "max_upload", "zeta"}; !reflect.DeepEqual(unused, want) {
		t.Errorf("unused = %v, want %v", unused, want)
	}
	if c.Profile != "x" || c.MaxUploadMB != 1024 {
		t.Errorf("decoded %+v", c)
	}
}

func TestDecodeStrict(t *testing.T) {
	tests := []struct {
		name    string
		input   map[string]any
		wantErr bool
	}{
		{"known keys", map[string]any{"profile": "p"}, false},
		{"typo", map[string]any{"profil": "p"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c uploadConfig
			err := cfg.DecodeStrict(tt.input, &c)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && c.MaxUploadMB != 1024 {
				t.Error("defaults not applied")
			}
		})
	}
}
