package upload

import (
	"testing"

	"github.com/siliconmark/vastmark/pkg/config"
	"github.com/stretchr/testify/assert"
)

func TestResolvePrefix(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		baseName string
		want     string
	}{
		{
			name:     "default prefix",
			prefix:   "",
			baseName: "1769791126_8cec1fab_4242",
			want:     "benchmarks/runs/1769791126_8cec1fab_4242",
		},
		{
			name:     "custom prefix",
			prefix:   "my-project/gpu",
			baseName: "1769791126_8cec1fab_4242",
			want:     "my-project/gpu/runs/1769791126_8cec1fab_4242",
		},
		{
			name:     "trailing slash stripped",
			prefix:   "my-prefix/",
			baseName: "run123",
			want:     "my-prefix/runs/run123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &s3Uploader{
				cfg: &config.S3UploadConfig{Prefix: tt.prefix},
			}
			got := u.resolvePrefix(tt.baseName)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantPrefix string
	}{
		{
			name:       "json file",
			path:       "runs/record.json",
			wantPrefix: "application/json",
		},
		{
			name:       "no extension",
			path:       "runs/Makefile",
			wantPrefix: "application/octet-stream",
		},
		{
			name:       "log file",
			path:       "runs/raw-agent.log",
			wantPrefix: "application/octet-stream",
		},
		{
			name:       "txt file",
			path:       "runs/notes.txt",
			wantPrefix: "text/plain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detectContentType(tt.path)
			assert.Contains(t, got, tt.wantPrefix)
		})
	}
}
