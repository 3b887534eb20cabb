package extract

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		check   func(t *testing.T, doc json.RawMessage)
	}{
		{
			name: "result after log lines",
			input: `{"time":"t1","level":"INFO"}
{
  "benchmark_results":{"quick_mark":{"results":{"aggregate_results":{"bf16_tflops":42.5}}}}
}
QUICKMARK_BENCHMARK_COMPLETE
`,
			check: func(t *testing.T, doc json.RawMessage) {
				var parsed struct {
					BenchmarkResults struct {
						QuickMark struct {
							Results struct {
								AggregateResults map[string]float64 `json:"aggregate_results"`
							} `json:"results"`
						} `json:"quick_mark"`
					} `json:"benchmark_results"`
				}
				require.NoError(t, json.Unmarshal(doc, &parsed))
				assert.Equal(t, 42.5, parsed.BenchmarkResults.QuickMark.Results.AggregateResults["bf16_tflops"])
			},
		},
		{
			name: "no end marker collects to EOF",
			input: `{"time":"t1","level":"INFO"}
{
  "benchmark_results": {
    "quick_mark": {}
  }
}
`,
			check: func(t *testing.T, doc json.RawMessage) {
				assert.True(t, json.Valid(doc))
			},
		},
		{
			name:    "no standalone brace",
			input:   `{"time":"t1","level":"INFO"}` + "\nall done\n",
			wantErr: true,
		},
		{
			name:    "empty input",
			input:   "",
			wantErr: true,
		},
		{
			name: "standalone brace without marker is rejected",
			input: `installing driver
{
  "driver_version": "550.54"
}
QUICKMARK_BENCHMARK_COMPLETE
`,
			wantErr: true,
		},
		{
			name: "earlier decoy brace is skipped",
			input: `{
  "driver_version": "550.54"
}
{"time":"t2","level":"INFO"}
{
  "benchmark_results": {
    "quick_mark": {
      "gpu_model": "RTX 4090"
    }
  }
}
QUICKMARK_BENCHMARK_COMPLETE
`,
			check: func(t *testing.T, doc json.RawMessage) {
				assert.Contains(t, string(doc), `"gpu_model"`)
				assert.NotContains(t, string(doc), "driver_version")
			},
		},
		{
			name: "unterminated object is malformed",
			input: `{
  "benchmark_results": {
QUICKMARK_BENCHMARK_COMPLETE
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Extract(strings.Split(tt.input, "\n"))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedResult)

				return
			}

			require.NoError(t, err)
			tt.check(t, doc)
		})
	}
}

func TestExtract_RoundTripsContent(t *testing.T) {
	input := []string{
		`{"time":"t1","level":"INFO"}`,
		`{`,
		`  "benchmark_results": {`,
		`    "quick_mark": {`,
		`      "gpu_count": 2`,
		`    }`,
		`  }`,
		`}`,
		`QUICKMARK_BENCHMARK_COMPLETE`,
	}

	doc, err := Extract(input)
	require.NoError(t, err)

	// Re-serializing must preserve content exactly.
	var v any
	require.NoError(t, json.Unmarshal(doc, &v))

	reserialized, err := json.Marshal(v)
	require.NoError(t, err)

	var v2 any
	require.NoError(t, json.Unmarshal(reserialized, &v2))
	assert.Equal(t, v, v2)
}

func TestExtractAndPreserve_WritesSideFile(t *testing.T) {
	raw := []byte("no result here\njust noise\n")
	sidePath := filepath.Join(t.TempDir(), "raw", "machine-123.log")

	_, err := ExtractAndPreserve(raw, sidePath)
	require.ErrorIs(t, err, ErrMalformedResult)

	preserved, readErr := os.ReadFile(sidePath)
	require.NoError(t, readErr)
	assert.Equal(t, raw, preserved, "side file must preserve the raw stream verbatim")
}

func TestExtractAndPreserve_NoSideFileOnSuccess(t *testing.T) {
	raw := []byte("{\n  \"benchmark_results\": {}\n}\nQUICKMARK_BENCHMARK_COMPLETE\n")
	sidePath := filepath.Join(t.TempDir(), "machine-123.log")

	doc, err := ExtractAndPreserve(raw, sidePath)
	require.NoError(t, err)
	assert.True(t, json.Valid(doc))

	_, statErr := os.Stat(sidePath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSplitLines_CRLF(t *testing.T) {
	lines := SplitLines([]byte("a\r\nb\r\n"))
	assert.Equal(t, []string{"a", "b", ""}, lines)
}
