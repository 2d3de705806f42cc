package llm

import (
	"encoding/json"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			"bare object",
			`{"verdict": "PASS"}`,
			`{"verdict": "PASS"}`,
		},
		{
			"markdown block",
			"Here you go:\n```json\n{\"verdict\": \"PASS\"}\n```\nDone.",
			`{"verdict": "PASS"}`,
		},
		{
			"markdown block without language tag",
			"```\n{\"a\": 1}\n```",
			`{"a": 1}`,
		},
		{
			"surrounding prose",
			"The answer is {\"a\": 1} as requested.",
			`{"a": 1}`,
		},
		{
			"no json at all",
			"I could not produce a structured answer.",
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractJSON(tt.content); got != tt.want {
				t.Errorf("ExtractJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractJSONCleansArtifacts(t *testing.T) {
	content := `{
	"files": [
		"a.go", // main entry
		"b.go",
	],
	"url": "http://example.com/x" // not a comment marker
}`

	extracted := ExtractJSON(content)

	var parsed struct {
		Files []string `json:"files"`
		URL   string   `json:"url"`
	}
	if err := json.Unmarshal([]byte(extracted), &parsed); err != nil {
		t.Fatalf("cleaned JSON does not parse: %v\n%s", err, extracted)
	}
	if len(parsed.Files) != 2 {
		t.Errorf("files = %v, want 2 entries", parsed.Files)
	}
	if parsed.URL != "http://example.com/x" {
		t.Errorf("url = %q, URL was mangled", parsed.URL)
	}
}
