package render

import (
	"strings"
	"testing"
)

func TestMarkdown(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		notWant []string
	}{
		{
			name:  "emphasis",
			input: "I felt **proud** today",
			want:  []string{"<strong>proud</strong>"},
		},
		{
			name:  "gfm list and strikethrough",
			input: "- one\n- ~~two~~",
			want:  []string{"<li>one</li>", "<del>two</del>"},
		},
		{
			name:    "script is dropped",
			input:   "hello <script>alert(1)</script>",
			want:    []string{"hello"},
			notWant: []string{"<script", "alert(1)</script>"},
		},
		{
			name:    "javascript link is neutralized",
			input:   "[click](javascript:alert(1))",
			notWant: []string{"javascript:"},
		},
		{
			name:  "external link gets nofollow",
			input: "[site](https://example.com)",
			want:  []string{`href="https://example.com"`, "nofollow"},
		},
		{
			name:  "line break preserved",
			input: "first\nsecond",
			want:  []string{"<br"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Markdown(tt.input)
			if err != nil {
				t.Fatalf("Markdown() error = %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("Markdown(%q) = %q, missing %q", tt.input, got, w)
				}
			}
			for _, nw := range tt.notWant {
				if strings.Contains(got, nw) {
					t.Errorf("Markdown(%q) = %q, must not contain %q", tt.input, got, nw)
				}
			}
		})
	}
}

func TestMarkdown_Empty(t *testing.T) {
	got, err := Markdown("")
	if err != nil {
		t.Fatalf("Markdown() error = %v", err)
	}
	if strings.TrimSpace(got) != "" {
		t.Errorf("Markdown(\"\") = %q, want empty", got)
	}
}
