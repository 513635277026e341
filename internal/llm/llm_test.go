package llm

import (
	"testing"
)

func TestExtractSQL(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{
			name:  "fenced sql block",
			reply: "Here you go:\n```sql\nSELECT 1\n```\nLet me know.",
			want:  "SELECT 1",
		},
		{
			name:  "fenced block without language",
			reply: "```\nSELECT x FROM t\n```",
			want:  "SELECT x FROM t",
		},
		{
			name:  "uppercase fence tag",
			reply: "```SQL\nSELECT 2\n```",
			want:  "SELECT 2",
		},
		{
			name:  "multiline statement",
			reply: "```sql\nSELECT a,\n       b\nFROM t\nWHERE a > 0\n```",
			want:  "SELECT a,\n       b\nFROM t\nWHERE a > 0",
		},
		{
			name:  "no fence returns trimmed reply",
			reply: "  SELECT 3  ",
			want:  "SELECT 3",
		},
		{
			name:  "refusal passes through",
			reply: "I can't answer that with the available tables.",
			want:  "I can't answer that with the available tables.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractSQL(tt.reply); got != tt.want {
				t.Errorf("ExtractSQL(%q) = %q, want %q", tt.reply, got, tt.want)
			}
		})
	}
}

func TestLooksLikeSQL(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"SELECT 1 FROM t", true},
		{"select count(*) from t", true},
		{"WITH base AS (SELECT 1) SELECT * FROM base", true},
		{"SELECT\n  a\nFROM t", true},
		{"I can't answer that with the available tables.", false},
		{"The selection of tables is too small.", false},
		{"", false},
		{"select", false},
	}
	for _, tt := range tests {
		if got := LooksLikeSQL(tt.text); got != tt.want {
			t.Errorf("LooksLikeSQL(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
