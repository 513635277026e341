package chat

import (
	"reflect"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		line string
		want command
	}{
		{"empty", "", command{kind: cmdEmpty}},
		{"whitespace only", "   \t ", command{kind: cmdEmpty}},
		{"exit", "exit", command{kind: cmdExit}},
		{"quit", "quit", command{kind: cmdExit}},
		{"slash exit", "/exit", command{kind: cmdExit}},
		{"backslash quit", `\quit`, command{kind: cmdExit}},
		{"mixed case", "EXIT", command{kind: cmdExit}},
		{"login", "login", command{kind: cmdLogin}},
		{"reauth", "reauth", command{kind: cmdLogin}},
		{"bare init", "init", command{kind: cmdInit, datasets: []string{}}},
		{"init with datasets", "init sales analytics", command{kind: cmdInit, datasets: []string{"sales", "analytics"}}},
		{"query", "top 10 customers by revenue", command{kind: cmdQuery, text: "top 10 customers by revenue"}},
		{"query mentioning exit mid-line", "how do users exit the funnel", command{kind: cmdQuery, text: "how do users exit the funnel"}},
		{"folder with instruction", "@revenue-by-region analyze the trend", command{kind: cmdFolder, folder: "revenue-by-region", instruction: "analyze the trend"}},
		{"folder visualize", "@revenue-by-region visualize as a bar chart", command{kind: cmdFolder, folder: "revenue-by-region", instruction: "visualize as a bar chart"}},
		{"folder without instruction", "@revenue-by-region", command{kind: cmdFolder, folder: "revenue-by-region"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseCommand(tt.line)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseCommand(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestArtifactName(t *testing.T) {
	tests := []struct {
		instruction string
		want        string
	}{
		{"summarize the findings", "analysis.md"},
		{"visualize the monthly trend", "chart.md"},
		{"draw a bar CHART of revenue", "chart.md"},
		{"plot conversion over time", "chart.md"},
		{"explain the outliers", "analysis.md"},
	}
	for _, tt := range tests {
		if got := artifactName(tt.instruction); got != tt.want {
			t.Errorf("artifactName(%q) = %q, want %q", tt.instruction, got, tt.want)
		}
	}
}
