package datastore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ryokaneoka0406/wise/internal/warehouse"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Monthly revenue by region", "monthly-revenue-by-region"},
		{"  spaces   everywhere  ", "spaces-everywhere"},
		{"UPPER_and_lower-Mixed", "upper-and-lower-mixed"},
		{"punctuation!? stripped：100%", "punctuation-stripped100"},
		{"", "analysis"},
		{"!!!", "analysis"},
		{strings.Repeat("verylongword", 10), strings.Repeat("verylongword", 4)},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSlugify_Deterministic(t *testing.T) {
	if Slugify("Top users last week") != Slugify("Top users last week") {
		t.Fatal("same summary must map to the same slug")
	}
}

func sampleBundle() *Bundle {
	return &Bundle{
		SQL: "SELECT region, SUM(amount) AS total FROM sales.orders GROUP BY region",
		Schema: []warehouse.Field{
			{Name: "region", Type: "STRING"},
			{Name: "total", Type: "FLOAT"},
		},
		Rows: []warehouse.Row{
			{"region": "emea", "total": "120.5"},
			{"region": "apac", "total": "88"},
		},
		MetadataDoc:    "# Warehouse metadata: `p1`\n",
		AssistantNotes: []string{"Revenue is concentrated in EMEA."},
	}
}

func TestSave_WritesAllFiles(t *testing.T) {
	dir := t.TempDir()

	folder, err := Save(dir, "Revenue by region", sampleBundle())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if folder != filepath.Join(dir, "analysis", "revenue-by-region") {
		t.Fatalf("unexpected folder path %q", folder)
	}

	csvData, err := os.ReadFile(filepath.Join(folder, "rows.csv"))
	if err != nil {
		t.Fatalf("read rows.csv: %v", err)
	}
	want := "region,total\nemea,120.5\napac,88\n"
	if string(csvData) != want {
		t.Fatalf("rows.csv = %q, want %q", csvData, want)
	}

	sql, err := os.ReadFile(filepath.Join(folder, "query.sql"))
	if err != nil {
		t.Fatalf("read query.sql: %v", err)
	}
	if !strings.HasPrefix(string(sql), "SELECT region") {
		t.Fatalf("query.sql = %q", sql)
	}

	for _, name := range []string{"metadata.md", "messages.md"} {
		if ReadArtifact(folder, name) == "" {
			t.Errorf("%s missing or empty", name)
		}
	}
}

func TestSave_OverwritesExistingFolder(t *testing.T) {
	dir := t.TempDir()

	first, err := Save(dir, "repeat", sampleBundle())
	if err != nil {
		t.Fatalf("first Save: %v", err)
	}
	// A stale artifact from a prior run must not survive a re-save.
	if _, err := AppendArtifact(first, "analysis.md", "old notes"); err != nil {
		t.Fatalf("AppendArtifact: %v", err)
	}

	second := sampleBundle()
	second.SQL = "SELECT 1"
	folder, err := Save(dir, "repeat", second)
	if err != nil {
		t.Fatalf("second Save: %v", err)
	}
	if folder != first {
		t.Fatalf("same summary must reuse the folder: %q vs %q", folder, first)
	}
	if ReadArtifact(folder, "analysis.md") != "" {
		t.Fatal("stale artifact survived the overwrite")
	}
	if got := ReadArtifact(folder, "query.sql"); got != "SELECT 1\n" {
		t.Fatalf("query.sql not replaced, got %q", got)
	}
}

func TestAppendArtifact_RequiresExistingFolder(t *testing.T) {
	dir := t.TempDir()
	if _, err := AppendArtifact(filepath.Join(dir, "analysis", "nope"), "chart.md", "x"); err == nil {
		t.Fatal("expected an error for a missing folder")
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	dir := t.TempDir()

	if got := ReadMetadata(dir, "p1"); got != "" {
		t.Fatalf("expected empty before write, got %q", got)
	}
	path, err := WriteMetadata(dir, "p1", "# doc v1\n")
	if err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}
	if path != MetadataPath(dir, "p1") {
		t.Fatalf("unexpected path %q", path)
	}
	if got := ReadMetadata(dir, "p1"); got != "# doc v1\n" {
		t.Fatalf("ReadMetadata = %q", got)
	}

	// Overwrite, never merge.
	if _, err := WriteMetadata(dir, "p1", "# doc v2\n"); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if got := ReadMetadata(dir, "p1"); got != "# doc v2\n" {
		t.Fatalf("ReadMetadata after rewrite = %q", got)
	}
}
