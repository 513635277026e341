// Package datastore persists analysis output and metadata documents to
// disk. Each analysis folder is self-contained: a later analyze or
// visualize step reads it without needing the originating session.
package datastore

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ryokaneoka0406/wise/internal/warehouse"
)

const (
	analysisDirName = "analysis"
	maxSlugLen      = 48
)

// Bundle is everything written into one analysis folder.
type Bundle struct {
	SQL         string
	Schema      []warehouse.Field
	Rows        []warehouse.Row
	MetadataDoc string
	// AssistantNotes are the assistant messages relevant to this
	// analysis, in conversation order.
	AssistantNotes []string
}

// MetadataPath returns where the rendered metadata document for a
// project lives.
func MetadataPath(dataDir, project string) string {
	return filepath.Join(dataDir, project, "metadata.md")
}

// WriteMetadata overwrites the project's metadata document.
func WriteMetadata(dataDir, project, content string) (string, error) {
	path := MetadataPath(dataDir, project)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create metadata dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write metadata: %w", err)
	}
	return path, nil
}

// ReadMetadata returns the rendered metadata document, or "" when none
// has been generated yet.
func ReadMetadata(dataDir, project string) string {
	data, err := os.ReadFile(MetadataPath(dataDir, project))
	if err != nil {
		return ""
	}
	return string(data)
}

// FolderPath returns the analysis folder for a slug.
func FolderPath(dataDir, slug string) string {
	return filepath.Join(dataDir, analysisDirName, slug)
}

// Slugify derives a deterministic filesystem-safe folder name from a
// summary. Reusing a summary maps to the same folder.
func Slugify(summary string) string {
	var b strings.Builder
	lastDash := true // suppress a leading dash
	for _, r := range strings.ToLower(summary) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case r == ' ' || r == '_' || r == '-' || r == '\t':
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
		if b.Len() >= maxSlugLen {
			break
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "analysis"
	}
	return slug
}

// Save writes the bundle under a folder named from summary. An existing
// folder with the same name is fully overwritten, not merged.
func Save(dataDir, summary string, bundle *Bundle) (string, error) {
	folder := FolderPath(dataDir, Slugify(summary))

	if err := os.RemoveAll(folder); err != nil {
		return "", fmt.Errorf("clear analysis folder: %w", err)
	}
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", fmt.Errorf("create analysis folder: %w", err)
	}

	if err := writeRowsCSV(filepath.Join(folder, "rows.csv"), bundle.Schema, bundle.Rows); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(folder, "query.sql"), []byte(bundle.SQL+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write query.sql: %w", err)
	}
	if err := os.WriteFile(filepath.Join(folder, "metadata.md"), []byte(bundle.MetadataDoc), 0o644); err != nil {
		return "", fmt.Errorf("write metadata.md: %w", err)
	}
	if err := os.WriteFile(filepath.Join(folder, "messages.md"), []byte(renderNotes(bundle.AssistantNotes)), 0o644); err != nil {
		return "", fmt.Errorf("write messages.md: %w", err)
	}
	return folder, nil
}

// AppendArtifact writes a derived artifact (analysis notes, chart
// description) into an existing analysis folder.
func AppendArtifact(folder, name, content string) (string, error) {
	if _, err := os.Stat(folder); err != nil {
		return "", fmt.Errorf("analysis folder %s: %w", folder, err)
	}
	path := filepath.Join(folder, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return path, nil
}

// ReadArtifact returns a file from an analysis folder, or "" when absent.
func ReadArtifact(folder, name string) string {
	data, err := os.ReadFile(filepath.Join(folder, name))
	if err != nil {
		return ""
	}
	return string(data)
}

func writeRowsCSV(path string, schema []warehouse.Field, rows []warehouse.Row) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write rows.csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := make([]string, 0, len(schema))
	for _, field := range schema {
		header = append(header, field.Name)
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, len(header))
	for _, row := range rows {
		for i, col := range header {
			record[i] = row[col]
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

func renderNotes(notes []string) string {
	if len(notes) == 0 {
		return "_No assistant messages recorded._\n"
	}
	var b strings.Builder
	for i, note := range notes {
		if i > 0 {
			b.WriteString("\n---\n\n")
		}
		b.WriteString(note)
		b.WriteString("\n")
	}
	return b.String()
}
