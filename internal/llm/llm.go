// Package llm wraps the SQL-generation collaborator behind a narrow
// interface. The session treats it as an opaque function from metadata
// plus conversation to a SQL string or an explanatory refusal.
package llm

import (
	"context"
	"strings"
)

// Turn is one conversation entry fed to the generator.
type Turn struct {
	Role    string
	Content string
}

// Generator produces SQL and free-form analysis text.
type Generator interface {
	// GenerateSQL returns a SQL statement for the latest user request,
	// grounded on the metadata document, or an explanatory refusal.
	GenerateSQL(ctx context.Context, metadataDoc string, conversation []Turn) (string, error)
	// Generate answers an arbitrary prompt (analyze / visualize steps).
	Generate(ctx context.Context, prompt string) (string, error)
}

// ExtractSQL pulls the statement out of a model reply: the first fenced
// ```sql block when present, otherwise the whole reply trimmed.
func ExtractSQL(reply string) string {
	lower := strings.ToLower(reply)
	start := strings.Index(lower, "```sql")
	if start == -1 {
		start = strings.Index(lower, "```")
		if start == -1 {
			return strings.TrimSpace(reply)
		}
	}
	rest := reply[start:]
	nl := strings.Index(rest, "\n")
	if nl == -1 {
		return strings.TrimSpace(reply)
	}
	rest = rest[nl+1:]
	if end := strings.Index(rest, "```"); end != -1 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// LooksLikeSQL reports whether text plausibly starts a SQL statement.
// Anything else is treated as a refusal and shown verbatim.
func LooksLikeSQL(text string) bool {
	head := strings.ToLower(strings.TrimSpace(text))
	for _, prefix := range []string{"select", "with", "declare", "create", "insert", "merge", "delete", "update"} {
		if strings.HasPrefix(head, prefix+" ") || strings.HasPrefix(head, prefix+"\n") {
			return true
		}
	}
	return false
}
