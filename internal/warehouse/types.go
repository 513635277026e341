// Package warehouse is a stateless BigQuery REST v2 client: metadata
// listings, sample rows, and SQL execution with job polling and result
// paging. Every operation takes a valid access token; token lifecycle
// belongs to the auth packages.
package warehouse

// Field is one column of a table schema. Nested (RECORD) and REPEATED
// fields are reported with their declared type but not expanded.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Mode string `json:"mode,omitempty"`
}

// Row maps column names to cell values. Every cell is coerced to its
// textual form so pages concatenate without type drift; NULL becomes "".
type Row map[string]string

// Result is the outcome of RunSQL.
type Result struct {
	Schema    []Field
	Rows      []Row
	TotalRows int64
	JobID     string
}

// QueryOptions tune RunSQL behavior.
type QueryOptions struct {
	// MaxResults is both the page size and the cumulative row cap.
	// Zero means the package default.
	MaxResults int
	// DryRun validates the statement and returns schema with zero rows.
	DryRun bool
	// FetchAll follows the pagination cursor until TotalRows rows have
	// been collected or MaxResults is reached.
	FetchAll bool
}
