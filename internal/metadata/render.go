package metadata

import (
	"fmt"
	"strings"
)

// Render produces the Markdown description of a snapshot. The output is
// fully determined by the snapshot contents: no timestamps, stable
// ordering, so re-running init over unchanged remote data yields a
// byte-identical document.
func Render(snap *Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Warehouse metadata: `%s`\n\n", snap.Project)
	b.WriteString("## Overview\n\n")
	fmt.Fprintf(&b, "- Project: `%s`\n", snap.Project)
	location := snap.Location
	if location == "" {
		location = "unspecified"
	}
	fmt.Fprintf(&b, "- Location: `%s`\n", location)
	fmt.Fprintf(&b, "- Datasets: %d\n\n", len(snap.Datasets))

	b.WriteString("## Datasets\n\n")
	if len(snap.Datasets) == 0 {
		b.WriteString("_No datasets found._\n")
	} else {
		b.WriteString("| Dataset | Tables |\n| --- | --- |\n")
		for _, ds := range snap.Datasets {
			fmt.Fprintf(&b, "| `%s` | %d |\n", ds.Name, len(ds.Tables))
		}
	}

	for _, ds := range snap.Datasets {
		renderDataset(&b, ds)
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func renderDataset(b *strings.Builder, ds DatasetMeta) {
	fmt.Fprintf(b, "\n## Dataset `%s`\n", ds.Name)
	if ds.Err != "" {
		fmt.Fprintf(b, "\n_Metadata unavailable: %s_\n", escapeCell(ds.Err))
		return
	}
	if len(ds.Tables) == 0 {
		b.WriteString("\n_No tables._\n")
		return
	}
	for _, table := range ds.Tables {
		renderTable(b, ds.Name, table)
	}
}

func renderTable(b *strings.Builder, dataset string, table TableMeta) {
	fmt.Fprintf(b, "\n### Table `%s.%s`\n", dataset, table.Name)
	if table.Err != "" {
		fmt.Fprintf(b, "\n_Metadata unavailable: %s_\n", escapeCell(table.Err))
		return
	}

	b.WriteString("\n#### Schema\n\n")
	if len(table.Schema) == 0 {
		b.WriteString("_Schema unavailable._\n")
	} else {
		b.WriteString("| Name | Type | Mode |\n| --- | --- | --- |\n")
		for _, f := range table.Schema {
			fmt.Fprintf(b, "| %s | %s | %s |\n", escapeCell(f.Name), escapeCell(f.Type), escapeCell(f.Mode))
		}
	}

	b.WriteString("\n#### Sample rows\n\n")
	if len(table.SampleRows) == 0 {
		b.WriteString("_No sample rows available._\n")
		return
	}

	columns := make([]string, 0, len(table.Schema))
	for _, f := range table.Schema {
		if f.Name != "" {
			columns = append(columns, f.Name)
		}
	}
	if len(columns) == 0 {
		b.WriteString("_Sample rows cannot be tabulated._\n")
		return
	}

	for i, col := range columns {
		if i > 0 {
			b.WriteString(" | ")
		} else {
			b.WriteString("| ")
		}
		b.WriteString(escapeCell(col))
	}
	b.WriteString(" |\n|")
	b.WriteString(strings.Repeat(" --- |", len(columns)))
	b.WriteString("\n")

	for _, row := range table.SampleRows {
		b.WriteString("|")
		for _, col := range columns {
			fmt.Fprintf(b, " %s |", escapeCell(row[col]))
		}
		b.WriteString("\n")
	}
}

func escapeCell(v string) string {
	v = strings.ReplaceAll(v, "|", "\\|")
	return strings.ReplaceAll(v, "\n", "<br>")
}
