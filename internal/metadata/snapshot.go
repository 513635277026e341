// Package metadata assembles point-in-time structural descriptions of a
// warehouse project and renders them to a Markdown document used to
// ground SQL generation.
package metadata

import (
	"context"
	"errors"
	"log"
	"sort"

	"github.com/ryokaneoka0406/wise/internal/apperrors"
	"github.com/ryokaneoka0406/wise/internal/warehouse"
)

// TableMeta describes one table. Err is set when the table's schema or
// sample fetch failed; the rest of the snapshot is unaffected.
type TableMeta struct {
	Name       string
	Schema     []warehouse.Field
	SampleRows []warehouse.Row
	Err        string
}

// DatasetMeta describes one dataset. Err is set when the table listing
// itself failed.
type DatasetMeta struct {
	Name   string
	Tables []TableMeta
	Err    string
}

// Snapshot is an immutable description of a project's datasets, tables,
// schemas, and sample rows. Datasets and tables are sorted by name so
// repeated builds over unchanged remote data render identically.
type Snapshot struct {
	Project  string
	Location string
	Datasets []DatasetMeta
}

// Builder composes warehouse calls into snapshots.
type Builder struct {
	wh      *warehouse.Client
	sampleN int
}

// NewBuilder creates a Builder fetching up to sampleN sample rows per table.
func NewBuilder(wh *warehouse.Client, sampleN int) *Builder {
	return &Builder{wh: wh, sampleN: sampleN}
}

// Build collects metadata for the given datasets, or for every dataset in
// the project when datasets is empty. A single table's failure is
// recorded as a marker instead of aborting the snapshot; auth expiry
// still aborts so the caller can re-authenticate.
func (b *Builder) Build(ctx context.Context, accessToken, project, location string, datasets []string) (*Snapshot, error) {
	if len(datasets) == 0 {
		var err error
		datasets, err = b.wh.ListDatasets(ctx, accessToken, project)
		if err != nil {
			return nil, err
		}
	}

	sorted := append([]string(nil), datasets...)
	sort.Strings(sorted)

	snap := &Snapshot{Project: project, Location: location}
	for _, ds := range sorted {
		meta, err := b.buildDataset(ctx, accessToken, project, ds)
		if err != nil {
			return nil, err
		}
		snap.Datasets = append(snap.Datasets, *meta)
	}
	return snap, nil
}

func (b *Builder) buildDataset(ctx context.Context, accessToken, project, dataset string) (*DatasetMeta, error) {
	meta := &DatasetMeta{Name: dataset}

	tables, err := b.wh.ListTables(ctx, accessToken, project, dataset)
	if err != nil {
		if errors.Is(err, apperrors.ErrAuthExpired) {
			return nil, err
		}
		log.Printf("[Metadata] listing tables in %s failed: %v", dataset, err)
		meta.Err = err.Error()
		return meta, nil
	}
	sort.Strings(tables)

	for _, table := range tables {
		tm := TableMeta{Name: table}

		schema, err := b.wh.TableSchema(ctx, accessToken, project, dataset, table)
		if err != nil {
			if errors.Is(err, apperrors.ErrAuthExpired) {
				return nil, err
			}
			log.Printf("[Metadata] schema fetch for %s.%s failed: %v", dataset, table, err)
			tm.Err = err.Error()
			meta.Tables = append(meta.Tables, tm)
			continue
		}
		tm.Schema = schema

		samples, err := b.wh.SampleRows(ctx, accessToken, project, dataset, table, b.sampleN)
		if err != nil {
			if errors.Is(err, apperrors.ErrAuthExpired) {
				return nil, err
			}
			log.Printf("[Metadata] sample fetch for %s.%s failed: %v", dataset, table, err)
			tm.Err = err.Error()
		} else {
			tm.SampleRows = samples
		}
		meta.Tables = append(meta.Tables, tm)
	}
	return meta, nil
}
