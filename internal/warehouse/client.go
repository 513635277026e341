package warehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ryokaneoka0406/wise/internal/apperrors"
)

const (
	// DefaultBaseURL is the BigQuery REST v2 endpoint.
	DefaultBaseURL = "https://bigquery.googleapis.com/bigquery/v2"

	defaultMaxResults = 1000
	maxSampleRows     = 300
	listPageSize      = 1000
)

// Client performs BigQuery REST calls. It holds no credentials; callers
// pass a valid access token to every operation.
type Client struct {
	baseURL    string
	location   string
	httpClient *http.Client

	// Retry and Poll are exposed so tests can shrink the schedules.
	Retry RetryPolicy
	Poll  PollPolicy
}

// NewClient creates a client for the given location. An empty baseURL
// selects the public BigQuery endpoint.
func NewClient(baseURL, location string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		location:   location,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		Retry:      DefaultRetryPolicy(),
		Poll:       DefaultPollPolicy(),
	}
}

// ---- wire types -------------------------------------------------------

type fieldSchema struct {
	Name   string        `json:"name"`
	Type   string        `json:"type"`
	Mode   string        `json:"mode"`
	Fields []fieldSchema `json:"fields"` // present for RECORD, not expanded
}

type tableSchema struct {
	Fields []fieldSchema `json:"fields"`
}

type rowCell struct {
	V interface{} `json:"v"`
}

type rowData struct {
	F []rowCell `json:"f"`
}

type datasetListResponse struct {
	Datasets []struct {
		DatasetReference struct {
			DatasetID string `json:"datasetId"`
		} `json:"datasetReference"`
	} `json:"datasets"`
	NextPageToken string `json:"nextPageToken"`
}

type tableListResponse struct {
	Tables []struct {
		TableReference struct {
			TableID string `json:"tableId"`
		} `json:"tableReference"`
	} `json:"tables"`
	NextPageToken string `json:"nextPageToken"`
}

type tableGetResponse struct {
	Schema tableSchema `json:"schema"`
}

type tableDataResponse struct {
	Rows      []rowData `json:"rows"`
	PageToken string    `json:"pageToken"`
}

type queryResponse struct {
	JobReference struct {
		JobID string `json:"jobId"`
	} `json:"jobReference"`
	JobComplete *bool        `json:"jobComplete"`
	Schema      *tableSchema `json:"schema"`
	Rows        []rowData    `json:"rows"`
	TotalRows   string       `json:"totalRows"`
	PageToken   string       `json:"pageToken"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// ---- public operations ------------------------------------------------

// ListDatasets returns dataset ids for the project in server order.
func (c *Client) ListDatasets(ctx context.Context, accessToken, project string) ([]string, error) {
	path := fmt.Sprintf("/projects/%s/datasets", project)
	var ids []string
	token := ""
	for {
		params := url.Values{"maxResults": {strconv.Itoa(listPageSize)}}
		if token != "" {
			params.Set("pageToken", token)
		}
		var page datasetListResponse
		if err := c.request(ctx, accessToken, http.MethodGet, path, params, nil, &page); err != nil {
			return nil, err
		}
		for _, ds := range page.Datasets {
			if id := ds.DatasetReference.DatasetID; id != "" {
				ids = append(ids, id)
			}
		}
		token = page.NextPageToken
		if token == "" {
			return ids, nil
		}
	}
}

// ListTables returns table ids for a dataset in server order.
func (c *Client) ListTables(ctx context.Context, accessToken, project, dataset string) ([]string, error) {
	if dataset == "" {
		return nil, fmt.Errorf("dataset is required")
	}
	path := fmt.Sprintf("/projects/%s/datasets/%s/tables", project, dataset)
	var ids []string
	token := ""
	for {
		params := url.Values{"maxResults": {strconv.Itoa(listPageSize)}}
		if token != "" {
			params.Set("pageToken", token)
		}
		var page tableListResponse
		if err := c.request(ctx, accessToken, http.MethodGet, path, params, nil, &page); err != nil {
			return nil, err
		}
		for _, t := range page.Tables {
			if id := t.TableReference.TableID; id != "" {
				ids = append(ids, id)
			}
		}
		token = page.NextPageToken
		if token == "" {
			return ids, nil
		}
	}
}

// TableSchema returns the field definitions of a table. RECORD/REPEATED
// fields keep their declared type; their inner structure is dropped.
func (c *Client) TableSchema(ctx context.Context, accessToken, project, dataset, table string) ([]Field, error) {
	if dataset == "" || table == "" {
		return nil, fmt.Errorf("dataset and table are required")
	}
	path := fmt.Sprintf("/projects/%s/datasets/%s/tables/%s", project, dataset, table)
	var resp tableGetResponse
	if err := c.request(ctx, accessToken, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return flattenSchema(resp.Schema.Fields), nil
}

// SampleRows fetches up to maxResults rows via the table data endpoint.
// maxResults is clamped to a small bound to avoid large transfers.
func (c *Client) SampleRows(ctx context.Context, accessToken, project, dataset, table string, maxResults int) ([]Row, error) {
	if maxResults <= 0 {
		return nil, nil
	}
	if maxResults > maxSampleRows {
		maxResults = maxSampleRows
	}

	schema, err := c.TableSchema(ctx, accessToken, project, dataset, table)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/projects/%s/datasets/%s/tables/%s/data", project, dataset, table)
	params := url.Values{"maxResults": {strconv.Itoa(maxResults)}}
	var resp tableDataResponse
	if err := c.request(ctx, accessToken, http.MethodGet, path, params, nil, &resp); err != nil {
		return nil, err
	}
	return formatRows(resp.Rows, schema), nil
}

// RunSQL submits sql as a remote job, waits for completion, and returns
// the collected rows. See QueryOptions for paging and dry-run behavior.
func (c *Client) RunSQL(ctx context.Context, accessToken, project, sql string, opts QueryOptions) (*Result, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, fmt.Errorf("sql statement is empty")
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	payload := map[string]interface{}{
		"query":        sql,
		"useLegacySql": false,
		"location":     c.location,
		"maxResults":   maxResults,
		"dryRun":       opts.DryRun,
	}

	var first queryResponse
	path := fmt.Sprintf("/projects/%s/queries", project)
	if err := c.request(ctx, accessToken, http.MethodPost, path, nil, payload, &first); err != nil {
		return nil, err
	}

	schema := schemaFields(first.Schema)
	result := &Result{
		Schema:    flattenSchema(schema),
		TotalRows: parseTotal(first.TotalRows),
		JobID:     first.JobReference.JobID,
	}

	if opts.DryRun {
		return result, nil
	}
	if result.JobID == "" {
		return nil, fmt.Errorf("query response is missing a job id")
	}

	result.Rows = append(result.Rows, formatRows(first.Rows, result.Schema)...)
	pageToken := first.PageToken

	if !jobComplete(first.JobComplete) {
		finished, err := c.pollJob(ctx, accessToken, project, result.JobID, maxResults)
		if err != nil {
			return nil, err
		}
		if len(result.Schema) == 0 {
			result.Schema = flattenSchema(schemaFields(finished.Schema))
		}
		result.Rows = append(result.Rows, formatRows(finished.Rows, result.Schema)...)
		if t := parseTotal(finished.TotalRows); t > 0 {
			result.TotalRows = t
		}
		pageToken = finished.PageToken
	}

	if opts.FetchAll {
		for pageToken != "" && int64(len(result.Rows)) < result.TotalRows && len(result.Rows) < maxResults {
			page, err := c.getQueryResults(ctx, accessToken, project, result.JobID, maxResults, pageToken)
			if err != nil {
				return nil, err
			}
			if len(result.Schema) == 0 {
				result.Schema = flattenSchema(schemaFields(page.Schema))
			}
			result.Rows = append(result.Rows, formatRows(page.Rows, result.Schema)...)
			pageToken = page.PageToken
		}
	}

	if len(result.Rows) > maxResults {
		result.Rows = result.Rows[:maxResults]
	}
	return result, nil
}

// pollJob waits for job completion under the poll policy. Exceeding the
// ceiling returns a TimeoutError carrying the orphaned job id.
func (c *Client) pollJob(ctx context.Context, accessToken, project, jobID string, maxResults int) (*queryResponse, error) {
	start := time.Now()
	interval := c.Poll.InitialInterval
	for {
		if time.Since(start)+interval > c.Poll.MaxElapsed {
			log.Printf("[Warehouse] giving up on job %s after %s", jobID, time.Since(start).Round(time.Millisecond))
			return nil, &apperrors.TimeoutError{JobID: jobID}
		}
		if err := wait(ctx, interval); err != nil {
			return nil, err
		}

		page, err := c.getQueryResults(ctx, accessToken, project, jobID, maxResults, "")
		if err != nil {
			return nil, err
		}
		if jobComplete(page.JobComplete) {
			return page, nil
		}
		interval = c.Poll.Next(interval)
	}
}

func (c *Client) getQueryResults(ctx context.Context, accessToken, project, jobID string, maxResults int, pageToken string) (*queryResponse, error) {
	params := url.Values{
		"maxResults": {strconv.Itoa(maxResults)},
	}
	if c.location != "" {
		params.Set("location", c.location)
	}
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}
	var resp queryResponse
	path := fmt.Sprintf("/projects/%s/queries/%s", project, jobID)
	if err := c.request(ctx, accessToken, http.MethodGet, path, params, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---- transport --------------------------------------------------------

// request performs one API call with bounded retry of transient failures
// and maps error statuses onto the shared taxonomy.
func (c *Client) request(ctx context.Context, accessToken, method, path string, params url.Values, payload, out interface{}) error {
	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < c.Retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := wait(ctx, c.Retry.Interval(attempt-1)); err != nil {
				return err
			}
		}

		var body io.Reader
		if payload != nil {
			data, err := json.Marshal(payload)
			if err != nil {
				return fmt.Errorf("marshal payload: %w", err)
			}
			body = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}

		retriable, err := c.handleResponse(resp, out)
		if !retriable {
			return err
		}
		lastErr = err
		if d := retryAfter(resp); d > 0 {
			if werr := wait(ctx, d); werr != nil {
				return werr
			}
		}
	}
	return &apperrors.TransientError{Err: lastErr}
}

// handleResponse decodes a success body into out or maps the status onto
// the error taxonomy. The bool return marks retriable outcomes.
func (c *Client) handleResponse(resp *http.Response, out interface{}) (retriable bool, err error) {
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		if out == nil {
			return false, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, fmt.Errorf("decode response: %w", err)
		}
		return false, nil
	}

	data, _ := io.ReadAll(resp.Body)
	var remote apiError
	_ = json.Unmarshal(data, &remote)
	message := remote.Error.Message
	if message == "" {
		message = strings.TrimSpace(string(data))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, fmt.Errorf("warehouse returned %d: %w", resp.StatusCode, apperrors.ErrAuthExpired)
	case resp.StatusCode == http.StatusNotFound:
		return false, fmt.Errorf("%s: %w", message, apperrors.ErrNotFound)
	case resp.StatusCode == http.StatusBadRequest:
		return false, &apperrors.QueryError{Status: resp.StatusCode, Message: message}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return true, fmt.Errorf("warehouse returned %d: %s", resp.StatusCode, message)
	default:
		return false, fmt.Errorf("warehouse returned %d: %s", resp.StatusCode, message)
	}
}

// ---- helpers ----------------------------------------------------------

func flattenSchema(fields []fieldSchema) []Field {
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, Field{Name: f.Name, Type: f.Type, Mode: f.Mode})
	}
	return out
}

func schemaFields(s *tableSchema) []fieldSchema {
	if s == nil {
		return nil
	}
	return s.Fields
}

func jobComplete(v *bool) bool {
	// Absent means complete, matching the remote API contract.
	return v == nil || *v
}

func parseTotal(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func formatRows(rows []rowData, schema []Field) []Row {
	if len(rows) == 0 || len(schema) == 0 {
		return nil
	}
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		mapped := make(Row, len(schema))
		for i, f := range schema {
			if f.Name == "" {
				continue
			}
			if i < len(r.F) {
				mapped[f.Name] = formatCell(r.F[i].V)
			} else {
				mapped[f.Name] = ""
			}
		}
		out = append(out, mapped)
	}
	return out
}

func formatCell(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
