package chat

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ryokaneoka0406/wise/internal/apperrors"
	"github.com/ryokaneoka0406/wise/internal/config"
	"github.com/ryokaneoka0406/wise/internal/datastore"
	"github.com/ryokaneoka0406/wise/internal/db"
	"github.com/ryokaneoka0406/wise/internal/db/models"
	"github.com/ryokaneoka0406/wise/internal/llm"
	"github.com/ryokaneoka0406/wise/internal/warehouse"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := db.InitDB(dsn)
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	return conn
}

type fakeTokens struct {
	token       string
	err         error
	invalidated int
}

func (f *fakeTokens) AccessToken(ctx context.Context, accountID string) (string, time.Time, error) {
	if f.err != nil {
		return "", time.Time{}, f.err
	}
	return f.token, time.Now().Add(time.Hour), nil
}

func (f *fakeTokens) Invalidate(accountID string) { f.invalidated++ }

type fakeGen struct {
	sqlReply string
	sqlErr   error
	reply    string
	sqlCalls int
	calls    int
}

func (f *fakeGen) GenerateSQL(ctx context.Context, metadataDoc string, conversation []llm.Turn) (string, error) {
	f.sqlCalls++
	return f.sqlReply, f.sqlErr
}

func (f *fakeGen) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls++
	return f.reply, nil
}

func seedAccount(t *testing.T, conn *gorm.DB, email string, lastUsed time.Time) *models.Account {
	t.Helper()
	account := &models.Account{
		ID:           uuid.New().String(),
		Email:        email,
		RefreshToken: "refresh-" + email,
		LastUsedAt:   lastUsed,
	}
	if err := conn.Create(account).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return account
}

func seedDataset(t *testing.T, conn *gorm.DB, project, dataset string) *models.Dataset {
	t.Helper()
	row := &models.Dataset{ID: uuid.New().String(), Project: project, Dataset: dataset}
	if err := conn.Create(row).Error; err != nil {
		t.Fatalf("seed dataset: %v", err)
	}
	return row
}

type fixture struct {
	session *Session
	conn    *gorm.DB
	cfg     *config.Config
	tokens  *fakeTokens
	gen     *fakeGen
	out     *bytes.Buffer
}

// newFixture wires a session against a seeded store, a fake generator,
// and a warehouse client pointing at baseURL. Input lines are consumed
// by confirmation prompts in order.
func newFixture(t *testing.T, baseURL, input string) *fixture {
	t.Helper()
	conn := newTestDB(t)
	seedAccount(t, conn, "user@example.com", time.Now())

	cfg := &config.Config{
		Project:      "p1",
		Location:     "US",
		DataDir:      t.TempDir(),
		SampleRows:   3,
		MaxQueryRows: 100,
	}
	tokens := &fakeTokens{token: "tok"}
	gen := &fakeGen{}
	wh := warehouse.NewClient(baseURL, cfg.Location)
	wh.Retry = warehouse.RetryPolicy{MaxAttempts: 1, InitialInterval: 1, MaxInterval: 1, Multiplier: 2}
	out := &bytes.Buffer{}

	consent := func(ctx context.Context) (*models.Account, error) {
		t.Fatal("consent flow must not run when a stored credential exists")
		return nil, nil
	}
	s := New(conn, cfg, tokens, wh, gen, consent, strings.NewReader(input), out)
	return &fixture{session: s, conn: conn, cfg: cfg, tokens: tokens, gen: gen, out: out}
}

func writeSnapshot(t *testing.T, cfg *config.Config) {
	t.Helper()
	if _, err := datastore.WriteMetadata(cfg.DataDir, cfg.Project, "# Warehouse metadata: `p1`\n"); err != nil {
		t.Fatalf("write metadata: %v", err)
	}
}

func countRows(t *testing.T, conn *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	if err := conn.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestDispatch_DeclinedQueryExecutesNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("declined query must not reach the warehouse: %s %s", r.Method, r.URL.Path)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, "n\n")
	writeSnapshot(t, f.cfg)
	f.gen.sqlReply = "```sql\nSELECT region FROM sales.orders\n```"

	f.session.dispatch(context.Background(), parseCommand("show regions"))

	if got := countRows(t, f.conn, &models.Query{}); got != 0 {
		t.Fatalf("expected no query rows, got %d", got)
	}
	if !strings.Contains(f.out.String(), "Nothing was executed") {
		t.Fatalf("missing decline message in output:\n%s", f.out.String())
	}
	// The exchange itself is still history.
	if got := countRows(t, f.conn, &models.Message{}); got != 2 {
		t.Fatalf("expected user and assistant messages persisted, got %d", got)
	}
}

func TestDispatch_ConfirmedQueryRecordsHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"jobReference": {"jobId": "job-7"},
			"jobComplete": true,
			"schema": {"fields": [{"name": "region", "type": "STRING"}]},
			"rows": [{"f": [{"v": "emea"}]}],
			"totalRows": "1"
		}`)
	}))
	defer srv.Close()

	// Confirm execution, decline the save prompt.
	f := newFixture(t, srv.URL, "y\nn\n")
	writeSnapshot(t, f.cfg)
	seedDataset(t, f.conn, "p1", "sales")
	f.gen.sqlReply = "```sql\nSELECT region FROM sales.orders\n```"

	f.session.dispatch(context.Background(), parseCommand("show regions"))

	var query models.Query
	if err := f.conn.First(&query).Error; err != nil {
		t.Fatalf("expected a query row: %v", err)
	}
	if query.JobID != "job-7" || query.RowCount != 1 {
		t.Fatalf("query row incomplete: %+v", query)
	}
	if query.SQL != "SELECT region FROM sales.orders" {
		t.Fatalf("recorded sql = %q", query.SQL)
	}

	var analysis models.Analysis
	if err := f.conn.First(&analysis, "id = ?", query.AnalysisID).Error; err != nil {
		t.Fatalf("query must link to an analysis: %v", err)
	}
	if analysis.DatasetID == "" {
		t.Fatal("analysis must link to a dataset")
	}
	if f.session.State() != StateReady {
		t.Fatalf("expected StateReady, got %v", f.session.State())
	}
}

func TestDispatch_AuthExpiredReturnsToAuthenticating(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"message": "Invalid Credentials"}}`)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, "y\n")
	writeSnapshot(t, f.cfg)
	f.gen.sqlReply = "```sql\nSELECT 1\n```"

	f.session.dispatch(context.Background(), parseCommand("anything there"))

	if f.session.State() != StateAuthenticating {
		t.Fatalf("expected StateAuthenticating, got %v", f.session.State())
	}
	if f.tokens.invalidated != 1 {
		t.Fatalf("expected exactly one forced refresh, got %d", f.tokens.invalidated)
	}
	// History survives the credential failure.
	if got := countRows(t, f.conn, &models.Message{}); got != 2 {
		t.Fatalf("expected persisted messages intact, got %d", got)
	}
	if !strings.Contains(f.out.String(), "login") {
		t.Fatalf("user not told to re-authenticate:\n%s", f.out.String())
	}
}

func TestDispatch_RefusalTakesNoRemoteAction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("refusal must not reach the warehouse: %s %s", r.Method, r.URL.Path)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, "")
	writeSnapshot(t, f.cfg)
	f.gen.sqlReply = "That column does not exist in any table I know about."

	f.session.dispatch(context.Background(), parseCommand("sum the flux capacitance"))

	if !strings.Contains(f.out.String(), "does not exist") {
		t.Fatalf("refusal not shown verbatim:\n%s", f.out.String())
	}
	if got := countRows(t, f.conn, &models.Query{}); got != 0 {
		t.Fatalf("expected no query rows, got %d", got)
	}
}

func TestDispatch_QueryWithoutSnapshotAsksForInit(t *testing.T) {
	f := newFixture(t, "http://127.0.0.1:0", "")
	f.session.dispatch(context.Background(), parseCommand("show anything"))

	if !strings.Contains(f.out.String(), "init") {
		t.Fatalf("expected a pointer to init:\n%s", f.out.String())
	}
	if f.gen.sqlCalls != 0 {
		t.Fatal("generator must not run without a metadata snapshot")
	}
}

func TestDispatch_InitWritesSnapshotAndDatasets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/projects/p1/datasets":
			fmt.Fprint(w, `{"datasets": [{"datasetReference": {"datasetId": "sales"}}]}`)
		case r.URL.Path == "/projects/p1/datasets/sales/tables":
			fmt.Fprint(w, `{"tables": [{"tableReference": {"tableId": "orders"}}]}`)
		case r.URL.Path == "/projects/p1/datasets/sales/tables/orders":
			fmt.Fprint(w, `{"schema": {"fields": [{"name": "id", "type": "INTEGER"}]}}`)
		case r.URL.Path == "/projects/p1/datasets/sales/tables/orders/data":
			fmt.Fprint(w, `{"rows": [{"f": [{"v": "1"}]}]}`)
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, "")
	f.session.dispatch(context.Background(), parseCommand("init"))

	path := datastore.MetadataPath(f.cfg.DataDir, "p1")
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("metadata.md missing: %v", err)
	}
	if !strings.Contains(string(first), "sales.orders") {
		t.Fatalf("metadata document incomplete:\n%s", first)
	}
	if got := countRows(t, f.conn, &models.Dataset{}); got != 1 {
		t.Fatalf("expected one dataset row, got %d", got)
	}

	// Re-running init over unchanged remote data must not churn the file
	// or duplicate dataset rows.
	f.session.dispatch(context.Background(), parseCommand("init"))
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("metadata.md gone after re-init: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("re-init must rewrite a byte-identical snapshot")
	}
	if got := countRows(t, f.conn, &models.Dataset{}); got != 1 {
		t.Fatalf("re-init duplicated dataset rows: %d", got)
	}
}

func TestDispatch_FolderVisualizeWritesChart(t *testing.T) {
	f := newFixture(t, "http://127.0.0.1:0", "")
	bundle := &datastore.Bundle{
		SQL:    "SELECT region, total FROM x",
		Schema: []warehouse.Field{{Name: "region"}, {Name: "total"}},
		Rows:   []warehouse.Row{{"region": "emea", "total": "1"}},
	}
	folder, err := datastore.Save(f.cfg.DataDir, "revenue by region", bundle)
	if err != nil {
		t.Fatalf("seed folder: %v", err)
	}
	f.gen.reply = "Bar chart: one bar per region."

	f.session.dispatch(context.Background(), parseCommand("@revenue-by-region visualize totals per region"))

	chart, err := os.ReadFile(filepath.Join(folder, "chart.md"))
	if err != nil {
		t.Fatalf("chart.md missing: %v", err)
	}
	if !strings.Contains(string(chart), "Bar chart") {
		t.Fatalf("chart.md = %q", chart)
	}
	if f.gen.calls != 1 {
		t.Fatalf("expected one generate call, got %d", f.gen.calls)
	}
}

func TestDispatch_FolderMissingIsNotFound(t *testing.T) {
	f := newFixture(t, "http://127.0.0.1:0", "")
	f.session.dispatch(context.Background(), parseCommand("@no-such-folder analyze it"))

	if !strings.Contains(f.out.String(), "no-such-folder") {
		t.Fatalf("missing folder not reported:\n%s", f.out.String())
	}
	if f.gen.calls != 0 {
		t.Fatal("generator must not run for a missing folder")
	}
}

func TestRun_ExitEndsSession(t *testing.T) {
	f := newFixture(t, "http://127.0.0.1:0", "exit\n")

	if err := f.session.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.session.State() != StateTerminated {
		t.Fatalf("expected StateTerminated, got %v", f.session.State())
	}

	var row models.Session
	if err := f.conn.First(&row).Error; err != nil {
		t.Fatalf("expected a session row: %v", err)
	}
	if row.Status != models.SessionEnded || row.EndedAt == nil {
		t.Fatalf("session not closed: %+v", row)
	}
}

func TestEnsureReady_PicksMostRecentAccount(t *testing.T) {
	f := newFixture(t, "http://127.0.0.1:0", "")
	// The fixture already seeded one account; add an older one.
	seedAccount(t, f.conn, "older@example.com", time.Now().Add(-24*time.Hour))

	if err := f.session.ensureReady(context.Background()); err != nil {
		t.Fatalf("ensureReady: %v", err)
	}
	if f.session.account.Email != "user@example.com" {
		t.Fatalf("expected the most recently used account, got %s", f.session.account.Email)
	}
	if f.session.State() != StateReady {
		t.Fatalf("expected StateReady, got %v", f.session.State())
	}
}

func TestDispatch_ConsentDeniedStaysUnauthenticated(t *testing.T) {
	conn := newTestDB(t)
	cfg := &config.Config{Project: "p1", DataDir: t.TempDir(), SampleRows: 3, MaxQueryRows: 100}
	out := &bytes.Buffer{}
	consent := func(ctx context.Context) (*models.Account, error) {
		return nil, fmt.Errorf("callback timed out: %w", apperrors.ErrConsentDenied)
	}
	s := New(conn, cfg, &fakeTokens{token: "tok"}, warehouse.NewClient("http://127.0.0.1:0", ""), &fakeGen{}, consent, strings.NewReader(""), out)

	s.dispatch(context.Background(), parseCommand("login"))

	if s.State() != StateUnauthenticated {
		t.Fatalf("expected StateUnauthenticated, got %v", s.State())
	}
	if got := countRows(t, conn, &models.Session{}); got != 0 {
		t.Fatalf("denied consent must not create a session row, got %d", got)
	}
}
