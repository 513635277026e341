// Package chat runs the interactive session: a small state machine that
// authenticates the account, then dispatches line commands against the
// warehouse, the SQL generator, and the local history store.
package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ryokaneoka0406/wise/internal/apperrors"
	"github.com/ryokaneoka0406/wise/internal/config"
	"github.com/ryokaneoka0406/wise/internal/datastore"
	"github.com/ryokaneoka0406/wise/internal/db/models"
	"github.com/ryokaneoka0406/wise/internal/llm"
	"github.com/ryokaneoka0406/wise/internal/metadata"
	"github.com/ryokaneoka0406/wise/internal/util"
	"github.com/ryokaneoka0406/wise/internal/warehouse"
)

// State of the session machine.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateReady
	StateTerminated
)

const (
	displayRowLimit  = 5
	displayAllBelow  = 10
	conversationTail = 20
)

// ConsentFunc runs the interactive OAuth consent flow and returns the
// authenticated account.
type ConsentFunc func(ctx context.Context) (*models.Account, error)

// Session owns the command loop and its collaborators.
type Session struct {
	db      *gorm.DB
	cfg     *config.Config
	tokens  TokenSource
	wh      *warehouse.Client
	gen     llm.Generator
	consent ConsentFunc

	in  *bufio.Scanner
	out io.Writer

	state     State
	account   *models.Account
	sessionID string

	snapshotDoc string
	datasetID   string // dataset backing the current analysis
	analysisID  string
	lastResult  *warehouse.Result
	lastSQL     string
	lastIntent  string
}

// TokenSource is the credential manager surface the session needs.
type TokenSource interface {
	AccessToken(ctx context.Context, accountID string) (string, time.Time, error)
	Invalidate(accountID string)
}

// New wires a session. Collaborators are injected so tests can fake the
// consent flow and the generator.
func New(db *gorm.DB, cfg *config.Config, tokens TokenSource, wh *warehouse.Client, gen llm.Generator, consent ConsentFunc, in io.Reader, out io.Writer) *Session {
	return &Session{
		db:      db,
		cfg:     cfg,
		tokens:  tokens,
		wh:      wh,
		gen:     gen,
		consent: consent,
		in:      bufio.NewScanner(in),
		out:     out,
		state:   StateUnauthenticated,
	}
}

// State returns the current machine state (used by tests).
func (s *Session) State() State { return s.state }

// Run drives the command loop until exit, EOF, or context cancellation.
func (s *Session) Run(ctx context.Context) error {
	if err := s.ensureReady(ctx); err != nil {
		s.sayf("Authentication failed: %v", err)
		s.sayf("Type 'login' to try again.")
	}

	for s.state != StateTerminated {
		fmt.Fprint(s.out, "you> ")
		if !s.in.Scan() {
			break
		}
		if ctx.Err() != nil {
			break
		}
		s.dispatch(ctx, parseCommand(s.in.Text()))
	}

	s.terminate()
	return s.in.Err()
}

// dispatch runs one command and converts every taxonomy error into a
// user-visible message. Only local storage failures escape as panics of
// the gorm layer; nothing here terminates the process.
func (s *Session) dispatch(ctx context.Context, cmd command) {
	var err error
	switch cmd.kind {
	case cmdEmpty:
		return
	case cmdExit:
		s.terminate()
		s.sayf("Goodbye!")
		return
	case cmdLogin:
		err = s.authenticate(ctx)
		if err == nil {
			s.sayf("Authenticated as %s.", s.account.Email)
		}
	case cmdInit:
		if err = s.ensureReady(ctx); err == nil {
			err = s.handleInit(ctx, cmd.datasets)
		}
	case cmdQuery:
		if err = s.ensureReady(ctx); err == nil {
			err = s.handleQuery(ctx, cmd.text)
		}
	case cmdFolder:
		err = s.handleFolder(ctx, cmd.folder, cmd.instruction)
	}

	if err == nil {
		return
	}

	switch {
	case errors.Is(err, apperrors.ErrAuthExpired):
		// Back to Authenticating; persisted messages are untouched.
		s.state = StateAuthenticating
		s.sayf("Your credentials have expired. Type 'login' to re-authenticate.")
	case errors.Is(err, apperrors.ErrConsentDenied):
		s.state = StateUnauthenticated
		s.sayf("Login was not completed: %v", err)
	default:
		var timeoutErr *apperrors.TimeoutError
		if errors.As(err, &timeoutErr) {
			s.sayf("The query did not finish in time. Remote job id: %s", timeoutErr.JobID)
			return
		}
		s.sayf("Error: %v", err)
	}
}

// ---- authentication ---------------------------------------------------

// ensureReady makes sure an authenticated account and a session row
// exist, picking up a stored refresh credential when one is available.
func (s *Session) ensureReady(ctx context.Context) error {
	if s.state == StateReady && s.account != nil {
		return nil
	}

	s.state = StateAuthenticating
	if s.account == nil {
		var account models.Account
		err := s.db.Where("refresh_token <> ''").Order("last_used_at DESC").First(&account).Error
		if err == nil {
			s.account = &account
		}
	}
	if s.account == nil {
		return s.authenticate(ctx)
	}
	return s.bindSession()
}

// authenticate always runs the consent flow, regardless of current
// credential validity (login / reauth, or after AuthExpired).
func (s *Session) authenticate(ctx context.Context) error {
	s.state = StateAuthenticating
	account, err := s.consent(ctx)
	if err != nil {
		if errors.Is(err, apperrors.ErrConsentDenied) {
			s.state = StateUnauthenticated
		}
		return err
	}
	s.account = account
	return s.bindSession()
}

func (s *Session) bindSession() error {
	if s.sessionID == "" {
		row := models.Session{
			ID:        uuid.New().String(),
			AccountID: s.account.ID,
			Status:    models.SessionActive,
			StartedAt: time.Now(),
		}
		if err := s.db.Create(&row).Error; err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		s.sessionID = row.ID
	}
	s.state = StateReady
	return nil
}

func (s *Session) terminate() {
	if s.state == StateTerminated {
		return
	}
	s.state = StateTerminated
	if s.sessionID != "" {
		now := time.Now()
		s.db.Model(&models.Session{}).Where("id = ?", s.sessionID).
			Updates(map[string]interface{}{"status": models.SessionEnded, "ended_at": now})
	}
}

// withToken fetches a valid token, runs fn, and on AuthExpired performs
// exactly one forced refresh before retrying. A second rejection bubbles
// up and sends the machine back to Authenticating.
func (s *Session) withToken(ctx context.Context, fn func(accessToken string) error) error {
	tok, _, err := s.tokens.AccessToken(ctx, s.account.ID)
	if err != nil {
		return err
	}
	err = fn(tok)
	if !errors.Is(err, apperrors.ErrAuthExpired) {
		return err
	}

	s.tokens.Invalidate(s.account.ID)
	tok, _, err = s.tokens.AccessToken(ctx, s.account.ID)
	if err != nil {
		return err
	}
	return fn(tok)
}

// ---- init -------------------------------------------------------------

func (s *Session) handleInit(ctx context.Context, datasets []string) error {
	builder := metadata.NewBuilder(s.wh, s.cfg.SampleRows)

	var snap *metadata.Snapshot
	err := s.withToken(ctx, func(accessToken string) error {
		var berr error
		snap, berr = builder.Build(ctx, accessToken, s.cfg.Project, s.cfg.Location, datasets)
		return berr
	})
	if err != nil {
		return err
	}

	doc := metadata.Render(snap)
	path, err := datastore.WriteMetadata(s.cfg.DataDir, s.cfg.Project, doc)
	if err != nil {
		return err
	}
	s.snapshotDoc = doc

	for i, ds := range snap.Datasets {
		id, err := s.upsertDataset(ds.Name)
		if err != nil {
			return err
		}
		if i == 0 {
			s.datasetID = id
		}
	}

	s.sayf("Metadata for %d dataset(s) written to %s", len(snap.Datasets), path)
	return nil
}

func (s *Session) upsertDataset(name string) (string, error) {
	var row models.Dataset
	err := s.db.Where("project = ? AND dataset = ?", s.cfg.Project, name).First(&row).Error
	if err == nil {
		return row.ID, nil
	}
	if err != gorm.ErrRecordNotFound {
		return "", err
	}
	row = models.Dataset{ID: uuid.New().String(), Project: s.cfg.Project, Dataset: name}
	if err := s.db.Create(&row).Error; err != nil {
		return "", err
	}
	return row.ID, nil
}

// ---- natural-language query -------------------------------------------

func (s *Session) handleQuery(ctx context.Context, text string) error {
	if err := s.appendMessage(models.RoleUser, text); err != nil {
		return err
	}

	if s.snapshotDoc == "" {
		s.snapshotDoc = datastore.ReadMetadata(s.cfg.DataDir, s.cfg.Project)
	}
	if s.snapshotDoc == "" {
		s.sayf("No metadata snapshot yet. Run 'init' first so I know your tables.")
		return nil
	}

	reply, err := s.gen.GenerateSQL(ctx, s.snapshotDoc, s.conversation())
	if err != nil {
		return fmt.Errorf("generate sql: %w", err)
	}
	if err := s.appendMessage(models.RoleAssistant, reply); err != nil {
		return err
	}

	sql := llm.ExtractSQL(reply)
	if !llm.LooksLikeSQL(sql) {
		// Explanatory refusal: show it, take no remote action.
		s.sayf("%s", reply)
		return nil
	}

	s.sayf("Proposed SQL:\n\n%s\n", sql)
	if !s.confirm("Run this query? [y/N] ") {
		s.sayf("Skipped. Nothing was executed.")
		return nil
	}

	log.Printf("[Chat] executing: %s", util.TruncateLog(sql, util.DefaultLogMaxLen))
	var result *warehouse.Result
	err = s.withToken(ctx, func(accessToken string) error {
		var qerr error
		result, qerr = s.wh.RunSQL(ctx, accessToken, s.cfg.Project, sql, warehouse.QueryOptions{
			MaxResults: s.cfg.MaxQueryRows,
			FetchAll:   true,
		})
		return qerr
	})
	if err != nil {
		return err
	}

	s.displayResult(result)

	if err := s.recordQuery(text, sql, result); err != nil {
		return err
	}

	s.lastResult = result
	s.lastSQL = sql
	s.lastIntent = text

	if s.confirm("Save results to an analysis folder? [y/N] ") {
		return s.export()
	}
	return nil
}

// recordQuery creates or reuses the Analysis for the current intent and
// appends the Query row. Every analysis is linked to a dataset row, so
// init must have registered at least one.
func (s *Session) recordQuery(intent, sql string, result *warehouse.Result) error {
	if s.datasetID == "" {
		var row models.Dataset
		if err := s.db.Where("project = ?", s.cfg.Project).First(&row).Error; err != nil {
			return fmt.Errorf("no dataset registered for project %s; run 'init' first", s.cfg.Project)
		}
		s.datasetID = row.ID
	}

	summary := datastore.Slugify(intent)
	if s.analysisID == "" || s.lastIntent != intent {
		var analysis models.Analysis
		err := s.db.Where("summary = ? AND dataset_id = ?", summary, s.datasetID).First(&analysis).Error
		if err == gorm.ErrRecordNotFound {
			analysis = models.Analysis{
				ID:        uuid.New().String(),
				DatasetID: s.datasetID,
				Summary:   summary,
			}
			if err := s.db.Create(&analysis).Error; err != nil {
				return fmt.Errorf("create analysis: %w", err)
			}
		} else if err != nil {
			return err
		}
		s.analysisID = analysis.ID
	}

	query := models.Query{
		ID:         uuid.New().String(),
		AnalysisID: s.analysisID,
		SQL:        sql,
		JobID:      result.JobID,
		RowCount:   result.TotalRows,
		ExecutedAt: time.Now(),
	}
	if err := s.db.Create(&query).Error; err != nil {
		return fmt.Errorf("record query: %w", err)
	}
	return nil
}

func (s *Session) export() error {
	if s.lastResult == nil {
		s.sayf("Nothing to save yet.")
		return nil
	}

	bundle := &datastore.Bundle{
		SQL:            s.lastSQL,
		Schema:         s.lastResult.Schema,
		Rows:           s.lastResult.Rows,
		MetadataDoc:    s.snapshotDoc,
		AssistantNotes: s.assistantNotes(),
	}
	folder, err := datastore.Save(s.cfg.DataDir, s.lastIntent, bundle)
	if err != nil {
		return err
	}
	s.sayf("Saved to %s (reference it with @%s).", folder, datastore.Slugify(s.lastIntent))
	return nil
}

func (s *Session) displayResult(result *warehouse.Result) {
	n := len(result.Rows)
	s.sayf("%d row(s) returned (total %d, job %s).", n, result.TotalRows, result.JobID)
	if n == 0 {
		return
	}

	show := n
	if n >= displayAllBelow {
		show = displayRowLimit
	}

	header := make([]string, 0, len(result.Schema))
	for _, f := range result.Schema {
		header = append(header, f.Name)
	}
	fmt.Fprintln(s.out, strings.Join(header, " | "))
	for i := 0; i < show && i < n; i++ {
		cells := make([]string, len(header))
		for j, col := range header {
			cells[j] = result.Rows[i][col]
		}
		fmt.Fprintln(s.out, strings.Join(cells, " | "))
	}
	if show < n {
		s.sayf("... %d more row(s) not shown.", n-show)
	}
}

// ---- analyze / visualize ----------------------------------------------

func (s *Session) handleFolder(ctx context.Context, folder, instruction string) error {
	if instruction == "" {
		s.sayf("Usage: @<folder> <instruction>")
		return nil
	}

	path := datastore.FolderPath(s.cfg.DataDir, folder)
	sql := datastore.ReadArtifact(path, "query.sql")
	rows := datastore.ReadArtifact(path, "rows.csv")
	if sql == "" && rows == "" {
		return fmt.Errorf("analysis folder %q: %w", folder, apperrors.ErrNotFound)
	}

	if s.sessionID != "" {
		if err := s.appendMessage(models.RoleUser, fmt.Sprintf("@%s %s", folder, instruction)); err != nil {
			return err
		}
	}

	prompt := buildFolderPrompt(instruction, sql, rows)
	reply, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		return fmt.Errorf("generate %s: %w", artifactName(instruction), err)
	}

	name := artifactName(instruction)
	if _, err := datastore.AppendArtifact(path, name, reply+"\n"); err != nil {
		return err
	}
	if s.sessionID != "" {
		if err := s.appendMessage(models.RoleAssistant, reply); err != nil {
			return err
		}
	}
	s.sayf("Wrote %s to %s.", name, path)
	return nil
}

func buildFolderPrompt(instruction, sql, rows string) string {
	var b strings.Builder
	b.WriteString("You are a data analyst. Work only from the persisted query below.\n\n")
	fmt.Fprintf(&b, "Instruction: %s\n\n", instruction)
	b.WriteString("## Executed SQL\n\n")
	b.WriteString(sql)
	b.WriteString("\n## Result rows (CSV)\n\n")
	b.WriteString(util.TruncateLog(rows, 16*1024))
	return b.String()
}

func artifactName(instruction string) string {
	lower := strings.ToLower(instruction)
	for _, marker := range []string{"visual", "chart", "plot", "graph"} {
		if strings.Contains(lower, marker) {
			return "chart.md"
		}
	}
	return "analysis.md"
}

// ---- conversation persistence -----------------------------------------

func (s *Session) appendMessage(role, content string) error {
	msg := models.Message{
		ID:        uuid.New().String(),
		SessionID: s.sessionID,
		Role:      role,
		Content:   content,
	}
	if err := s.db.Create(&msg).Error; err != nil {
		return fmt.Errorf("persist message: %w", err)
	}
	return nil
}

func (s *Session) conversation() []llm.Turn {
	var msgs []models.Message
	s.db.Where("session_id = ?", s.sessionID).Order("created_at ASC").Find(&msgs)
	if len(msgs) > conversationTail {
		msgs = msgs[len(msgs)-conversationTail:]
	}
	turns := make([]llm.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, llm.Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}

func (s *Session) assistantNotes() []string {
	var msgs []models.Message
	s.db.Where("session_id = ? AND role = ?", s.sessionID, models.RoleAssistant).
		Order("created_at ASC").Find(&msgs)
	notes := make([]string, 0, len(msgs))
	for _, m := range msgs {
		notes = append(notes, m.Content)
	}
	return notes
}

// ---- terminal helpers --------------------------------------------------

func (s *Session) sayf(format string, args ...interface{}) {
	fmt.Fprintf(s.out, "assistant> "+format+"\n", args...)
}

func (s *Session) confirm(prompt string) bool {
	fmt.Fprint(s.out, prompt)
	if !s.in.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(s.in.Text()))
	return answer == "y" || answer == "yes"
}
