// Package macro stores and executes named multi-step invocation
// sequences. Macros outlive sessions: they are persisted in sqlite and
// replayed through the same dispatch contract live invocations use.
package macro

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Failure policies.
const (
	PolicyAbort = "abort"
	PolicySkip  = "skip"
)

// Step is one entry in a macro: a capability name, explicit arguments,
// and an optional earlier step whose result feeds this one.
type Step struct {
	Function string         `json:"function"`
	Args     map[string]any `json:"args,omitempty"`
	PipeFrom *int           `json:"pipe_from,omitempty"`
}

// Macro is a persisted, trigger-addressable invocation sequence.
type Macro struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	TriggerPhrase string    `json:"trigger_phrase"`
	Steps         []Step    `json:"steps"`
	ErrorPolicy   string    `json:"error_policy"`
	CreatedAt     time.Time `json:"created_at"`
}

// ErrNotFound is returned when no macro matches an id or trigger.
var ErrNotFound = errors.New("macro not found")

const schema = `
CREATE TABLE IF NOT EXISTS macros (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	trigger_phrase TEXT NOT NULL,
	error_policy   TEXT NOT NULL,
	steps          TEXT NOT NULL,
	created_at     TEXT NOT NULL
);
`

// Store persists macros in sqlite. Reads are concurrent; writes are
// serialized through a single mutex since two callers may edit macros
// at the same time from different sessions.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// OpenStore opens (and migrates) the macro database at path. Use
// ":memory:" for an ephemeral store.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open macro store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("macro store ping: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate macro store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Create validates and persists a macro, generating an id when absent.
func (s *Store) Create(ctx context.Context, m Macro) (Macro, error) {
	m.Name = strings.TrimSpace(m.Name)
	m.TriggerPhrase = strings.TrimSpace(m.TriggerPhrase)
	if m.Name == "" {
		return Macro{}, fmt.Errorf("macro name must not be empty")
	}
	if len(m.Steps) == 0 {
		return Macro{}, fmt.Errorf("macro %q has no steps", m.Name)
	}
	for i, step := range m.Steps {
		if strings.TrimSpace(step.Function) == "" {
			return Macro{}, fmt.Errorf("macro %q step %d has no function", m.Name, i)
		}
		if step.PipeFrom != nil && (*step.PipeFrom < 0 || *step.PipeFrom >= i) {
			return Macro{}, fmt.Errorf("macro %q step %d pipes from invalid step %d", m.Name, i, *step.PipeFrom)
		}
	}
	switch m.ErrorPolicy {
	case "":
		m.ErrorPolicy = PolicyAbort
	case PolicyAbort, PolicySkip:
	default:
		return Macro{}, fmt.Errorf("macro %q has unknown error policy %q", m.Name, m.ErrorPolicy)
	}
	if strings.TrimSpace(m.ID) == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	steps, err := json.Marshal(m.Steps)
	if err != nil {
		return Macro{}, fmt.Errorf("encode macro steps: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO macros (id, name, trigger_phrase, error_policy, steps, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.TriggerPhrase, m.ErrorPolicy, string(steps), m.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Macro{}, fmt.Errorf("insert macro: %w", err)
	}
	return m, nil
}

// List returns all macros ordered by creation time.
func (s *Store) List(ctx context.Context) ([]Macro, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, trigger_phrase, error_policy, steps, created_at
		 FROM macros ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list macros: %w", err)
	}
	defer rows.Close()

	var out []Macro
	for rows.Next() {
		m, err := scanMacro(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate macros: %w", err)
	}
	return out, nil
}

// Get returns one macro by exact id.
func (s *Store) Get(ctx context.Context, id string) (Macro, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, trigger_phrase, error_policy, steps, created_at
		 FROM macros WHERE id = ?`, id)
	m, err := scanMacro(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Macro{}, ErrNotFound
	}
	return m, err
}

// Delete removes one macro by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM macros WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete macro: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Resolve finds a macro by exact id, then exact trigger phrase, then
// substring against id, name and trigger phrase. Matching is
// case-insensitive except for the exact-id pass.
func (s *Store) Resolve(ctx context.Context, idOrTrigger string) (Macro, error) {
	needle := strings.TrimSpace(idOrTrigger)
	if needle == "" {
		return Macro{}, ErrNotFound
	}

	if m, err := s.Get(ctx, needle); err == nil {
		return m, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Macro{}, err
	}

	all, err := s.List(ctx)
	if err != nil {
		return Macro{}, err
	}

	lower := strings.ToLower(needle)
	for _, m := range all {
		if strings.ToLower(m.TriggerPhrase) == lower {
			return m, nil
		}
	}
	for _, m := range all {
		if strings.Contains(strings.ToLower(m.ID), lower) ||
			strings.Contains(strings.ToLower(m.Name), lower) ||
			strings.Contains(strings.ToLower(m.TriggerPhrase), lower) {
			return m, nil
		}
	}
	return Macro{}, ErrNotFound
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMacro(row rowScanner) (Macro, error) {
	var m Macro
	var steps, createdAt string
	if err := row.Scan(&m.ID, &m.Name, &m.TriggerPhrase, &m.ErrorPolicy, &steps, &createdAt); err != nil {
		return Macro{}, err
	}
	if err := json.Unmarshal([]byte(steps), &m.Steps); err != nil {
		return Macro{}, fmt.Errorf("decode macro %s steps: %w", m.ID, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		m.CreatedAt = t
	}
	return m, nil
}
