// Package sqlite provides a durable store for Rule/RuleConfig definitions
// and bookmark bindings, backed by modernc.org/sqlite. It never persists
// Verdicts: only the configuration that tells the Hook Manager which rules
// to build and bind lives here.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/scmhooks/hookengine/internal/domain/hook"
	"github.com/scmhooks/hookengine/internal/service"
)

const schema = `
CREATE TABLE IF NOT EXISTS rules (
	name TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	options_json TEXT NOT NULL,
	bypass_commit_message TEXT,
	bypass_pushvar_name TEXT,
	bypass_pushvar_value TEXT
);

CREATE TABLE IF NOT EXISTS bookmark_bindings (
	bookmark TEXT NOT NULL,
	rule_name TEXT NOT NULL,
	kind TEXT NOT NULL,
	PRIMARY KEY (bookmark, rule_name)
);
`

// Store implements hook.RuleConfigStore and hook.BookmarkBindingStore over a
// single sqlite database file.
type Store struct {
	db           *sql.DB
	contentStore hook.FileContentStore
}

// Open opens (creating if necessary) the sqlite database at path and applies
// the schema. contentStore is threaded through to service.LoadRule so
// reconstructed cel/native file rules can resolve content.
func Open(path string, contentStore hook.FileContentStore) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db, contentStore: contentStore}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the underlying database handle is reachable, letting
// the reference HTTP driver's health endpoint surface a broken store.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// PutRule upserts a rule's configuration. Only RuleConfig and Kind are
// persisted; Body is reconstructed by GetRule/ListRules via service.LoadRule.
func (s *Store) PutRule(ctx context.Context, r hook.Rule) error {
	optionsJSON, err := json.Marshal(r.Config.Options)
	if err != nil {
		return &hook.StoreError{Op: "PutRule.marshal", Err: err}
	}

	var commitMsg, pushVarName, pushVarValue sql.NullString
	if r.Config.Bypass != nil {
		if r.Config.Bypass.IsPushVar() {
			pushVarName = sql.NullString{String: r.Config.Bypass.PushVarName, Valid: true}
			pushVarValue = sql.NullString{String: r.Config.Bypass.PushVarValue, Valid: true}
		} else {
			commitMsg = sql.NullString{String: r.Config.Bypass.CommitMessage, Valid: true}
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules (name, kind, options_json, bypass_commit_message, bypass_pushvar_name, bypass_pushvar_value)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			kind = excluded.kind,
			options_json = excluded.options_json,
			bypass_commit_message = excluded.bypass_commit_message,
			bypass_pushvar_name = excluded.bypass_pushvar_name,
			bypass_pushvar_value = excluded.bypass_pushvar_value
	`, r.Name, kindString(r.Kind), string(optionsJSON), commitMsg, pushVarName, pushVarValue)
	if err != nil {
		return &hook.StoreError{Op: "PutRule", Err: err}
	}
	return nil
}

// GetRule loads one rule's configuration and reconstructs its Body.
func (s *Store) GetRule(ctx context.Context, name string) (hook.Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT kind, options_json, bypass_commit_message, bypass_pushvar_name, bypass_pushvar_value
		FROM rules WHERE name = ?
	`, name)

	var kindStr, optionsJSON string
	var commitMsg, pushVarName, pushVarValue sql.NullString
	if err := row.Scan(&kindStr, &optionsJSON, &commitMsg, &pushVarName, &pushVarValue); err != nil {
		if err == sql.ErrNoRows {
			return hook.Rule{}, &hook.NoSuchRuleError{RuleName: name}
		}
		return hook.Rule{}, &hook.StoreError{Op: "GetRule", Err: err}
	}

	return s.buildRule(name, kindStr, optionsJSON, commitMsg, pushVarName, pushVarValue)
}

// ListRules returns every persisted rule, with bodies reconstructed.
func (s *Store) ListRules(ctx context.Context) ([]hook.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, kind, options_json, bypass_commit_message, bypass_pushvar_name, bypass_pushvar_value
		FROM rules
	`)
	if err != nil {
		return nil, &hook.StoreError{Op: "ListRules", Err: err}
	}
	defer rows.Close()

	var out []hook.Rule
	for rows.Next() {
		var name, kindStr, optionsJSON string
		var commitMsg, pushVarName, pushVarValue sql.NullString
		if err := rows.Scan(&name, &kindStr, &optionsJSON, &commitMsg, &pushVarName, &pushVarValue); err != nil {
			return nil, &hook.StoreError{Op: "ListRules.scan", Err: err}
		}
		r, err := s.buildRule(name, kindStr, optionsJSON, commitMsg, pushVarName, pushVarValue)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &hook.StoreError{Op: "ListRules.rows", Err: err}
	}
	return out, nil
}

func (s *Store) buildRule(name, kindStr, optionsJSON string, commitMsg, pushVarName, pushVarValue sql.NullString) (hook.Rule, error) {
	var options map[string]string
	if err := json.Unmarshal([]byte(optionsJSON), &options); err != nil {
		return hook.Rule{}, &hook.StoreError{Op: "buildRule.unmarshal", Err: err}
	}

	cfg := hook.RuleConfig{Options: options}
	if commitMsg.Valid {
		b := hook.NewCommitMessageBypass(commitMsg.String)
		cfg.Bypass = &b
	} else if pushVarName.Valid {
		b := hook.NewPushVarBypass(pushVarName.String, pushVarValue.String)
		cfg.Bypass = &b
	}

	kind := parseKind(kindStr)
	return service.LoadRule(name, kind, cfg, s.contentStore)
}

// Bind records that ruleName (of the given kind) applies to bookmark b.
func (s *Store) Bind(ctx context.Context, b hook.Bookmark, ruleName string, kind hook.Kind) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bookmark_bindings (bookmark, rule_name, kind) VALUES (?, ?, ?)
		ON CONFLICT(bookmark, rule_name) DO UPDATE SET kind = excluded.kind
	`, string(b), ruleName, kindString(kind))
	if err != nil {
		return &hook.StoreError{Op: "Bind", Err: err}
	}
	return nil
}

// GetBinding returns the changeset- and file-rule names bound to b.
func (s *Store) GetBinding(ctx context.Context, b hook.Bookmark) (changesetRules, fileRules []string, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rule_name, kind FROM bookmark_bindings WHERE bookmark = ?
	`, string(b))
	if err != nil {
		return nil, nil, &hook.StoreError{Op: "GetBinding", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var name, kindStr string
		if err := rows.Scan(&name, &kindStr); err != nil {
			return nil, nil, &hook.StoreError{Op: "GetBinding.scan", Err: err}
		}
		switch parseKind(kindStr) {
		case hook.ChangesetKind:
			changesetRules = append(changesetRules, name)
		case hook.FileKind:
			fileRules = append(fileRules, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, &hook.StoreError{Op: "GetBinding.rows", Err: err}
	}
	return changesetRules, fileRules, nil
}

func kindString(k hook.Kind) string {
	if k == hook.FileKind {
		return "file"
	}
	return "changeset"
}

func parseKind(s string) hook.Kind {
	if s == "file" {
		return hook.FileKind
	}
	return hook.ChangesetKind
}

// Compile-time interface verification.
var (
	_ hook.RuleConfigStore      = (*Store)(nil)
	_ hook.BookmarkBindingStore = (*Store)(nil)
)
