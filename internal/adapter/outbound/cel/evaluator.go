package cel

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/scmhooks/hookengine/internal/domain/hook"
)

// maxExpressionLength bounds the size of an operator-supplied expression.
const maxExpressionLength = 4096

// maxCostBudget limits CEL runtime cost to prevent a pathological expression
// from stalling a whole evaluation request.
const maxCostBudget = 100_000

// evalTimeout bounds a single CEL program run.
const evalTimeout = 2 * time.Second

// ChangesetRule is the "cel" backend for hook.ChangesetRuleBody: a compiled
// boolean expression over changeset-scoped variables. The rule rejects when
// the expression evaluates to false.
type ChangesetRule struct {
	prg               cel.Program
	rejectDescription string
	longDescription   string
}

// NewChangesetRule compiles expr against the changeset environment. rejectMsg
// and longMsg populate the Verdict returned when expr evaluates to false.
func NewChangesetRule(expr, rejectMsg, longMsg string) (*ChangesetRule, error) {
	env, err := newChangesetEnv()
	if err != nil {
		return nil, fmt.Errorf("cel: build changeset env: %w", err)
	}
	prg, err := compile(env, expr)
	if err != nil {
		return nil, err
	}
	return &ChangesetRule{prg: prg, rejectDescription: rejectMsg, longDescription: longMsg}, nil
}

// RunChangesetHook implements hook.ChangesetRuleBody.
func (r *ChangesetRule) RunChangesetHook(ctx context.Context, hctx hook.ChangesetContext) (hook.Verdict, error) {
	cs := hctx.Changeset
	parentCount := 0
	switch cs.Parents.Kind {
	case hook.OneParent:
		parentCount = 1
	case hook.TwoParents:
		parentCount = 2
	}

	paths := make([]string, len(cs.Files))
	for i, f := range cs.Files {
		paths[i] = f.Path
	}

	activation := map[string]any{
		"author":       cs.Author,
		"comments":     cs.Comments,
		"bookmark":     string(hctx.Bookmark),
		"parent_count": int64(parentCount),
		"is_merge":     cs.Parents.Kind == hook.TwoParents,
		"files":        paths,
		"file_count":   int64(len(paths)),
		"acl_member":   hctx.IsACLMember,
	}

	ok, err := evalBool(ctx, r.prg, activation)
	if err != nil {
		return hook.Verdict{}, err
	}
	if ok {
		return hook.Accepted(), nil
	}
	return hook.Rejected(r.rejectDescription, r.longDescription), nil
}

// FileRule is the "cel" backend for hook.FileRuleBody. Unlike a native rule,
// a CEL expression cannot stream content lazily, so the rule resolves the
// whole blob through contentStore before evaluating.
type FileRule struct {
	prg               cel.Program
	contentStore      hook.FileContentStore
	rejectDescription string
	longDescription   string
}

// NewFileRule compiles expr against the file environment. contentStore
// resolves each FileEntry's bytes before the expression runs.
func NewFileRule(expr, rejectMsg, longMsg string, contentStore hook.FileContentStore) (*FileRule, error) {
	env, err := newFileEnv()
	if err != nil {
		return nil, fmt.Errorf("cel: build file env: %w", err)
	}
	prg, err := compile(env, expr)
	if err != nil {
		return nil, err
	}
	return &FileRule{
		prg:               prg,
		contentStore:      contentStore,
		rejectDescription: rejectMsg,
		longDescription:   longMsg,
	}, nil
}

// RunFileHook implements hook.FileRuleBody.
func (r *FileRule) RunFileHook(ctx context.Context, hctx hook.FileContext) (hook.Verdict, error) {
	var content []byte
	if hctx.File.ChangeKind != hook.Deleted {
		c, err := r.contentStore.GetFileContent(ctx, hctx.File.Content)
		if err != nil {
			return hook.Verdict{}, err
		}
		content = c
	}

	activation := map[string]any{
		"path":        hctx.File.Path,
		"change_kind": hctx.File.ChangeKind.String(),
		"content":     string(content),
		"size":        int64(len(content)),
		"author":      hctx.Changeset.Author,
		"comments":    hctx.Changeset.Comments,
		"bookmark":    string(hctx.Bookmark),
		"acl_member":  hctx.IsACLMember,
	}

	ok, err := evalBool(ctx, r.prg, activation)
	if err != nil {
		return hook.Verdict{}, err
	}
	if ok {
		return hook.Accepted(), nil
	}
	return hook.Rejected(r.rejectDescription, r.longDescription), nil
}

func compile(env *cel.Env, expr string) (cel.Program, error) {
	if expr == "" {
		return nil, fmt.Errorf("cel: empty expression")
	}
	if len(expr) > maxExpressionLength {
		return nil, fmt.Errorf("cel: expression too long: %d bytes (max %d)", len(expr), maxExpressionLength)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel: compile failed: %w", issues.Err())
	}

	prg, err := env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
	)
	if err != nil {
		return nil, fmt.Errorf("cel: program construction failed: %w", err)
	}
	return prg, nil
}

func evalBool(ctx context.Context, prg cel.Program, activation map[string]any) (bool, error) {
	evalCtx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(evalCtx, activation)
	if err != nil {
		return false, fmt.Errorf("cel: evaluation failed: %w", err)
	}

	b, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("cel: expression did not return a boolean, got %T", result.Value())
	}
	return b, nil
}
