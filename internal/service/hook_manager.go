package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/scmhooks/hookengine/internal/domain/bypass"
	"github.com/scmhooks/hookengine/internal/domain/hook"
)

// registrySnapshot is the immutable view of bound rules published via
// atomic.Value for lock-free reads.
type registrySnapshot struct {
	changesetRules map[string]hook.Rule // name -> rule
	fileRules      map[string]hook.Rule
	bookmarks      map[hook.Bookmark]binding
}

type binding struct {
	changesetRuleNames []string
	fileRuleNames      []string
}

// PushRequest is the external input to both HookManager evaluation entry
// points: a changeset id, the bookmark it is being pushed to, and any
// push-scoped variables a Bypass may match against.
type PushRequest struct {
	ChangesetID hook.ChangesetID
	Bookmark    hook.Bookmark
	PushVars    map[string]string
	Identity    string
}

// RuleOutcome pairs one rule's ExecutionId with its Verdict, the shape
// returned from both evaluation entry points.
type RuleOutcome struct {
	ChangesetExecID *hook.ChangesetExecutionID
	FileExecID      *hook.FileExecutionID
	Verdict         hook.Verdict
}

// HookManager is the orchestrator: it owns the two rule registries, resolves
// bookmark bindings, fetches changesets/files from storage, filters bypassed
// rules, fans out evaluation, and funnels file-rule results through the
// Verdict Cache. It never holds a registry lock across a rule invocation
// (the snapshot is copied out first), matching the concurrency contract
// every rule body is evaluated under.
type HookManager struct {
	changesetStore hook.ChangesetStore
	contentStore   hook.FileContentStore
	aclChecker     hook.AclChecker
	cache          hook.VerdictCache
	metrics        *Metrics
	logger         *slog.Logger

	mu       sync.Mutex // guards registry mutation only; never held during evaluation
	snapshot atomic.Value
}

// HookManagerOption configures a HookManager at construction.
type HookManagerOption func(*HookManager)

// WithMetrics attaches a Metrics recorder.
func WithMetrics(m *Metrics) HookManagerOption {
	return func(hm *HookManager) { hm.metrics = m }
}

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) HookManagerOption {
	return func(hm *HookManager) { hm.logger = l }
}

// NewHookManager constructs an empty HookManager. Rules and bindings are
// added afterward via RegisterChangesetRule / RegisterFileRule / BindBookmark.
func NewHookManager(changesetStore hook.ChangesetStore, contentStore hook.FileContentStore, aclChecker hook.AclChecker, cache hook.VerdictCache, opts ...HookManagerOption) *HookManager {
	hm := &HookManager{
		changesetStore: changesetStore,
		contentStore:   contentStore,
		aclChecker:     aclChecker,
		cache:          cache,
		logger:         slog.Default(),
	}
	hm.snapshot.Store(&registrySnapshot{
		changesetRules: make(map[string]hook.Rule),
		fileRules:      make(map[string]hook.Rule),
		bookmarks:      make(map[hook.Bookmark]binding),
	})
	for _, opt := range opts {
		opt(hm)
	}
	return hm
}

func (hm *HookManager) load() *registrySnapshot {
	return hm.snapshot.Load().(*registrySnapshot)
}

// RegisterChangesetRule adds or replaces a changeset-kind rule by name.
func (hm *HookManager) RegisterChangesetRule(r hook.Rule) error {
	if r.Kind != hook.ChangesetKind {
		return fmt.Errorf("hook: rule %q is not a changeset rule", r.Name)
	}
	hm.mu.Lock()
	defer hm.mu.Unlock()

	cur := hm.load()
	next := cur.clone()
	next.changesetRules[r.Name] = r
	hm.snapshot.Store(next)
	return nil
}

// RegisterFileRule adds or replaces a file-kind rule by name.
func (hm *HookManager) RegisterFileRule(r hook.Rule) error {
	if r.Kind != hook.FileKind {
		return fmt.Errorf("hook: rule %q is not a file rule", r.Name)
	}
	hm.mu.Lock()
	defer hm.mu.Unlock()

	cur := hm.load()
	next := cur.clone()
	next.fileRules[r.Name] = r
	hm.snapshot.Store(next)
	return nil
}

// BindBookmark replaces the set of rules (of the given kind) tied to
// bookmark b with ruleNames. None of the named rules need already be
// registered: bindings are resolved lazily against the registry at
// evaluation time, so the same "no such rule" failure mode applies whether
// a binding predates or postdates registration. Passing an empty or nil
// ruleNames clears the binding for that kind.
func (hm *HookManager) BindBookmark(b hook.Bookmark, ruleNames []string, kind hook.Kind) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	cur := hm.load()
	next := cur.clone()
	bd := next.bookmarks[b]
	names := append([]string(nil), ruleNames...)
	switch kind {
	case hook.ChangesetKind:
		bd.changesetRuleNames = names
	case hook.FileKind:
		bd.fileRuleNames = names
	}
	next.bookmarks[b] = bd
	hm.snapshot.Store(next)
}

// ChangesetRuleNames returns the changeset rule names bound to b, in no
// particular order.
func (hm *HookManager) ChangesetRuleNames(b hook.Bookmark) []string {
	bd := hm.load().bookmarks[b]
	out := make([]string, len(bd.changesetRuleNames))
	copy(out, bd.changesetRuleNames)
	return out
}

// FileRuleNames returns the file rule names bound to b, in no particular
// order.
func (hm *HookManager) FileRuleNames(b hook.Bookmark) []string {
	bd := hm.load().bookmarks[b]
	out := make([]string, len(bd.fileRuleNames))
	copy(out, bd.fileRuleNames)
	return out
}

func (s *registrySnapshot) clone() *registrySnapshot {
	next := &registrySnapshot{
		changesetRules: make(map[string]hook.Rule, len(s.changesetRules)),
		fileRules:      make(map[string]hook.Rule, len(s.fileRules)),
		bookmarks:      make(map[hook.Bookmark]binding, len(s.bookmarks)),
	}
	for k, v := range s.changesetRules {
		next.changesetRules[k] = v
	}
	for k, v := range s.fileRules {
		next.fileRules[k] = v
	}
	for k, v := range s.bookmarks {
		next.bookmarks[k] = binding{
			changesetRuleNames: append([]string(nil), v.changesetRuleNames...),
			fileRuleNames:      append([]string(nil), v.fileRuleNames...),
		}
	}
	return next
}

// EvaluateChangesetRules runs every changeset rule bound to req.Bookmark
// against the changeset, in parallel. A bookmark with no bound changeset
// rules returns immediately without touching the changeset store, the ACL
// checker, or any rule body. Otherwise all rules run to completion before
// any error is returned: one rule's failure never prevents its siblings
// from completing, matching the "no short-circuiting" concurrency contract.
func (hm *HookManager) EvaluateChangesetRules(ctx context.Context, req PushRequest) (_ []RuleOutcome, err error) {
	ctx, span := startEvaluationSpan(ctx, "HookManager.EvaluateChangesetRules", req)
	defer func() { endEvaluationSpan(span, err) }()

	snap := hm.load()
	names := snap.bookmarks[req.Bookmark].changesetRuleNames

	if len(names) == 0 {
		return nil, nil
	}

	rules := make([]hook.Rule, len(names))
	for i, name := range names {
		r, ok := snap.changesetRules[name]
		if !ok {
			return nil, &hook.NoSuchRuleError{RuleName: name}
		}
		rules[i] = r
	}

	cs, err := hm.changesetStore.GetChangeset(ctx, req.ChangesetID)
	if err != nil {
		return nil, err
	}
	if err := validateChangesetUTF8(cs); err != nil {
		return nil, err
	}

	isMember, err := hm.resolveACLMembership(ctx, req.Identity)
	if err != nil {
		return nil, err
	}

	hctx := hook.ChangesetContext{Changeset: cs, Bookmark: req.Bookmark, IsACLMember: isMember}

	outcomes := make([]RuleOutcome, len(rules))
	var grp errgroup.Group
	for i, r := range rules {
		i, r := i, r
		grp.Go(func() error {
			if bypass.IsBypassed(r.Config.Bypass, cs.Comments, req.PushVars) {
				hm.recordBypass(r.Name)
				outcomes[i] = RuleOutcome{
					ChangesetExecID: &hook.ChangesetExecutionID{CsID: cs.ID, RuleName: r.Name},
					Verdict:         hook.Accepted(),
				}
				return nil
			}
			body, ok := r.Body.(hook.ChangesetRuleBody)
			if !ok {
				return fmt.Errorf("hook: rule %q does not implement ChangesetRuleBody", r.Name)
			}
			v, err := hm.runChangesetRule(ctx, body, r.Name, hctx)
			if err != nil {
				return err
			}
			outcomes[i] = RuleOutcome{
				ChangesetExecID: &hook.ChangesetExecutionID{CsID: cs.ID, RuleName: r.Name},
				Verdict:         v,
			}
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (hm *HookManager) runChangesetRule(ctx context.Context, body hook.ChangesetRuleBody, name string, hctx hook.ChangesetContext) (v hook.Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &hook.RuleExecutionFailedError{RuleName: name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	start := hm.recordStart()
	v, runErr := body.RunChangesetHook(ctx, hctx)
	hm.recordFinish(name, start, v, runErr)
	if runErr != nil {
		return hook.Verdict{}, &hook.RuleExecutionFailedError{RuleName: name, Err: runErr}
	}
	return v, nil
}

// EvaluateFileRules runs every file rule bound to req.Bookmark against every
// non-deleted file in the changeset, as a (rule x file) cross product. A
// bookmark with no bound file rules returns immediately without touching
// the changeset store. Each (rule, file) pair is routed through the
// Verdict Cache so identical pairs across different requests are computed
// once.
func (hm *HookManager) EvaluateFileRules(ctx context.Context, req PushRequest) (_ []RuleOutcome, err error) {
	ctx, span := startEvaluationSpan(ctx, "HookManager.EvaluateFileRules", req)
	defer func() { endEvaluationSpan(span, err) }()

	snap := hm.load()
	names := snap.bookmarks[req.Bookmark].fileRuleNames

	if len(names) == 0 {
		return nil, nil
	}

	rules := make([]hook.Rule, len(names))
	for i, name := range names {
		r, ok := snap.fileRules[name]
		if !ok {
			return nil, &hook.NoSuchRuleError{RuleName: name}
		}
		rules[i] = r
	}

	cs, err := hm.changesetStore.GetChangeset(ctx, req.ChangesetID)
	if err != nil {
		return nil, err
	}
	if err := validateChangesetUTF8(cs); err != nil {
		return nil, err
	}

	isMember, err := hm.resolveACLMembership(ctx, req.Identity)
	if err != nil {
		return nil, err
	}

	var files []hook.FileEntry
	for _, f := range cs.Files {
		if f.ChangeKind != hook.Deleted {
			files = append(files, f)
		}
	}

	type job struct {
		rule hook.Rule
		file hook.FileEntry
	}
	var jobs []job
	for _, r := range rules {
		for _, f := range files {
			jobs = append(jobs, job{rule: r, file: f})
		}
	}

	outcomes := make([]RuleOutcome, len(jobs))
	var grp errgroup.Group
	for i, j := range jobs {
		i, j := i, j
		grp.Go(func() error {
			fctx := hook.FileContext{Changeset: cs, File: j.file, Bookmark: req.Bookmark, IsACLMember: isMember}
			execID := hook.FileExecutionID{CsID: cs.ID, RuleName: j.rule.Name, File: j.file}

			if bypass.IsBypassed(j.rule.Config.Bypass, cs.Comments, req.PushVars) {
				hm.recordBypass(j.rule.Name)
				outcomes[i] = RuleOutcome{FileExecID: &execID, Verdict: hook.Accepted()}
				return nil
			}

			body, ok := j.rule.Body.(hook.FileRuleBody)
			if !ok {
				return fmt.Errorf("hook: rule %q does not implement FileRuleBody", j.rule.Name)
			}

			v, err := hm.cache.GetOrCompute(ctx, execID, func(ctx context.Context) (hook.Verdict, error) {
				return hm.runFileRule(ctx, body, j.rule.Name, fctx)
			})
			if err != nil {
				return err
			}
			outcomes[i] = RuleOutcome{FileExecID: &execID, Verdict: v}
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (hm *HookManager) runFileRule(ctx context.Context, body hook.FileRuleBody, name string, fctx hook.FileContext) (v hook.Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &hook.RuleExecutionFailedError{RuleName: name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	start := hm.recordStart()
	v, runErr := body.RunFileHook(ctx, fctx)
	hm.recordFinish(name, start, v, runErr)
	if runErr != nil {
		return hook.Verdict{}, &hook.RuleExecutionFailedError{RuleName: name, Err: runErr}
	}
	return v, nil
}

func (hm *HookManager) resolveACLMembership(ctx context.Context, identity string) (bool, error) {
	if hm.aclChecker == nil || identity == "" {
		return false, nil
	}
	ok, err := hm.aclChecker.IsMember(ctx, identity)
	if err != nil {
		return false, &hook.StoreError{Op: "acl.IsMember", Err: err}
	}
	return ok, nil
}

// validateChangesetUTF8 rejects a changeset snapshot before any rule body
// runs if its author or comments are not valid UTF-8.
func validateChangesetUTF8(cs hook.Changeset) error {
	if !utf8.ValidString(cs.Author) {
		return &hook.InvalidUTF8Error{Field: "author"}
	}
	if !utf8.ValidString(cs.Comments) {
		return &hook.InvalidUTF8Error{Field: "comments"}
	}
	return nil
}
