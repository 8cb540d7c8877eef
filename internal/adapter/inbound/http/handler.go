package http

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/scmhooks/hookengine/internal/domain/adminauth"
	"github.com/scmhooks/hookengine/internal/domain/hook"
	"github.com/scmhooks/hookengine/internal/service"
)

// changesetSeeder and contentSeeder are satisfied by the in-memory store
// adapters: a /push request carries its changeset inline, so the handler
// seeds it into the backing stores before asking the Hook Manager to
// evaluate it. A deployment fed changesets through a different channel
// (e.g. a repository-native hook script) would call HookManager directly
// and never need this endpoint.
type changesetSeeder interface {
	Add(cs hook.Changeset)
}

type contentSeeder interface {
	Add(csID hook.ChangesetID, path string, data []byte)
}

// Handler wires hookengine's HTTP surface: a push evaluation endpoint open
// to any caller, and admin endpoints (rule registration, bookmark binding)
// guarded by AdminAuthMiddleware.
type Handler struct {
	manager      *service.HookManager
	changesets   changesetSeeder
	content      contentSeeder
	ruleStore    hook.RuleConfigStore
	bindingStore hook.BookmarkBindingStore
	contentStore hook.FileContentStore
	adminChecker *adminauth.Checker
	logger       *slog.Logger
}

// HandlerOption configures a Handler at construction.
type HandlerOption func(*Handler)

// WithRuleStore attaches durable rule persistence to the admin endpoints. If
// unset, registered rules live only in the Hook Manager's in-memory registry.
func WithRuleStore(rs hook.RuleConfigStore) HandlerOption {
	return func(h *Handler) { h.ruleStore = rs }
}

// WithBindingStore attaches durable binding persistence to the admin endpoints.
func WithBindingStore(bs hook.BookmarkBindingStore) HandlerOption {
	return func(h *Handler) { h.bindingStore = bs }
}

// WithHandlerLogger overrides the default slog.Default() logger.
func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

// NewHandler constructs a Handler. changesets and content must be the same
// stores the Hook Manager was constructed with, so a seeded push is visible
// to evaluation. adminChecker guards the admin routes; a nil checker means
// every admin request is rejected (fail closed).
func NewHandler(manager *service.HookManager, changesets changesetSeeder, content contentSeeder, contentStore hook.FileContentStore, adminChecker *adminauth.Checker, opts ...HandlerOption) *Handler {
	h := &Handler{
		manager:      manager,
		changesets:   changesets,
		content:      content,
		contentStore: contentStore,
		adminChecker: adminChecker,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes builds the complete mux: push evaluation, admin rule/binding
// management, health, and metrics, using a single ServeMux with middleware
// layered per route group rather than per-request dispatch logic.
func (h *Handler) Routes(health *HealthChecker, metrics http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/v1/push", RequestIDMiddleware(h.logger)(http.HandlerFunc(h.handlePush)))

	adminMux := http.NewServeMux()
	adminMux.HandleFunc("/v1/admin/rules", h.handleRegisterRule)
	adminMux.HandleFunc("/v1/admin/bindings", h.handleBindBookmark)
	mux.Handle("/v1/admin/", RequestIDMiddleware(h.logger)(AdminAuthMiddleware(h.adminChecker)(adminMux)))

	if health != nil {
		mux.Handle("/health", health.Handler())
	}
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	return mux
}

// pushRequestBody is the wire shape of a /v1/push request: a changeset
// submitted inline (the reference driver's stores are in-memory fixtures,
// not a real repository backend) plus the bookmark it targets.
type pushRequestBody struct {
	Changeset changesetBody     `json:"changeset"`
	Bookmark  string            `json:"bookmark"`
	PushVars  map[string]string `json:"push_vars"`
	Identity  string            `json:"identity"`
}

type changesetBody struct {
	ID       string     `json:"id"`
	Author   string     `json:"author"`
	Comments string     `json:"comments"`
	Parents  parentBody `json:"parents"`
	Files    []fileBody `json:"files"`
}

type parentBody struct {
	Kind string `json:"kind"` // "none", "one", "two"
	P1   string `json:"p1"`
	P2   string `json:"p2"`
}

type fileBody struct {
	Path          string `json:"path"`
	ChangeKind    string `json:"change_kind"` // "added", "deleted", "modified"
	ContentBase64 string `json:"content_base64"`
}

// pushResponse reports every rule outcome from both evaluation entry points.
type pushResponse struct {
	Accepted bool          `json:"accepted"`
	Rules    []ruleOutcome `json:"rules"`
}

type ruleOutcome struct {
	RuleName        string `json:"rule_name"`
	Subject         string `json:"subject,omitempty"` // file path for file-kind outcomes
	Accepted        bool   `json:"accepted"`
	Description     string `json:"description,omitempty"`
	LongDescription string `json:"long_description,omitempty"`
}

func (h *Handler) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body pushRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.Bookmark == "" {
		writeError(w, http.StatusBadRequest, "bookmark is required")
		return
	}

	cs, err := buildChangeset(body.Changeset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.changesets.Add(cs)
	for _, f := range body.Changeset.Files {
		if f.ContentBase64 == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(f.ContentBase64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "file "+f.Path+": invalid base64 content")
			return
		}
		h.content.Add(cs.ID, f.Path, data)
	}

	req := service.PushRequest{
		ChangesetID: cs.ID,
		Bookmark:    hook.Bookmark(body.Bookmark),
		PushVars:    body.PushVars,
		Identity:    body.Identity,
	}

	ctx := r.Context()
	csOutcomes, err := h.manager.EvaluateChangesetRules(ctx, req)
	if err != nil {
		h.writeEvaluationError(w, err)
		return
	}
	fileOutcomes, err := h.manager.EvaluateFileRules(ctx, req)
	if err != nil {
		h.writeEvaluationError(w, err)
		return
	}

	resp := pushResponse{Accepted: true}
	for _, o := range csOutcomes {
		resp.Rules = append(resp.Rules, outcomeToWire(o, ""))
		if !o.Verdict.Accepted {
			resp.Accepted = false
		}
	}
	for _, o := range fileOutcomes {
		subject := ""
		if o.FileExecID != nil {
			subject = o.FileExecID.File.Path
		}
		resp.Rules = append(resp.Rules, outcomeToWire(o, subject))
		if !o.Verdict.Accepted {
			resp.Accepted = false
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func outcomeToWire(o service.RuleOutcome, subject string) ruleOutcome {
	name := ""
	switch {
	case o.ChangesetExecID != nil:
		name = o.ChangesetExecID.RuleName
	case o.FileExecID != nil:
		name = o.FileExecID.RuleName
	}
	return ruleOutcome{
		RuleName:        name,
		Subject:         subject,
		Accepted:        o.Verdict.Accepted,
		Description:     o.Verdict.Description,
		LongDescription: o.Verdict.LongDescription,
	}
}

func (h *Handler) writeEvaluationError(w http.ResponseWriter, err error) {
	var noSuchRule *hook.NoSuchRuleError
	var noSuchChangeset *hook.NoSuchChangesetError
	var ruleFailed *hook.RuleExecutionFailedError
	switch {
	case errors.As(err, &noSuchRule), errors.As(err, &noSuchChangeset):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &ruleFailed):
		h.logger.Error("rule execution failed", "error", err)
		writeError(w, http.StatusInternalServerError, "rule execution failed")
	default:
		h.logger.Error("evaluation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "evaluation failed")
	}
}

func buildChangeset(b changesetBody) (hook.Changeset, error) {
	if b.ID == "" {
		return hook.Changeset{}, errors.New("changeset.id is required")
	}

	var parents hook.Parents
	switch b.Parents.Kind {
	case "", "none":
		parents = hook.Parents{Kind: hook.NoParents}
	case "one":
		parents = hook.Parents{Kind: hook.OneParent, P1: hook.ChangesetID(b.Parents.P1)}
	case "two":
		parents = hook.Parents{Kind: hook.TwoParents, P1: hook.ChangesetID(b.Parents.P1), P2: hook.ChangesetID(b.Parents.P2)}
	default:
		return hook.Changeset{}, errors.New("changeset.parents.kind must be one of: none, one, two")
	}

	csID := hook.ChangesetID(b.ID)
	files := make([]hook.FileEntry, 0, len(b.Files))
	for _, f := range b.Files {
		var kind hook.ChangeKind
		switch f.ChangeKind {
		case "added":
			kind = hook.Added
		case "deleted":
			kind = hook.Deleted
		case "modified":
			kind = hook.Modified
		default:
			return hook.Changeset{}, errors.New("file " + f.Path + ": change_kind must be one of: added, deleted, modified")
		}
		files = append(files, hook.FileEntry{
			Path:        f.Path,
			ChangeKind:  kind,
			ChangesetID: csID,
			Content:     hook.ContentHandle{ChangesetID: csID, Path: f.Path},
		})
	}

	return hook.Changeset{
		ID:       csID,
		Author:   b.Author,
		Comments: b.Comments,
		Parents:  parents,
		Files:    files,
	}, nil
}

// registerRuleBody is the wire shape of a /v1/admin/rules request.
type registerRuleBody struct {
	Name    string            `json:"name"`
	Kind    string            `json:"kind"` // "changeset", "file"
	Options map[string]string `json:"options"`
	Bypass  *bypassBody       `json:"bypass"`
}

type bypassBody struct {
	CommitMessageMarker string `json:"commit_message_marker"`
	PushVarName         string `json:"push_var_name"`
	PushVarValue        string `json:"push_var_value"`
}

func (h *Handler) handleRegisterRule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body registerRuleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	var kind hook.Kind
	switch body.Kind {
	case "changeset":
		kind = hook.ChangesetKind
	case "file":
		kind = hook.FileKind
	default:
		writeError(w, http.StatusBadRequest, "kind must be one of: changeset, file")
		return
	}

	cfg := hook.RuleConfig{Options: body.Options}
	if body.Bypass != nil {
		switch {
		case body.Bypass.CommitMessageMarker != "":
			b := hook.NewCommitMessageBypass(body.Bypass.CommitMessageMarker)
			cfg.Bypass = &b
		case body.Bypass.PushVarName != "":
			b := hook.NewPushVarBypass(body.Bypass.PushVarName, body.Bypass.PushVarValue)
			cfg.Bypass = &b
		}
	}

	rule, err := service.LoadRule(body.Name, kind, cfg, h.contentStore)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.ruleStore != nil {
		if err := h.ruleStore.PutRule(r.Context(), rule); err != nil {
			h.logger.Error("persist rule failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to persist rule")
			return
		}
	}

	switch kind {
	case hook.ChangesetKind:
		err = h.manager.RegisterChangesetRule(rule)
	case hook.FileKind:
		err = h.manager.RegisterFileRule(rule)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "registered", "name": body.Name})
}

// bindBookmarkBody is the wire shape of a /v1/admin/bindings request.
// RuleNames replaces the entire set of rules of Kind bound to Bookmark in
// the Hook Manager, including clearing it when RuleNames is empty. A
// configured durable binding store only receives the names in RuleNames;
// bindings it already holds for the bookmark are not removed.
type bindBookmarkBody struct {
	Bookmark  string   `json:"bookmark"`
	RuleNames []string `json:"rule_names"`
	Kind      string   `json:"kind"` // "changeset", "file"
}

func (h *Handler) handleBindBookmark(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body bindBookmarkBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.Bookmark == "" {
		writeError(w, http.StatusBadRequest, "bookmark is required")
		return
	}

	var kind hook.Kind
	switch body.Kind {
	case "changeset":
		kind = hook.ChangesetKind
	case "file":
		kind = hook.FileKind
	default:
		writeError(w, http.StatusBadRequest, "kind must be one of: changeset, file")
		return
	}

	bookmark := hook.Bookmark(body.Bookmark)
	h.manager.BindBookmark(bookmark, body.RuleNames, kind)

	if h.bindingStore != nil {
		for _, name := range body.RuleNames {
			if err := h.bindingStore.Bind(r.Context(), bookmark, name, kind); err != nil {
				h.logger.Error("persist binding failed", "error", err)
				writeError(w, http.StatusInternalServerError, "failed to persist binding")
				return
			}
		}
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "bound", "bookmark": body.Bookmark})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
