package http

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/scmhooks/hookengine/internal/adapter/outbound/memory"
	"github.com/scmhooks/hookengine/internal/domain/adminauth"
	"github.com/scmhooks/hookengine/internal/service"
)

func newTestHandler(t *testing.T) (*Handler, *service.HookManager) {
	t.Helper()
	changesets := memory.NewChangesetStore()
	content := memory.NewFileContentStore()
	cache := service.NewVerdictCache()
	manager := service.NewHookManager(changesets, content, nil, cache)

	tokenHash := adminauth.HashToken("s3cret")
	checker := adminauth.NewChecker("sha256:" + tokenHash)

	h := NewHandler(manager, changesets, content, content, checker)
	return h, manager
}

func registerNoBinaryRule(t *testing.T, h *Handler) {
	t.Helper()
	body, _ := json.Marshal(registerRuleBody{
		Name:    "no-binary",
		Kind:    "file",
		Options: map[string]string{"backend": "native", "native_rule": "no_binary_blobs"},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/rules", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	h.Routes(nil, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register rule: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	bindBody, _ := json.Marshal(bindBookmarkBody{Bookmark: "main", RuleNames: []string{"no-binary"}, Kind: "file"})
	bindReq := httptest.NewRequest(http.MethodPost, "/v1/admin/bindings", bytes.NewReader(bindBody))
	bindReq.Header.Set("Authorization", "Bearer s3cret")
	bindRec := httptest.NewRecorder()
	h.Routes(nil, nil).ServeHTTP(bindRec, bindReq)
	if bindRec.Code != http.StatusCreated {
		t.Fatalf("bind bookmark: status = %d, body = %s", bindRec.Code, bindRec.Body.String())
	}
}

func TestHandlePush_AcceptsCleanFile(t *testing.T) {
	h, _ := newTestHandler(t)
	registerNoBinaryRule(t, h)

	push := pushRequestBody{
		Changeset: changesetBody{
			ID:      "cs1",
			Author:  "alice",
			Parents: parentBody{Kind: "none"},
			Files: []fileBody{
				{Path: "README.md", ChangeKind: "added", ContentBase64: base64.StdEncoding.EncodeToString([]byte("hello"))},
			},
		},
		Bookmark: "main",
	}
	body, _ := json.Marshal(push)
	req := httptest.NewRequest(http.MethodPost, "/v1/push", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Routes(nil, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp pushResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Accepted {
		t.Errorf("expected accepted push, got rules: %+v", resp.Rules)
	}
}

func TestHandlePush_RejectsBinaryFile(t *testing.T) {
	h, _ := newTestHandler(t)
	registerNoBinaryRule(t, h)

	push := pushRequestBody{
		Changeset: changesetBody{
			ID:      "cs2",
			Parents: parentBody{Kind: "none"},
			Files: []fileBody{
				{Path: "blob.bin", ChangeKind: "added", ContentBase64: base64.StdEncoding.EncodeToString([]byte{0x00, 0x01, 0x02})},
			},
		},
		Bookmark: "main",
	}
	body, _ := json.Marshal(push)
	req := httptest.NewRequest(http.MethodPost, "/v1/push", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Routes(nil, nil).ServeHTTP(rec, req)

	var resp pushResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Accepted {
		t.Error("expected rejected push for binary content")
	}
}

func TestHandlePush_UnknownBookmarkHasNoBoundRules(t *testing.T) {
	h, _ := newTestHandler(t)

	push := pushRequestBody{
		Changeset: changesetBody{ID: "cs3", Parents: parentBody{Kind: "none"}},
		Bookmark:  "unbound",
	}
	body, _ := json.Marshal(push)
	req := httptest.NewRequest(http.MethodPost, "/v1/push", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Routes(nil, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp pushResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Accepted || len(resp.Rules) != 0 {
		t.Errorf("expected trivially-accepted empty-rules response, got %+v", resp)
	}
}

func TestHandleRegisterRule_RejectsWithoutAdminToken(t *testing.T) {
	h, _ := newTestHandler(t)

	body, _ := json.Marshal(registerRuleBody{Name: "r1", Kind: "file", Options: map[string]string{"backend": "native", "native_rule": "no_binary_blobs"}})
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/rules", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Routes(nil, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestHandlePush_MissingChangesetIDIsBadRequest(t *testing.T) {
	h, _ := newTestHandler(t)
	registerNoBinaryRule(t, h)

	// Missing changeset.id triggers buildChangeset's validation error.
	push := pushRequestBody{Bookmark: "main"}
	body, _ := json.Marshal(push)
	req := httptest.NewRequest(http.MethodPost, "/v1/push", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Routes(nil, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d, body = %s", rec.Code, http.StatusBadRequest, rec.Body.String())
	}
}
