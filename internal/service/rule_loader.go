package service

import (
	"fmt"

	"github.com/scmhooks/hookengine/internal/adapter/outbound/cel"
	"github.com/scmhooks/hookengine/internal/adapter/outbound/native"
	"github.com/scmhooks/hookengine/internal/domain/hook"
)

// Backend names recognized by LoadRule, set via RuleConfig.Options["backend"].
const (
	BackendCEL    = "cel"
	BackendNative = "native"
)

// LoadRule resolves a rule name, kind, and RuleConfig to a constructed
// hook.Rule, dispatching on RuleConfig.Options["backend"]. contentStore is
// needed by the cel backend's file rules (which resolve content eagerly)
// and by the native backend's built-in content-scanning rules.
func LoadRule(name string, kind hook.Kind, cfg hook.RuleConfig, contentStore hook.FileContentStore) (hook.Rule, error) {
	backend := cfg.Options["backend"]
	switch backend {
	case BackendCEL:
		return loadCELRule(name, kind, cfg, contentStore)
	case BackendNative:
		return loadNativeRule(name, kind, cfg, contentStore)
	default:
		return hook.Rule{}, fmt.Errorf("hook: rule %q: unknown backend %q", name, backend)
	}
}

func loadCELRule(name string, kind hook.Kind, cfg hook.RuleConfig, contentStore hook.FileContentStore) (hook.Rule, error) {
	expr := cfg.Options["expression"]
	rejectMsg := cfg.Options["reject_description"]
	longMsg := cfg.Options["reject_long_description"]

	switch kind {
	case hook.ChangesetKind:
		body, err := cel.NewChangesetRule(expr, rejectMsg, longMsg)
		if err != nil {
			return hook.Rule{}, fmt.Errorf("hook: load cel changeset rule %q: %w", name, err)
		}
		return hook.Rule{Name: name, Kind: kind, Body: body, Config: cfg}, nil
	case hook.FileKind:
		body, err := cel.NewFileRule(expr, rejectMsg, longMsg, contentStore)
		if err != nil {
			return hook.Rule{}, fmt.Errorf("hook: load cel file rule %q: %w", name, err)
		}
		return hook.Rule{Name: name, Kind: kind, Body: body, Config: cfg}, nil
	default:
		return hook.Rule{}, fmt.Errorf("hook: rule %q: unknown kind %v", name, kind)
	}
}

// nativeRuleFactory constructs a FileFunc given a content store, matched by
// RuleConfig.Options["native_rule"]. Changeset-kind native rules have no
// built-ins yet; one can be registered directly through
// HookManager.RegisterChangesetRule without going through LoadRule.
var nativeRuleFactories = map[string]func(hook.FileContentStore, hook.RuleConfig) native.FileFunc{
	"no_binary_blobs": func(cs hook.FileContentStore, _ hook.RuleConfig) native.FileFunc {
		return native.NoBinaryBlobs(cs)
	},
	"max_file_size": func(cs hook.FileContentStore, cfg hook.RuleConfig) native.FileFunc {
		limit := 10 << 20
		if v, ok := cfg.Options["max_bytes"]; ok {
			_, _ = fmt.Sscanf(v, "%d", &limit)
		}
		return native.MaxFileSize(cs, limit)
	},
}

func loadNativeRule(name string, kind hook.Kind, cfg hook.RuleConfig, contentStore hook.FileContentStore) (hook.Rule, error) {
	if kind != hook.FileKind {
		return hook.Rule{}, fmt.Errorf("hook: native backend only implements built-in file rules, got kind %v for %q", kind, name)
	}
	factory, ok := nativeRuleFactories[cfg.Options["native_rule"]]
	if !ok {
		return hook.Rule{}, fmt.Errorf("hook: rule %q: unknown native_rule %q", name, cfg.Options["native_rule"])
	}
	return hook.Rule{Name: name, Kind: kind, Body: factory(contentStore, cfg), Config: cfg}, nil
}
