package cmd

import (
	"fmt"

	"github.com/scmhooks/hookengine/internal/config"
	"github.com/scmhooks/hookengine/internal/domain/hook"
)

// ruleConfigToHook translates one config.RuleConfig into the hook.Kind and
// hook.RuleConfig shapes service.LoadRule expects. Shared by validate and
// serve so both exercise identical construction logic.
func ruleConfigToHook(rc config.RuleConfig) (hook.Kind, hook.RuleConfig) {
	kind := hook.FileKind
	if rc.Kind == "changeset" {
		kind = hook.ChangesetKind
	}

	options := map[string]string{"backend": rc.Backend}
	if rc.Expression != "" {
		options["expression"] = rc.Expression
	}
	if rc.RejectMessage != "" {
		options["reject_description"] = rc.RejectMessage
	}
	if rc.LongRejectMessage != "" {
		options["reject_long_description"] = rc.LongRejectMessage
	}
	if rc.NativeRule != "" {
		options["native_rule"] = rc.NativeRule
	}
	if rc.MaxBytes > 0 {
		options["max_bytes"] = fmt.Sprintf("%d", rc.MaxBytes)
	}

	cfg := hook.RuleConfig{Options: options}
	if rc.Bypass != nil {
		switch {
		case rc.Bypass.CommitMessageMarker != "":
			b := hook.NewCommitMessageBypass(rc.Bypass.CommitMessageMarker)
			cfg.Bypass = &b
		case rc.Bypass.PushVarName != "":
			b := hook.NewPushVarBypass(rc.Bypass.PushVarName, rc.Bypass.PushVarValue)
			cfg.Bypass = &b
		}
	}

	return kind, cfg
}
