// Package config provides configuration types for hookengine.
//
// The schema is one flat YAML document, viper-backed and validator-tag-
// checked: rule definitions, bookmark bindings, verdict cache limits, the
// access-control probe, and the admin token that guards the reference HTTP
// driver's registration endpoints.
package config

import (
	"github.com/spf13/viper"
)

// Config is the top-level configuration for hookengine.
type Config struct {
	// Server configures the reference HTTP driver's listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Store configures durable rule/binding persistence.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Cache configures the verdict cache's bounded-memory eviction policy.
	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`

	// ACL configures the access-control probe that lets privileged
	// identities bypass reviewer checks.
	ACL ACLConfig `yaml:"acl" mapstructure:"acl"`

	// AdminAuth configures the token that guards rule-registration and
	// bookmark-binding endpoints on the reference HTTP driver.
	AdminAuth AdminAuthConfig `yaml:"admin_auth" mapstructure:"admin_auth"`

	// Rules defines the hook rules available for binding to bookmarks.
	// Optional: rules can also be registered at runtime via the admin API.
	// A sqlite Store records the rules and bindings written through serve
	// and the admin API, but serve does not read them back at startup.
	Rules []RuleConfig `yaml:"rules" mapstructure:"rules" validate:"omitempty,dive"`

	// Bindings maps bookmarks to the rules that run against pushes to them.
	Bindings []BindingConfig `yaml:"bindings" mapstructure:"bindings" validate:"omitempty,dive"`

	// DevMode enables permissive defaults for local development.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the reference HTTP driver.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8088").
	// Defaults to "127.0.0.1:8088" if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// StoreConfig configures durable rule/binding persistence.
type StoreConfig struct {
	// Driver selects the backing store. Valid values: "sqlite", "memory".
	// Defaults to "memory" if empty (rules live only for the process
	// lifetime, registered via the admin API or Rules/Bindings above).
	Driver string `yaml:"driver" mapstructure:"driver" validate:"omitempty,oneof=sqlite memory"`

	// Path is the sqlite database file path. Required when Driver is "sqlite".
	Path string `yaml:"path" mapstructure:"path"`
}

// CacheConfig configures the verdict cache's bounded-memory eviction.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached per-file verdicts.
	// Defaults to 10000 if not specified or 0.
	MaxEntries int `yaml:"max_entries" mapstructure:"max_entries" validate:"omitempty,min=1"`

	// MaxWeightBytes is the maximum cumulative weight (approximate bytes)
	// of cached entries. Defaults to 67108864 (64 MiB) if not specified or 0.
	MaxWeightBytes int64 `yaml:"max_weight_bytes" mapstructure:"max_weight_bytes" validate:"omitempty,min=1"`
}

// ACLConfig configures the background-refreshing access-control probe.
type ACLConfig struct {
	// Enabled turns the access-control probe on. When false, IsACLMember
	// always evaluates to false and no background refresh runs.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// RefreshInterval is how often the probe refreshes its membership
	// snapshot from the upstream source (e.g., "5m").
	// Defaults to "5m" if not specified.
	RefreshInterval string `yaml:"refresh_interval" mapstructure:"refresh_interval" validate:"omitempty"`
}

// AdminAuthConfig configures the admin token used to guard rule
// registration and bookmark binding on the reference HTTP driver.
type AdminAuthConfig struct {
	// TokenHash is either an Argon2id PHC string or a "sha256:"-prefixed
	// hex digest of the admin token. Generate with the hash-key subcommand.
	TokenHash string `yaml:"token_hash" mapstructure:"token_hash" validate:"omitempty"`
}

// RuleConfig defines a single hook rule available for binding.
type RuleConfig struct {
	// Name is the unique identifier for this rule.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Kind is what the rule runs against. Valid values: "changeset", "file".
	Kind string `yaml:"kind" mapstructure:"kind" validate:"required,oneof=changeset file"`

	// Backend selects the rule body implementation. Valid values: "cel", "native".
	Backend string `yaml:"backend" mapstructure:"backend" validate:"required,oneof=cel native"`

	// Expression is the CEL expression body. Required when Backend is "cel".
	Expression string `yaml:"expression" mapstructure:"expression"`

	// RejectMessage is the short verdict description returned on rejection.
	RejectMessage string `yaml:"reject_message" mapstructure:"reject_message"`

	// LongRejectMessage is the detailed verdict description returned on rejection.
	LongRejectMessage string `yaml:"long_reject_message" mapstructure:"long_reject_message"`

	// NativeRule names a built-in native rule. Required when Backend is "native".
	// Valid values: "no_binary_blobs", "max_file_size".
	NativeRule string `yaml:"native_rule" mapstructure:"native_rule" validate:"omitempty,oneof=no_binary_blobs max_file_size"`

	// MaxBytes is the size limit in bytes for the "max_file_size" native rule.
	MaxBytes int64 `yaml:"max_bytes" mapstructure:"max_bytes" validate:"omitempty,min=1"`

	// Bypass optionally lets a push skip this rule entirely.
	Bypass *BypassConfig `yaml:"bypass" mapstructure:"bypass"`
}

// BypassConfig configures how a rule may be bypassed. Exactly one of
// CommitMessageMarker or PushVarName should be set.
type BypassConfig struct {
	// CommitMessageMarker, if set, bypasses the rule when this substring
	// appears anywhere in the changeset's commit message.
	CommitMessageMarker string `yaml:"commit_message_marker" mapstructure:"commit_message_marker"`

	// PushVarName and PushVarValue, if set, bypass the rule when the push
	// carries a variable of this name equal to this value.
	PushVarName  string `yaml:"push_var_name" mapstructure:"push_var_name"`
	PushVarValue string `yaml:"push_var_value" mapstructure:"push_var_value"`
}

// BindingConfig binds a set of rules to a bookmark.
type BindingConfig struct {
	// Bookmark is the target bookmark name (e.g., "main").
	Bookmark string `yaml:"bookmark" mapstructure:"bookmark" validate:"required"`

	// ChangesetRules names the changeset-kind rules bound to this bookmark.
	ChangesetRules []string `yaml:"changeset_rules" mapstructure:"changeset_rules"`

	// FileRules names the file-kind rules bound to this bookmark.
	FileRules []string `yaml:"file_rules" mapstructure:"file_rules"`
}

// SetDevDefaults applies permissive defaults for development mode.
// These defaults are applied BEFORE validation so required fields are
// satisfied when running hookengine with minimal config.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}

	// SHA256 of "dev-admin-token".
	if c.AdminAuth.TokenHash == "" {
		c.AdminAuth.TokenHash = "sha256:1734d503f6aa6a047c36d113cbad769f719c93784b469b771c4c3e7c63adbefd"
	}

	if len(c.Rules) == 0 {
		c.Rules = []RuleConfig{
			{
				Name:          "no-binary-blobs",
				Kind:          "file",
				Backend:       "native",
				NativeRule:    "no_binary_blobs",
				RejectMessage: "binary content is not allowed",
			},
		}
	}
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Server defaults bind to localhost only.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8088"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}

	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 10000
	}
	if c.Cache.MaxWeightBytes == 0 {
		c.Cache.MaxWeightBytes = 64 * 1024 * 1024
	}

	// ACL defaults to disabled unless explicitly enabled in YAML/env.
	// viper.IsSet distinguishes "not set" (zero value) from "explicitly false".
	if !viper.IsSet("acl.enabled") {
		c.ACL.Enabled = false
	}
	if c.ACL.RefreshInterval == "" {
		c.ACL.RefreshInterval = "5m"
	}
}
