// Package doctor reviews a loaded receiver config for settings that are
// valid but risky, and for problems the loader does not catch.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/mattjoyce/requestnet/internal/auth"
	"github.com/mattjoyce/requestnet/internal/config"
)

// MinSecretLength is the shortest secret or token accepted without a warning.
const MinSecretLength = 16

// MaxTolerance is the widest replay window accepted without a warning.
const MaxTolerance = time.Hour

// Result holds the outcome of a review.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

type Doctor struct {
	cfg *config.Config
	// source is the raw config text, used to find unset env references.
	source string
}

// New creates a Doctor for cfg. When cfg.SourcePath is set the raw file is
// read as well so that dropped ${VAR} references can be reported.
func New(cfg *config.Config) *Doctor {
	d := &Doctor{cfg: cfg}
	if cfg.SourcePath != "" {
		if data, err := os.ReadFile(cfg.SourcePath); err == nil {
			d.source = string(data)
		}
	}
	return d
}

// Validate runs all checks.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateTokenScopes(r)
	d.warnVerification(r)
	d.warnWeakSecrets(r)
	d.warnReplayWindow(r)
	d.warnListen(r)
	d.warnState(r)
	d.warnMissingEnvVars(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

var knownScopes = map[string]bool{
	auth.ScopeAll:          true,
	auth.ScopeDeliveriesRO: true,
	auth.ScopeEventsRO:     true,
}

// validateTokenScopes rejects scopes no endpoint checks for.
func (d *Doctor) validateTokenScopes(r *Result) {
	for i, tok := range d.cfg.API.Tokens {
		for j, scope := range tok.Scopes {
			if !knownScopes[strings.TrimSpace(scope)] {
				d.addError(r, "token_scopes", fmt.Sprintf("api.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q (expected deliveries:ro, events:ro or *)", scope))
			}
		}
	}
}

func (d *Doctor) warnVerification(r *Result) {
	if d.cfg.Webhook.SkipVerification {
		d.addWarning(r, "verification", "webhook.skip_verification",
			"signature verification is disabled; any caller can inject events")
	}
	if len(d.cfg.Webhook.Secrets) > 2 {
		d.addWarning(r, "verification", "webhook.secrets",
			fmt.Sprintf("%d secrets configured; drop retired secrets once rotation completes", len(d.cfg.Webhook.Secrets)))
	}
}

func (d *Doctor) warnWeakSecrets(r *Result) {
	seen := make(map[string]int)
	for i, s := range d.cfg.Webhook.Secrets {
		field := fmt.Sprintf("webhook.secrets[%d]", i)
		if len(s) < MinSecretLength {
			d.addWarning(r, "secrets", field,
				fmt.Sprintf("secret is shorter than %d characters", MinSecretLength))
		}
		if prev, dup := seen[s]; dup {
			d.addWarning(r, "secrets", field, fmt.Sprintf("duplicates webhook.secrets[%d]", prev))
		} else {
			seen[s] = i
		}
	}
	for i, tok := range d.cfg.API.Tokens {
		if len(tok.Token) < MinSecretLength {
			d.addWarning(r, "secrets", fmt.Sprintf("api.tokens[%d].token", i),
				fmt.Sprintf("token is shorter than %d characters", MinSecretLength))
		}
	}
}

func (d *Doctor) warnReplayWindow(r *Result) {
	wh := d.cfg.Webhook
	switch {
	case wh.TimestampHeader == "":
		d.addWarning(r, "replay", "webhook.timestamp_header",
			"no timestamp header configured; replayed deliveries cannot be rejected by age")
	case wh.Tolerance == 0:
		d.addWarning(r, "replay", "webhook.tolerance",
			"timestamp header set but tolerance is 0; timestamps are read but not enforced")
	case wh.Tolerance > MaxTolerance:
		d.addWarning(r, "replay", "webhook.tolerance",
			fmt.Sprintf("tolerance %s is wider than %s", wh.Tolerance, MaxTolerance))
	}
	if wh.TimestampHeader != "" && (wh.TimestampUnit == "" || wh.TimestampUnit == "auto") {
		d.addWarning(r, "replay", "webhook.timestamp_unit",
			"timestamp_unit auto reads integers at or above 1e9 as milliseconds; set seconds or milliseconds to match the sender")
	}
}

func (d *Doctor) warnListen(r *Result) {
	host, _, err := net.SplitHostPort(d.cfg.Webhook.Listen)
	if err != nil {
		d.addError(r, "listen", "webhook.listen",
			fmt.Sprintf("invalid listen address %q: %v", d.cfg.Webhook.Listen, err))
		return
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		d.addWarning(r, "listen", "webhook.listen",
			"listening on all interfaces; terminate TLS in front of the receiver")
	}
}

func (d *Doctor) warnState(r *Result) {
	if d.cfg.State.Path == ":memory:" {
		d.addWarning(r, "state", "state.path", "in-memory ledger; deliveries are lost on restart")
		return
	}
	if d.cfg.State.Retention == 0 {
		d.addWarning(r, "state", "state.retention", "retention is 0; the ledger grows without bound")
	}
}

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// warnMissingEnvVars reports ${VAR} references in the source file whose
// variable is unset. The loader silently drops secrets built from them.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	seen := make(map[string]bool)
	for _, m := range envRefPattern.FindAllStringSubmatch(d.source, -1) {
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, ok := os.LookupEnv(name); !ok {
			d.addWarning(r, "env_vars", "", fmt.Sprintf("environment variable ${%s} not set", name))
		}
	}
}

// FormatHuman returns a readable report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	writeIssues(&b, "ERROR", r.Errors)
	writeIssues(&b, "WARN ", r.Warnings)
	return b.String()
}

func writeIssues(b *strings.Builder, label string, issues []Issue) {
	for _, is := range issues {
		if is.Field != "" {
			fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, is.Category, is.Field, is.Message)
		} else {
			fmt.Fprintf(b, "  %s [%s] %s\n", label, is.Category, is.Message)
		}
	}
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
