package doctor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/requestnet/internal/config"
)

func validConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Webhook.Secrets = []string{"whsec_0123456789abcdef"}
	cfg.Webhook.TimestampHeader = "x-request-network-timestamp"
	cfg.Webhook.Tolerance = 5 * time.Minute
	cfg.Webhook.TimestampUnit = "milliseconds"
	return cfg
}

func categories(issues []Issue) []string {
	out := make([]string, 0, len(issues))
	for _, is := range issues {
		out = append(out, is.Category+":"+is.Field)
	}
	return out
}

func TestValidate_CleanConfig(t *testing.T) {
	t.Parallel()
	r := New(validConfig()).Validate()
	if !r.Valid || len(r.Warnings) != 0 {
		t.Fatalf("expected clean result, got errors=%v warnings=%v", r.Errors, r.Warnings)
	}
	if got := FormatHuman(r); got != "Configuration valid.\n" {
		t.Fatalf("FormatHuman = %q", got)
	}
}

func TestValidate_Warnings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "verification disabled",
			mutate: func(c *config.Config) { c.Webhook.SkipVerification = true },
			want:   "verification:webhook.skip_verification",
		},
		{
			name: "too many secrets",
			mutate: func(c *config.Config) {
				c.Webhook.Secrets = []string{"whsec_aaaaaaaaaaaaaaaa", "whsec_bbbbbbbbbbbbbbbb", "whsec_cccccccccccccccc"}
			},
			want: "verification:webhook.secrets",
		},
		{
			name:   "short secret",
			mutate: func(c *config.Config) { c.Webhook.Secrets = []string{"short"} },
			want:   "secrets:webhook.secrets[0]",
		},
		{
			name: "duplicate secret",
			mutate: func(c *config.Config) {
				c.Webhook.Secrets = []string{"whsec_0123456789abcdef", "whsec_0123456789abcdef"}
			},
			want: "secrets:webhook.secrets[1]",
		},
		{
			name: "short token",
			mutate: func(c *config.Config) {
				c.API.Tokens = []config.APIToken{{Token: "tok", Scopes: []string{"*"}}}
			},
			want: "secrets:api.tokens[0].token",
		},
		{
			name:   "no timestamp header",
			mutate: func(c *config.Config) { c.Webhook.TimestampHeader = ""; c.Webhook.Tolerance = 0 },
			want:   "replay:webhook.timestamp_header",
		},
		{
			name:   "zero tolerance",
			mutate: func(c *config.Config) { c.Webhook.Tolerance = 0 },
			want:   "replay:webhook.tolerance",
		},
		{
			name:   "wide tolerance",
			mutate: func(c *config.Config) { c.Webhook.Tolerance = 6 * time.Hour },
			want:   "replay:webhook.tolerance",
		},
		{
			name:   "auto timestamp unit",
			mutate: func(c *config.Config) { c.Webhook.TimestampUnit = "auto" },
			want:   "replay:webhook.timestamp_unit",
		},
		{
			name:   "all interfaces",
			mutate: func(c *config.Config) { c.Webhook.Listen = ":8090" },
			want:   "listen:webhook.listen",
		},
		{
			name:   "memory ledger",
			mutate: func(c *config.Config) { c.State.Path = ":memory:" },
			want:   "state:state.path",
		},
		{
			name:   "no retention",
			mutate: func(c *config.Config) { c.State.Retention = 0 },
			want:   "state:state.retention",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			r := New(cfg).Validate()
			if !r.Valid {
				t.Fatalf("unexpected errors: %v", r.Errors)
			}
			got := categories(r.Warnings)
			found := false
			for _, c := range got {
				if c == tt.want {
					found = true
				}
			}
			if !found {
				t.Fatalf("warnings %v missing %q", got, tt.want)
			}
		})
	}
}

func TestValidate_UnknownScope(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Tokens = []config.APIToken{{Token: "reader-0123456789abcdef", Scopes: []string{"deliveries:ro", "deliveries:rw"}}}

	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid result")
	}
	if len(r.Errors) != 1 || r.Errors[0].Field != "api.tokens[0].scopes[1]" {
		t.Fatalf("errors = %v", r.Errors)
	}
	if !strings.Contains(FormatHuman(r), "ERROR [token_scopes]") {
		t.Fatalf("FormatHuman = %q", FormatHuman(r))
	}
}

func TestValidate_BadListenAddress(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Webhook.Listen = "localhost"

	r := New(cfg).Validate()
	if r.Valid || r.Errors[0].Category != "listen" {
		t.Fatalf("expected listen error, got %v", r.Errors)
	}
}

func TestValidate_MissingEnvVars(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	src := "webhook:\n  secrets:\n    - ${REQUESTNET_DOCTOR_SET}\n    - ${REQUESTNET_DOCTOR_UNSET}\n    - ${REQUESTNET_DOCTOR_UNSET}\n"
	if err := os.WriteFile(path, []byte(src), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("REQUESTNET_DOCTOR_SET", "whsec_0123456789abcdef")

	cfg := validConfig()
	cfg.SourcePath = path
	r := New(cfg).Validate()

	var envWarnings []string
	for _, w := range r.Warnings {
		if w.Category == "env_vars" {
			envWarnings = append(envWarnings, w.Message)
		}
	}
	if len(envWarnings) != 1 || !strings.Contains(envWarnings[0], "REQUESTNET_DOCTOR_UNSET") {
		t.Fatalf("env warnings = %v", envWarnings)
	}
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Webhook.SkipVerification = true

	out, err := FormatJSON(New(cfg).Validate())
	if err != nil {
		t.Fatalf("FormatJSON: %v", err)
	}
	if !strings.Contains(out, `"valid": true`) || !strings.Contains(out, `"category": "verification"`) {
		t.Fatalf("FormatJSON = %s", out)
	}
}
