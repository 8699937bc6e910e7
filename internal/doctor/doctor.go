// Package doctor reviews a loaded threaddispatch configuration for problems
// that Load accepts but an operator probably did not intend.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/mattjoyce/threaddispatch/internal/auth"
	"github.com/mattjoyce/threaddispatch/internal/config"
)

// Result is the outcome of Validate. Valid is false when any error was found;
// warnings never affect it.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue is one finding. Field is the dotted config path when there is one.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

func (r *Result) errorf(category, field, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: fmt.Sprintf(format, args...)})
}

func (r *Result) warnf(category, field, format string, args ...any) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: fmt.Sprintf(format, args...)})
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg    *config.Config
	numCPU int
}

func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, numCPU: runtime.NumCPU()}
}

// checks run in order; each appends to the shared Result.
var checks = []func(*Doctor, *Result){
	(*Doctor).checkScopes,
	(*Doctor).checkIntegrity,
	(*Doctor).checkPool,
	(*Doctor).checkMetricsReachable,
	(*Doctor).checkJournalPath,
	(*Doctor).checkListener,
	(*Doctor).checkCredentials,
}

// Validate runs every check against the config.
func (d *Doctor) Validate() *Result {
	r := &Result{}
	for _, check := range checks {
		check(d, r)
	}
	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) checkScopes(r *Result) {
	for i, token := range d.cfg.API.Auth.Tokens {
		for j, scope := range token.Scopes {
			if scope = strings.TrimSpace(scope); auth.Known(scope) {
				continue
			}
			r.errorf("token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
				"unknown scope %q (expected one of %s)", scope, scopeList())
		}
	}
}

// checkIntegrity reports whether the config file is covered by .checksums.
// A mismatch has already failed Load, so only absence is reported here.
func (d *Doctor) checkIntegrity(r *Result) {
	src := d.cfg.SourcePath
	if src == "" {
		r.warnf("integrity", "", "no config file loaded; running on built-in defaults")
		return
	}

	manifest, err := config.ReadManifest(filepath.Dir(src))
	if errors.Is(err, config.ErrNotLocked) {
		r.warnf("integrity", "", "%s is not locked; run 'threaddispatch config lock'", src)
		return
	}
	if err != nil {
		r.errorf("integrity", "", "%v", err)
		return
	}
	if name := filepath.Base(src); !manifest.Covers(name) {
		r.errorf("integrity", "", "%s has no entry in %s", name, config.ChecksumFile)
	}
}

func (d *Doctor) checkPool(r *Result) {
	pool := d.cfg.Pool
	if pool.Workers > 4*d.numCPU {
		r.warnf("pool", "pool.workers", "%d workers on %d CPUs; CPU-bound jobs will mostly wait for a core", pool.Workers, d.numCPU)
	}
	if pool.DrainTimeout == 0 {
		r.warnf("pool", "pool.drain_timeout", "drain_timeout is 0; serve skips the graceful drain wait before shutdown")
	}
}

// checkMetricsReachable flags collectors nobody can scrape: /metrics is only
// served by the API listener.
func (d *Doctor) checkMetricsReachable(r *Result) {
	if d.cfg.Metrics.Enabled && !d.cfg.API.Enabled {
		r.warnf("metrics", "metrics.enabled", "metrics enabled but api is disabled; /metrics will not be served")
	}
}

func (d *Doctor) checkJournalPath(r *Result) {
	if j := d.cfg.Journal; j.Enabled && !filepath.IsAbs(j.Path) {
		r.warnf("journal", "journal.path", "relative journal path %q resolves against the working directory", j.Path)
	}
}

func (d *Doctor) checkListener(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	listen := d.cfg.API.Listen
	host, _, err := net.SplitHostPort(listen)
	if err != nil {
		r.errorf("api", "api.listen", "invalid listen address %q: %v", listen, err)
		return
	}
	switch host {
	case "", "0.0.0.0", "::":
		r.warnf("api", "api.listen", "API listens on all interfaces (%s)", listen)
	}
}

// checkCredentials nudges single-key setups toward scoped tokens.
func (d *Doctor) checkCredentials(r *Result) {
	a := d.cfg.API.Auth
	switch {
	case a.APIKey == "":
	case len(a.Tokens) > 0:
		r.warnf("deprecated", "api.auth", "api_key and tokens are both set; the api_key bypasses every token scope")
	default:
		r.warnf("deprecated", "api.auth.api_key", "api_key grants full access; prefer tokens with explicit scopes")
	}
}

// FormatHuman renders r for a terminal.
func FormatHuman(r *Result) string {
	if r.Valid && len(r.Warnings) == 0 {
		return "Configuration valid.\n"
	}

	var b strings.Builder
	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}
	for _, i := range r.Errors {
		i.writeTo(&b, "ERROR")
	}
	for _, i := range r.Warnings {
		i.writeTo(&b, "WARN ")
	}
	return b.String()
}

func (i Issue) writeTo(b *strings.Builder, level string) {
	where := ""
	if i.Field != "" {
		where = " " + i.Field + ":"
	}
	fmt.Fprintf(b, "  %s [%s]%s %s\n", level, i.Category, where, i.Message)
}

func FormatJSON(r *Result) (string, error) {
	out, err := json.MarshalIndent(r, "", "  ")
	return string(out), err
}

func scopeList() string {
	var names []string
	for _, s := range auth.Scopes() {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}
