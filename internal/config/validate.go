package config

import (
	_ "embed"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

// view is the shape checked by the CUE schema. Durations are expressed in
// milliseconds so the schema can bound them numerically.
type view struct {
	Database          string   `json:"database"`
	QuotaBytes        int64    `json:"quota_bytes"`
	ChannelDir        string   `json:"channel_dir"`
	ChannelTTLMs      int64    `json:"channel_ttl_ms"`
	DebounceMs        int64    `json:"debounce_ms"`
	DraftMaxAgeMs     int64    `json:"draft_max_age_ms"`
	HistoryLimit      int      `json:"history_limit"`
	HistoryCoalesceMs int64    `json:"history_coalesce_ms"`
	VolatileFields    []string `json:"volatile_fields"`
}

func (c *Config) view() view {
	volatile := c.VolatileFields
	if volatile == nil {
		volatile = []string{}
	}
	return view{
		Database:          c.Database,
		QuotaBytes:        c.QuotaBytes,
		ChannelDir:        c.ChannelDir,
		ChannelTTLMs:      c.ChannelTTL.Milliseconds(),
		DebounceMs:        c.Debounce.Milliseconds(),
		DraftMaxAgeMs:     c.DraftMaxAge.Milliseconds(),
		HistoryLimit:      c.HistoryLimit,
		HistoryCoalesceMs: c.HistoryCoalesce.Milliseconds(),
		VolatileFields:    volatile,
	}
}

// ValidationError lists every schema violation found in a Config.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

// Validate checks cfg against the embedded CUE schema.
func Validate(cfg *Config) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := def.Unify(ctx.Encode(cfg.view()))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		var problems []string
		for _, e := range cueerrors.Errors(err) {
			format, args := e.Msg()
			problems = append(problems, fmt.Sprintf("%s: %s",
				strings.Join(e.Path(), "."), fmt.Sprintf(format, args...)))
		}
		return &ValidationError{Problems: problems}
	}
	return nil
}
