package filter

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/imsgguard/imsg-guard/api"
	"github.com/imsgguard/imsg-guard/internal/contacts"
)

// ScrubFilter is the last line of defense on the inbound path: after the
// policy has rewritten the sender fields it knows about, the scrubber
// replaces any remaining occurrence of a directory handle anywhere in the
// outgoing line (chat guids, quoted text, fields the vocabulary missed)
// with the contact's alias, so a real handle never reaches the untrusted
// side in any shape.
type ScrubFilter struct {
	rules  []scrubRule
	logger *slog.Logger
}

type scrubRule struct {
	pattern *regexp.Regexp
	alias   string
}

// NewScrubFilter builds a scrubber over all directory handles. Phone
// handles also match their bare national form for US numbers.
func NewScrubFilter(dir *contacts.Directory, logger *slog.Logger) *ScrubFilter {
	f := &ScrubFilter{logger: logger}

	type needle struct {
		text     string
		alias    string
		caseless bool
	}
	var needles []needle
	for _, e := range dir.Entries() {
		if strings.Contains(e.Handle, "@") {
			needles = append(needles, needle{text: e.Handle, alias: e.Alias, caseless: true})
			continue
		}
		needles = append(needles, needle{text: e.Handle, alias: e.Alias})
		if strings.HasPrefix(e.Handle, "+1") && len(e.Handle) == 12 {
			needles = append(needles, needle{text: e.Handle[2:], alias: e.Alias})
		}
	}

	// Longest needle first so the full handle wins over its bare form.
	sort.Slice(needles, func(i, j int) bool { return len(needles[i].text) > len(needles[j].text) })

	for _, n := range needles {
		expr := regexp.QuoteMeta(n.text)
		if n.caseless {
			expr = "(?i)" + expr
		}
		f.rules = append(f.rules, scrubRule{pattern: regexp.MustCompile(expr), alias: n.alias})
	}
	return f
}

func (f *ScrubFilter) Name() string { return "scrub" }

func (f *ScrubFilter) Process(_ context.Context, fc *Context) error {
	// Only lines exposed to the untrusted side are scrubbed.
	if fc.Direction != api.DirectionInbound || fc.Halted {
		return nil
	}

	line := string(fc.Out())
	scrubbed := 0
	for _, r := range f.rules {
		if !r.pattern.MatchString(line) {
			continue
		}
		line = r.pattern.ReplaceAllString(line, r.alias)
		scrubbed++
	}
	if scrubbed > 0 {
		fc.SetOut([]byte(line))
		f.logger.Warn("SCRUBBED residual handle from outgoing line",
			"reason", api.ReasonHandleLeak,
			"method", fc.Method(),
			"handles", scrubbed,
		)
	}
	return nil
}
