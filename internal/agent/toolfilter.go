package agent

import "strings"

// FilterMode selects how much of a provider's tool surface is exposed.
type FilterMode string

const (
	ModeReadOnly  FilterMode = "read_only"
	ModeReadWrite FilterMode = "read_write"
)

// readOnlyVerbs is the declarative allow-table: provider name to the
// operation-verb prefixes considered read-only. Gateway tool names follow
// the shape "<provider>___<verb><Object>", e.g. "jira___searchIssues".
var readOnlyVerbs = map[string][]string{
	"jira":       {"get", "list", "search"},
	"confluence": {"get", "list", "search"},
	"pagerduty":  {"get", "list"},
}

// ToolFilter decides which gateway tools a turn may call. One generic filter
// consults the table; there is no per-provider filter code.
type ToolFilter struct {
	mode FilterMode
}

// NewToolFilter creates a filter for the given mode.
func NewToolFilter(mode FilterMode) *ToolFilter {
	return &ToolFilter{mode: mode}
}

// Allowed reports whether the named gateway tool may be called this turn.
// Tools from unknown providers are always rejected.
func (f *ToolFilter) Allowed(toolName string) bool {
	provider, op, found := strings.Cut(toolName, "___")
	if !found || op == "" {
		return false
	}
	verbs, known := readOnlyVerbs[provider]
	if !known {
		return false
	}
	if f.mode == ModeReadWrite {
		return true
	}
	for _, verb := range verbs {
		if strings.HasPrefix(op, verb) {
			return true
		}
	}
	return false
}

// Mode returns the filter's mode.
func (f *ToolFilter) Mode() FilterMode {
	return f.mode
}
