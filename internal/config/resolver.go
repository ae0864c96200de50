package config

import (
	"slices"
	"strings"
)

// namespaceOrder fixes the load order between namespaces: storage and
// embedders first, then engines, then surfaces that depend on them.
var namespaceOrder = []string{"tracing", "store", "embedder", "engine", "gateway", "mcp"}

// Resolve returns the configured module IDs in load order: by namespace
// rank, then alphabetically. Unknown namespaces load last.
func Resolve(cfg *Config) []string {
	ids := make([]string, 0, len(cfg.Modules))
	for id := range cfg.Modules {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		if ra, rb := rank(a), rank(b); ra != rb {
			return ra - rb
		}
		return strings.Compare(a, b)
	})
	return ids
}

func rank(id string) int {
	ns, _, _ := strings.Cut(id, ".")
	if i := slices.Index(namespaceOrder, ns); i >= 0 {
		return i
	}
	return len(namespaceOrder)
}
