package compliance

import (
	"fmt"
	"strings"
)

// Checker enforces the universe whitelist over a plan batch.
type Checker struct {
	whitelist map[string]struct{}
}

// New builds a checker from the configured universe.
func New(universe []string) *Checker {
	wl := make(map[string]struct{}, len(universe))
	for _, sym := range universe {
		wl[strings.ToUpper(sym)] = struct{}{}
	}
	return &Checker{whitelist: wl}
}

// Check rejects the whole batch when any symbol falls outside the
// whitelist. Exits always reference held symbols, but they are checked
// too: a held off-universe symbol means the config shrank mid-session and
// deserves a loud failure.
func (c *Checker) Check(symbols []string) error {
	for _, sym := range symbols {
		if _, ok := c.whitelist[strings.ToUpper(sym)]; !ok {
			return fmt.Errorf("compliance: symbol %s outside configured universe", sym)
		}
	}
	return nil
}
