package approval

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// Document is the externally produced human-approval file. The engine
// reads it and deletes it once stale; it never writes one.
type Document struct {
	Date     string `json:"date"` // YYYY-MM-DD
	Approved bool   `json:"approved"`
	Notes    string `json:"notes"`
}

// Gate consults the approval document before any plan executes.
type Gate struct {
	required bool
	path     string
}

// New builds the gate. When required is false every check passes.
func New(required bool, path string) *Gate {
	return &Gate{required: required, path: path}
}

// Check returns whether today's trading is approved and a reason when it
// is not. Missing, unparseable, stale or unapproved documents all deny;
// stale documents are deleted as a side effect.
func (g *Gate) Check(today time.Time) (bool, string) {
	if !g.required {
		return true, ""
	}

	data, err := os.ReadFile(g.path)
	if err != nil {
		return false, "approval file missing"
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, "approval file unparseable"
	}

	if doc.Date != today.Format("2006-01-02") {
		if err := os.Remove(g.path); err != nil {
			log.Warn().Err(err).Str("path", g.path).Msg("failed to delete stale approval file")
		} else {
			log.Info().Str("date", doc.Date).Msg("stale approval file deleted")
		}
		return false, "approval file stale (dated " + doc.Date + ")"
	}

	if !doc.Approved {
		return false, "trading not approved: " + doc.Notes
	}
	return true, ""
}
