package report

import (
	"time"
)

// EthicalFlag is the three-way policy outcome of the safety gate.
type EthicalFlag string

const (
	FlagSafe    EthicalFlag = "Safe"
	FlagFlagged EthicalFlag = "Flagged"
	FlagBlocked EthicalFlag = "Blocked"
)

// SectionEvaluation records the gate outcome for one generated section.
type SectionEvaluation struct {
	EthicalFlag EthicalFlag `json:"ethical_flag"`
	Confidence  float64     `json:"confidence"`
}

// Document is the final persisted report artifact, one per
// (user, year, month). It is written whole and overwritten on regeneration;
// downstream consumers read it as-is.
type Document struct {
	UserID      string     `json:"user_id"`
	Year        int        `json:"year"`
	Month       time.Month `json:"month"`
	MonthName   string     `json:"month_name"`
	GeneratedAt time.Time  `json:"generated_at"`

	// Sections maps section name to generated narrative text. Every section
	// the schema requires is present and non-empty.
	Sections map[string]string `json:"sections"`

	// EthicalFlag is the overall gate outcome; Confidence the classifier
	// confidence behind it. Blocked documents are never persisted.
	EthicalFlag EthicalFlag `json:"ethical_flag"`
	Confidence  float64     `json:"confidence"`

	// Evaluation holds the per-section gate outcomes.
	Evaluation map[string]SectionEvaluation `json:"evaluation"`
}
