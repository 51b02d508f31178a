package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// EthicalBlock is returned when a report was blocked by the safety gate.
// Nothing is persisted for the user in that case.
type EthicalBlock struct {
	UserID     string
	Confidence float64
}

func (e *EthicalBlock) Error() string {
	return fmt.Sprintf("report for user %s blocked by safety gate (confidence %.2f)", e.UserID, e.Confidence)
}

// AssemblyError reports a structurally invalid report, such as a missing
// required section.
type AssemblyError struct {
	UserID string
	Reason string
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("cannot assemble report for user %s: %s", e.UserID, e.Reason)
}

// PersistenceError wraps a filesystem failure while writing a report.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist report to %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Assembler turns accepted sections plus their gate outcome into the final
// report document and writes it under <root>/<year>/<month name>/. Writes
// are atomic: the document lands complete or not at all, and re-running
// with identical inputs reproduces identical bytes.
type Assembler struct {
	root   string
	schema Schema
	now    func() time.Time
}

// NewAssembler builds an assembler rooted at the given output directory.
func NewAssembler(root string, schema Schema) *Assembler {
	return &Assembler{root: root, schema: schema, now: time.Now}
}

// WithClock pins the timestamp source, mainly for reproducible output in
// tests and backfills.
func (a *Assembler) WithClock(now func() time.Time) *Assembler {
	a.now = now
	return a
}

// AssembleAndSave validates, assembles, and atomically persists one report.
// It refuses blocked reports and reports missing a required section, and
// returns the path of the written document.
func (a *Assembler) AssembleAndSave(userID string, year int, month time.Month, sections map[string]string, overall GateResult, perSection map[string]GateResult) (string, error) {
	if overall.Flag == FlagBlocked {
		return "", &EthicalBlock{UserID: userID, Confidence: overall.Confidence}
	}
	for _, spec := range a.schema.Sections {
		if strings.TrimSpace(sections[spec.Name]) == "" {
			return "", &AssemblyError{UserID: userID, Reason: fmt.Sprintf("section %q is missing", spec.Name)}
		}
	}

	doc := Document{
		UserID:      userID,
		Year:        year,
		Month:       month,
		MonthName:   month.String(),
		GeneratedAt: a.now().UTC(),
		Sections:    sections,
		EthicalFlag: overall.Flag,
		Confidence:  overall.Confidence,
		Evaluation:  make(map[string]SectionEvaluation, len(perSection)),
	}
	for name, res := range perSection {
		doc.Evaluation[name] = SectionEvaluation{EthicalFlag: res.Flag, Confidence: res.Confidence}
	}

	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return "", &AssemblyError{UserID: userID, Reason: err.Error()}
	}
	data = append(data, '\n')

	path := DocumentPath(a.root, userID, year, month)
	if err := writeAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// DocumentPath returns the canonical location of a user's report document.
func DocumentPath(root, userID string, year int, month time.Month) string {
	return filepath.Join(root, strconv.Itoa(year), month.String(), userID+".json")
}

// writeAtomic writes data to a temp file in the target directory and renames
// it into place, so readers never observe a partial document.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &PersistenceError{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &PersistenceError{Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &PersistenceError{Path: path, Err: err}
	}
	return nil
}
