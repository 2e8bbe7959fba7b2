package severity

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Report is the structured output of the compatibility analyzer.
//
// Example:
//
//	{
//	  "old_version": "0.1.0",
//	  "new_version": "0.1.1",
//	  "changes": {
//	    "path_changes": [],
//	    "changes": [{"name": "testa", "max_category": "Breaking", ...}],
//	    "max_category": "Breaking"
//	  }
//	}
type Report struct {
	OldVersion string    `json:"old_version"`
	NewVersion string    `json:"new_version"`
	Changes    ChangeSet `json:"changes"`
}

// ChangeSet carries the overall category. The itemized change lists are kept
// verbatim and never interpreted.
type ChangeSet struct {
	MaxCategory Category        `json:"max_category"`
	PathChanges json.RawMessage `json:"path_changes"`
	Changes     json.RawMessage `json:"changes"`
}

// ParseError means the analyzer output did not have the expected shape.
type ParseError struct {
	Field string // empty when the payload is not valid JSON at all
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("parsing analysis report: %v", e.Err)
	}
	return fmt.Sprintf("parsing analysis report: %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var errMissing = errors.New("missing or null")

type rawReport struct {
	OldVersion *string       `json:"old_version"`
	NewVersion *string       `json:"new_version"`
	Changes    *rawChangeSet `json:"changes"`
}

type rawChangeSet struct {
	MaxCategory *Category       `json:"max_category"`
	PathChanges json.RawMessage `json:"path_changes"`
	Changes     json.RawMessage `json:"changes"`
}

// Parse decodes raw analyzer output. Every field of the report shape must be
// present; there is no fallback category.
func Parse(data []byte) (*Report, error) {
	var raw rawReport
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{Err: err}
	}

	switch {
	case raw.OldVersion == nil:
		return nil, &ParseError{Field: "old_version", Err: errMissing}
	case raw.NewVersion == nil:
		return nil, &ParseError{Field: "new_version", Err: errMissing}
	case raw.Changes == nil:
		return nil, &ParseError{Field: "changes", Err: errMissing}
	case raw.Changes.MaxCategory == nil:
		return nil, &ParseError{Field: "changes.max_category", Err: errMissing}
	case isAbsent(raw.Changes.PathChanges):
		return nil, &ParseError{Field: "changes.path_changes", Err: errMissing}
	case isAbsent(raw.Changes.Changes):
		return nil, &ParseError{Field: "changes.changes", Err: errMissing}
	}

	return &Report{
		OldVersion: *raw.OldVersion,
		NewVersion: *raw.NewVersion,
		Changes: ChangeSet{
			MaxCategory: *raw.Changes.MaxCategory,
			PathChanges: raw.Changes.PathChanges,
			Changes:     raw.Changes.Changes,
		},
	}, nil
}

// Classify returns the overall category of raw analyzer output.
func Classify(data []byte) (Category, error) {
	report, err := Parse(data)
	if err != nil {
		return 0, err
	}
	return report.Changes.MaxCategory, nil
}

func isAbsent(m json.RawMessage) bool {
	return len(m) == 0 || string(m) == "null"
}
