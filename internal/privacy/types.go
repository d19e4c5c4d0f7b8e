package privacy

import "github.com/raaihank/contract-sentinel/internal/sensitive"

// Mode selects how ProcessText rewrites scanned text
type Mode string

const (
	ModeMask      Mode = "mask"
	ModeAnonymize Mode = "anonymize"
	ModeNone      Mode = "none"
)

// Finding summarizes the detections of one type
type Finding struct {
	EntityType sensitive.Type `json:"entityType"`
	Count      int            `json:"count"`
	Positions  []int          `json:"positions,omitempty"`
}

// ProcessResult contains the result of processing text through the detector
type ProcessResult struct {
	Items      []sensitive.Item `json:"items"`
	Report     sensitive.Report `json:"report"`
	Findings   []Finding        `json:"findings"`
	Mode       Mode             `json:"mode"`
	MaskedText string           `json:"maskedText"`
	Original   string           `json:"-"` // Never serialize original text
}

// HasFindings reports whether anything was detected
func (r ProcessResult) HasFindings() bool {
	return len(r.Items) > 0
}
