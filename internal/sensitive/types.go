// Package sensitive detects, resolves and redacts personal and financial data
// in free-text contract content.
//
// The pipeline is Pattern Bank -> Match -> Resolve -> {Mask, Anonymize,
// Highlights, BuildReport}. Every function is pure: the input text is never
// modified and no state is kept between calls, so a single Bank can be shared
// by any number of goroutines.
package sensitive

// Type identifies a category of sensitive data. The set is open: callers may
// create their own types, which rank lowest when overlaps are resolved.
type Type string

const (
	TypeEmail               Type = "Email"
	TypePhoneNumber         Type = "Phone Number"
	TypeSocialSecurity      Type = "Social Security Number"
	TypeCreditCard          Type = "Credit Card"
	TypeBankAccount         Type = "Bank Account"
	TypeAddress             Type = "Address"
	TypeNameWithTitle       Type = "Name with Title"
	TypeCompanyRegistration Type = "Company Registration"
	TypePostalCode          Type = "Postal Code"
	TypeDateOfBirth         Type = "Date of Birth"
	TypeSalary              Type = "Salary"
	TypeNationalID          Type = "National ID"
	TypeLicensePlate        Type = "License Plate"
)

// Item is one detected occurrence of sensitive data.
//
// Index and Length are byte offsets into the scanned string, and
// text[Index:Index+Length] == Value.
type Item struct {
	Type    Type   `json:"type"`
	Index   int    `json:"index"`
	Length  int    `json:"length"`
	Value   string `json:"value"`
	Context string `json:"context,omitempty"`
}

// End returns the exclusive end offset of the item's span.
func (it Item) End() int {
	return it.Index + it.Length
}

// Overlaps reports whether the spans of it and other intersect.
func (it Item) Overlaps(other Item) bool {
	return it.Index < other.Index+other.Length && it.Index+it.Length > other.Index
}

// valid reports whether the item describes a usable span.
func (it Item) valid() bool {
	return it.Index >= 0 && it.Length > 0
}

// Within reports whether the span of it lies inside text. Written so that
// huge offsets cannot overflow Index+Length.
func (it Item) Within(text string) bool {
	return it.valid() && it.Index <= len(text) && it.Length <= len(text)-it.Index
}

// RiskLevel is the aggregate classification of a list of items.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Rank orders risk levels so they can be compared.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskCritical:
		return 3
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// Report is the read model derived from a resolved item list.
type Report struct {
	Total           int          `json:"total"`
	ByType          map[Type]int `json:"byType"`
	RiskLevel       RiskLevel    `json:"riskLevel"`
	Recommendations []string     `json:"recommendations"`
	Items           []Item       `json:"items"`
}
