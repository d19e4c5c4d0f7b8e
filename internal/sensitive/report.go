package sensitive

import (
	"fmt"
	"sort"
)

// Thresholds and tiers of the risk classification. Kept as shipped; changing
// them changes how stored reports compare.
const mediumRiskCount = 5

var (
	criticalTypes = map[Type]bool{
		TypeSocialSecurity: true,
		TypeCreditCard:     true,
		TypeBankAccount:    true,
	}
	highTypes = map[Type]bool{
		TypeNationalID:  true,
		TypeEmail:       true,
		TypePhoneNumber: true,
		TypeSalary:      true,
	}
)

// Recommendation texts.
const (
	NoDataMessage = "No sensitive data detected. The document can be shared as is."

	headlineCritical = "Critical data detected: mask or remove it before sending the contract for analysis."
	headlineHigh     = "Personal data detected: review the highlighted items before sharing the contract."
	headlineMedium   = "Several sensitive items detected: consider masking them before sharing."
	headlineLow      = "Few sensitive items detected: a quick review is enough."
)

// adviceOrder lists per-type advice in bank order. Types sharing a message
// (contact details, addresses) produce it once.
var adviceOrder = []struct {
	types  []Type
	advice string
}{
	{[]Type{TypeSocialSecurity}, "Mask social security numbers."},
	{[]Type{TypeCreditCard}, "Remove credit card numbers; they must never be shared in clear text."},
	{[]Type{TypeBankAccount}, "Mask bank account numbers (IBAN)."},
	{[]Type{TypeNationalID}, "Mask national identification numbers."},
	{[]Type{TypeEmail, TypePhoneNumber}, "Anonymize contact details (email addresses, phone numbers)."},
	{[]Type{TypeAddress, TypePostalCode}, "Anonymize postal addresses."},
	{[]Type{TypeNameWithTitle}, "Replace personal names with placeholders."},
	{[]Type{TypeDateOfBirth}, "Mask dates of birth."},
	{[]Type{TypeSalary}, "Salary amounts are confidential; mask them unless they are needed for the analysis."},
	{[]Type{TypeCompanyRegistration}, "Company registration numbers are usually public; keep them if they identify a party."},
	{[]Type{TypeLicensePlate}, "Mask vehicle license plates."},
}

// ClassifyRisk derives the risk level of items.
func ClassifyRisk(items []Item) RiskLevel {
	high := false
	for _, it := range items {
		if criticalTypes[it.Type] {
			return RiskCritical
		}
		if highTypes[it.Type] {
			high = true
		}
	}

	switch {
	case high:
		return RiskHigh
	case len(items) > mediumRiskCount:
		return RiskMedium
	default:
		return RiskLow
	}
}

// BuildReport summarizes a resolved item list. It never fails; an empty
// list yields a LOW report with the no-data message.
func BuildReport(items []Item) Report {
	byType := make(map[Type]int)
	for _, it := range items {
		byType[it.Type]++
	}

	kept := make([]Item, len(items))
	copy(kept, items)

	level := ClassifyRisk(items)
	return Report{
		Total:           len(items),
		ByType:          byType,
		RiskLevel:       level,
		Recommendations: recommendations(byType, level, len(items)),
		Items:           kept,
	}
}

func recommendations(byType map[Type]int, level RiskLevel, total int) []string {
	if total == 0 {
		return []string{NoDataMessage}
	}

	recs := []string{headline(level)}

	known := make(map[Type]bool)
	for _, a := range adviceOrder {
		present := false
		for _, t := range a.types {
			known[t] = true
			if byType[t] > 0 {
				present = true
			}
		}
		if present {
			recs = append(recs, a.advice)
		}
	}

	// Custom types, in a stable order.
	var unknown []Type
	for t := range byType {
		if !known[t] {
			unknown = append(unknown, t)
		}
	}
	sort.Slice(unknown, func(i, j int) bool { return unknown[i] < unknown[j] })
	for _, t := range unknown {
		recs = append(recs, fmt.Sprintf("Review items of type %s.", t))
	}

	return recs
}

func headline(level RiskLevel) string {
	switch level {
	case RiskCritical:
		return headlineCritical
	case RiskHigh:
		return headlineHigh
	case RiskMedium:
		return headlineMedium
	default:
		return headlineLow
	}
}
