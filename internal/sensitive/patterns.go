package sensitive

import "regexp"

// Pattern is a single detector of the bank.
type Pattern struct {
	Type     Type
	Expr     *regexp.Regexp
	Priority int
}

// Bank is an ordered list of patterns. Order matters only for discovery
// order of raw candidates, which decides ties in Resolve.
type Bank []Pattern

// priorities ranks types by sensitivity. Higher wins equal-length overlaps.
var priorities = map[Type]int{
	TypeSocialSecurity:      10,
	TypeCreditCard:          9,
	TypeBankAccount:         8,
	TypeNationalID:          7,
	TypeDateOfBirth:         6,
	TypeEmail:               5,
	TypeSalary:              5,
	TypePhoneNumber:         4,
	TypeAddress:             3,
	TypeNameWithTitle:       2,
	TypeCompanyRegistration: 2,
	TypeLicensePlate:        1,
	TypePostalCode:          0,
}

// Priority returns the overlap rank of t. Unknown types rank 0.
func Priority(t Type) int {
	return priorities[t]
}

// Compiled once; *regexp.Regexp is safe for concurrent use and keeps no
// per-scan cursor.
var (
	emailExpr = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

	// French numbers (06 12 34 56 78, +33 6 12 34 56 78) and 3-3-4 formats.
	phoneExpr = regexp.MustCompile(`(?:\+33[ .]?|\b0)[1-9](?:[ .-]?\d{2}){4}\b|\b(?:\+\d{1,3}[- ]?)?\(?\d{3}\)?[- ]?\d{3}[- ]?\d{4}\b`)

	// French NIR (15 digits with key), the generic grouped form and US SSN.
	ssnExpr = regexp.MustCompile(`\b(?:[12][ ]?\d{2}[ ]?\d{2}[ ]?\d{2}[ ]?\d{3}[ ]?\d{3}[ ]?\d{2}|\d{1,3}[ -]?\d{2}[ -]?\d{2}[ -]?\d{3}[ -]?\d{3}|\d{3}-\d{2}-\d{4})\b`)

	addressExpr = regexp.MustCompile(`(?i)\b\d+\s+[A-Za-z]+\s+(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Drive|Dr|Court|Ct|Lane|Ln|Way|Terrace|Ter|Place|Pl|Square|Sq)[.,]?\s+(?:[A-Za-z]+[.,]?\s+){0,3}(?:\d{5}(?:-\d{4})?)?|\b\d{1,4}(?:\s?(?:bis|ter))?,?\s+(?:rue|avenue|boulevard|bd|place|impasse|allée|chemin|quai|cours)\s+[A-Za-zÀ-ÿ' -]{2,40}(?:,?\s+\d{5}\s+[A-Za-zÀ-ÿ-]+)?`)

	creditCardExpr = regexp.MustCompile(`\b(?:\d{4}[- ]?){3}\d{4}\b`)

	dateOfBirthExpr = regexp.MustCompile(`(?i)\b(?:Born on|Date of Birth|DOB|Née? le)[\s:]+\d{1,2}[-/. ]\d{1,2}[-/. ]\d{2,4}\b`)

	bankAccountExpr = regexp.MustCompile(`\b[A-Z]{2}\d{2}(?: \d{4}){5}(?: \d{1,4})?\b|\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`)

	nationalIDExpr = regexp.MustCompile(`\b\d[ ]?\d{2}[ ]?\d{2}[ ]?\d{2}[ ]?\d{3}[ ]?\d{3}[ ]?\d{2}\b`)

	nameWithTitleExpr = regexp.MustCompile(`\b(?:M\.|Mr\.|Mrs\.|Ms\.|Dr\.|Prof\.|Mme|Mlle)(?:[ ]?[A-Z][a-zÀ-ö]+){1,2}\b`)

	companyRegistrationExpr = regexp.MustCompile(`(?i)\b(?:SIRET|SIREN|RCS(?:\s+[A-Z][a-z]+)?)[\s:n°]*\d{3}[ ]?\d{3}[ ]?\d{3}(?:[ ]?\d{5})?\b`)

	postalCodeExpr = regexp.MustCompile(`\b(?:0[1-9]|[1-8]\d|9[0-8])\d{3}\b`)

	salaryExpr = regexp.MustCompile(`(?i)\b(?:salaire|rémunération|salary|compensation)[^\d\n]{0,40}\d[\d .,]*\d\s?(?:€|EUR|euros?|\$|USD)`)

	licensePlateExpr = regexp.MustCompile(`\b[A-Z]{2}-\d{3}-[A-Z]{2}\b`)
)

var defaultBank = Bank{
	{Type: TypeEmail, Expr: emailExpr},
	{Type: TypePhoneNumber, Expr: phoneExpr},
	{Type: TypeSocialSecurity, Expr: ssnExpr},
	{Type: TypeAddress, Expr: addressExpr},
	{Type: TypeCreditCard, Expr: creditCardExpr},
	{Type: TypeDateOfBirth, Expr: dateOfBirthExpr},
	{Type: TypeBankAccount, Expr: bankAccountExpr},
	{Type: TypeNationalID, Expr: nationalIDExpr},
	{Type: TypeNameWithTitle, Expr: nameWithTitleExpr},
	{Type: TypeCompanyRegistration, Expr: companyRegistrationExpr},
	{Type: TypePostalCode, Expr: postalCodeExpr},
	{Type: TypeSalary, Expr: salaryExpr},
	{Type: TypeLicensePlate, Expr: licensePlateExpr},
}

// DefaultBank returns a copy of the built-in pattern bank with priorities
// filled in.
func DefaultBank() Bank {
	bank := make(Bank, len(defaultBank))
	for i, p := range defaultBank {
		p.Priority = Priority(p.Type)
		bank[i] = p
	}
	return bank
}

// Types returns the types covered by the bank, in bank order.
func (b Bank) Types() []Type {
	types := make([]Type, 0, len(b))
	for _, p := range b {
		types = append(types, p.Type)
	}
	return types
}

// Only returns the patterns of b whose type is listed. Bank order is kept.
func (b Bank) Only(types ...Type) Bank {
	keep := make(map[Type]bool, len(types))
	for _, t := range types {
		keep[t] = true
	}

	subset := make(Bank, 0, len(types))
	for _, p := range b {
		if keep[p.Type] {
			subset = append(subset, p)
		}
	}
	return subset
}

// Has reports whether the bank contains a pattern for t.
func (b Bank) Has(t Type) bool {
	for _, p := range b {
		if p.Type == t {
			return true
		}
	}
	return false
}
