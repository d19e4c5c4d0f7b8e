// Package contractinfo pulls key facts and clause-level risk hints out of
// contract text. It is heuristic and complements the sensitive data scan.
package contractinfo

import (
	"regexp"
	"strings"
)

// Info holds the key facts found in a contract. Missing facts are empty.
type Info struct {
	ContractType string `json:"contractType,omitempty" yaml:"contract_type,omitempty"`
	Company      string `json:"company,omitempty" yaml:"company,omitempty"`
	Employee     string `json:"employee,omitempty" yaml:"employee,omitempty"`
	StartDate    string `json:"startDate,omitempty" yaml:"start_date,omitempty"`
	Salary       string `json:"salary,omitempty" yaml:"salary,omitempty"`
}

// Empty reports whether nothing was found
func (i Info) Empty() bool {
	return i == Info{}
}

// Severity of a clause risk
type Severity string

const (
	SeverityLow    Severity = "Low"
	SeverityMedium Severity = "Medium"
	SeverityHigh   Severity = "High"
)

// Risk is a clause worth a closer look
type Risk struct {
	Type        string   `json:"type" yaml:"type"`
	Description string   `json:"description" yaml:"description"`
	Severity    Severity `json:"severity" yaml:"severity"`
}

var (
	contractTypeExpr = regexp.MustCompile(`(?i)\b(?:CONTRAT|CONTRACT)\s+DE\s+([^\n]+)`)
	partiesExpr      = regexp.MustCompile(`(?is)Entre les soussignés\s?:(.*?)(?:Article|$)`)
	companyExpr      = regexp.MustCompile(`(?i)Société\s?:\s?([^\n]+)`)
	employeeExpr     = regexp.MustCompile(`(?i)Salarié\(e\)\s?:\s?([^\n]+)`)
	startDateExpr    = regexp.MustCompile(`(?i)(?:à compter du|start date|beginning on|commencing on)\s+(\d{1,2}[\s./-][\p{L}\d]+[\s./-]\d{2,4}|\p{L}+\s+\d{1,2},?\s+\d{2,4})`)
	salaryExpr       = regexp.MustCompile(`(?i)(?:rémunération|salary|compensation).{1,50}?(\d[\d\s.,]*\d)`)
)

// Extract returns the key facts of text
func Extract(text string) Info {
	var info Info
	if text == "" {
		return info
	}

	info.ContractType = firstGroup(contractTypeExpr, text)

	if parties := firstGroup(partiesExpr, text); parties != "" {
		info.Company = firstGroup(companyExpr, parties)
		info.Employee = firstGroup(employeeExpr, parties)
	}

	info.StartDate = firstGroup(startDateExpr, text)
	info.Salary = firstGroup(salaryExpr, text)

	return info
}

func firstGroup(expr *regexp.Regexp, text string) string {
	m := expr.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// rules are checked in order; each contributes at most one risk
var rules = []struct {
	expr *regexp.Regexp
	risk Risk
}{
	{
		regexp.MustCompile(`(?i)non[\s-]concurrence|non[\s-]compete`),
		Risk{"Non-Compete Clause", "Contract contains a non-compete clause that may restrict future employment", SeverityMedium},
	},
	{
		regexp.MustCompile(`(?i)période d['’]essai|probation period|trial period`),
		Risk{"Probation Period", "Contract includes a probation period that may allow termination without notice", SeverityLow},
	},
	{
		regexp.MustCompile(`(?i)termination|dismissal|licenciement|résiliation|rupture`),
		Risk{"Termination Conditions", "Contract specifies conditions for termination that should be reviewed", SeverityMedium},
	},
	{
		regexp.MustCompile(`(?i)intellectual property|propriété intellectuelle|copyright|patent|brevet`),
		Risk{"Intellectual Property", "Contract contains intellectual property clauses that may affect ownership of your work", SeverityHigh},
	},
}

// AnalyzeRisks lists the clause risks present in text
func AnalyzeRisks(text string) []Risk {
	risks := make([]Risk, 0)
	if text == "" {
		return risks
	}

	for _, r := range rules {
		if r.expr.MatchString(text) {
			risks = append(risks, r.risk)
		}
	}
	return risks
}
