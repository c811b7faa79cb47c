package remittance

import "strings"

// Classification is the classifier's verdict on a denial.
type Classification struct {
	Category   string  `json:"category"`
	Action     string  `json:"recommended_action"`
	Confidence float64 `json:"confidence"`
}

// carcTable maps the CARC codes payers actually send to a category and a
// default action. Codes outside the table fall through to reason-text
// matching.
var carcTable = map[string]Classification{
	"16":  {Category: CategoryMissingInformation, Action: ActionResubmit, Confidence: 0.95},
	"18":  {Category: CategoryDuplicateClaim, Action: ActionManualReview, Confidence: 0.95},
	"29":  {Category: CategoryTimelyFiling, Action: ActionAppeal, Confidence: 0.9},
	"50":  {Category: CategoryMedicalNecessity, Action: ActionAppeal, Confidence: 0.9},
	"96":  {Category: CategoryNotCovered, Action: ActionAppeal, Confidence: 0.85},
	"109": {Category: CategoryEligibilityIssue, Action: ActionManualReview, Confidence: 0.85},
	"181": {Category: CategoryCodingError, Action: ActionResubmit, Confidence: 0.9},
	"197": {Category: CategoryAuthorizationRequired, Action: ActionAppeal, Confidence: 0.9},
}

type reasonPattern struct {
	substrings []string
	verdict    Classification
}

var reasonPatterns = []reasonPattern{
	{[]string{"missing documentation", "missing information", "incomplete"},
		Classification{CategoryMissingInformation, ActionResubmit, 0.7}},
	{[]string{"not medically necessary", "medical necessity"},
		Classification{CategoryMedicalNecessity, ActionAppeal, 0.7}},
	{[]string{"duplicate"},
		Classification{CategoryDuplicateClaim, ActionManualReview, 0.7}},
	{[]string{"authorization", "pre-auth", "preauth"},
		Classification{CategoryAuthorizationRequired, ActionAppeal, 0.65}},
	{[]string{"timely", "filing limit"},
		Classification{CategoryTimelyFiling, ActionAppeal, 0.65}},
	{[]string{"invalid code", "coding", "modifier"},
		Classification{CategoryCodingError, ActionResubmit, 0.65}},
	{[]string{"not covered", "non-covered", "excluded"},
		Classification{CategoryNotCovered, ActionAppeal, 0.6}},
	{[]string{"eligib", "coverage terminated"},
		Classification{CategoryEligibilityIssue, ActionManualReview, 0.6}},
}

// Classify determines the denial category and recommended action from the
// CARC code, falling back to reason-text matching, then to manual review.
func Classify(carcCode, reason string) Classification {
	if v, ok := carcTable[strings.TrimSpace(carcCode)]; ok {
		return v
	}
	lower := strings.ToLower(reason)
	for _, p := range reasonPatterns {
		for _, sub := range p.substrings {
			if strings.Contains(lower, sub) {
				return p.verdict
			}
		}
	}
	return Classification{Category: CategoryOther, Action: ActionManualReview, Confidence: 0.3}
}
