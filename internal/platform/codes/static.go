package codes

import (
	"context"
	"strings"
	"sync"
)

type staticEntry struct {
	description     string
	typicalPrice    float64
	requiresPreauth bool
}

// StaticLookup serves code validation from in-memory tables. It is the
// default lookup when no CODE_LOOKUP_URL is configured and backs the remote
// lookup's test double.
type StaticLookup struct {
	mu     sync.RWMutex
	tables map[string]map[string]staticEntry
}

// NewStaticLookup returns a lookup seeded with common ICD-10 diagnosis codes
// and CPT procedure codes.
func NewStaticLookup() *StaticLookup {
	return &StaticLookup{
		tables: map[string]map[string]staticEntry{
			SystemICD10: {
				"E11.9":   {description: "Type 2 diabetes mellitus without complications"},
				"I10":     {description: "Essential (primary) hypertension"},
				"J45.909": {description: "Unspecified asthma, uncomplicated"},
				"M54.5":   {description: "Low back pain"},
				"N39.0":   {description: "Urinary tract infection, site not specified"},
				"R07.9":   {description: "Chest pain, unspecified"},
				"Z00.00":  {description: "General adult medical examination without abnormal findings"},
			},
			SystemCPT: {
				"99213": {description: "Office visit, established patient, low complexity", typicalPrice: 125},
				"99214": {description: "Office visit, established patient, moderate complexity", typicalPrice: 185},
				"80053": {description: "Comprehensive metabolic panel", typicalPrice: 48},
				"85025": {description: "Complete blood count with differential", typicalPrice: 35},
				"71046": {description: "Chest X-ray, 2 views", typicalPrice: 110},
				"70553": {description: "MRI brain with and without contrast", typicalPrice: 1450, requiresPreauth: true},
				"29881": {description: "Knee arthroscopy with meniscectomy", typicalPrice: 3200, requiresPreauth: true},
				"45378": {description: "Colonoscopy, diagnostic", typicalPrice: 950, requiresPreauth: true},
			},
		},
	}
}

// Add registers or replaces a code entry. Used by payer-specific seeding and
// tests.
func (l *StaticLookup) Add(system, code, description string, typicalPrice float64, requiresPreauth bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	table, ok := l.tables[system]
	if !ok {
		table = make(map[string]staticEntry)
		l.tables[system] = table
	}
	table[code] = staticEntry{description: description, typicalPrice: typicalPrice, requiresPreauth: requiresPreauth}
}

func (l *StaticLookup) Validate(_ context.Context, system, code string) (*CodeInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	system = strings.ToLower(system)
	info := &CodeInfo{Code: code, System: system}

	table, ok := l.tables[system]
	if !ok {
		return info, nil
	}
	entry, ok := table[code]
	if !ok {
		return info, nil
	}

	info.Valid = true
	info.Description = entry.description
	info.TypicalPrice = entry.typicalPrice
	info.RequiresPreauth = entry.requiresPreauth
	return info, nil
}
