package report

// SectionSpec names a required report section and bounds its size.
type SectionSpec struct {
	Name      string `yaml:"name"`
	MaxLength int    `yaml:"max_length"`
}

// Schema is the ordered list of sections every report must contain.
type Schema struct {
	Sections []SectionSpec `yaml:"sections"`
}

const defaultMaxSectionLength = 4000

// DefaultSchema returns the standard three-section report layout.
func DefaultSchema() Schema {
	return Schema{Sections: []SectionSpec{
		{Name: SectionExecutiveSummary, MaxLength: defaultMaxSectionLength},
		{Name: SectionSpendingPatterns, MaxLength: defaultMaxSectionLength},
		{Name: SectionRecommendations, MaxLength: defaultMaxSectionLength},
	}}
}

const (
	SectionExecutiveSummary = "executive_summary"
	SectionSpendingPatterns = "spending_patterns"
	SectionRecommendations  = "recommendations"
)

// Names returns the section names in schema order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Sections))
	for i, sec := range s.Sections {
		names[i] = sec.Name
	}
	return names
}
