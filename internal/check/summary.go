package check

// Summary aggregates the results of a run.
type Summary struct {
	Total          int `json:"total" yaml:"total"`
	Passed         int `json:"passed" yaml:"passed"`
	Failed         int `json:"failed" yaml:"failed"`
	RequiredFailed int `json:"required_failed" yaml:"required_failed"`
}

// Summarize counts passed and failed results.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Passed() {
			s.Passed++
			continue
		}
		s.Failed++
		if r.Required {
			s.RequiredFailed++
		}
	}
	return s
}

// OK reports whether every result passed.
func (s Summary) OK() bool {
	return s.Failed == 0
}
