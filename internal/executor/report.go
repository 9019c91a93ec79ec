package executor

// Failure describes one failed call in a Report.
type Failure struct {
	Index  int    `json:"index"`
	Worker string `json:"worker,omitempty"`
	Error  string `json:"error"`
}

// Report summarises a batch that is allowed to partially fail.
type Report struct {
	Total        int       `json:"total"`
	Succeeded    int       `json:"succeeded"`
	Failed       int       `json:"failed"`
	SuccessRatio float64   `json:"successRatio"`
	Failures     []Failure `json:"failures,omitempty"`
}

// PartialSuccess reports whether some but not all calls succeeded.
func (r Report) PartialSuccess() bool {
	return r.Succeeded > 0 && r.Failed > 0
}

// Summarize counts outcomes. An empty batch has a ratio of zero.
func Summarize(outcomes []Outcome) Report {
	r := Report{Total: len(outcomes)}
	for _, o := range outcomes {
		if o.Err == nil {
			r.Succeeded++
			continue
		}
		r.Failed++
		r.Failures = append(r.Failures, Failure{Index: o.Index, Worker: o.Worker, Error: o.Err.Error()})
	}
	if r.Total > 0 {
		r.SuccessRatio = float64(r.Succeeded) / float64(r.Total)
	}
	return r
}
