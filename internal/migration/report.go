package migration

// Report is the full output of one migration run, assembled once and
// never mutated after return.
type Report struct {
	Strategy Strategy `json:"strategy"`
	// Total spans the whole migration including any pre-cutover copy
	// and destination boot time.
	Total Window `json:"total_window"`
	// Downtime spans detaching the alias from the source to attaching
	// it to the destination; no replica serves clients inside it.
	Downtime Window `json:"downtime_window"`
	// InitialCopy spans the precopy background transfer. Zero for
	// strategies without one.
	InitialCopy Window `json:"initial_copy_window"`

	Consistency Consistency `json:"consistency"`

	// Aborted is set when a phase failed; windows are zero and the
	// consistency diff is the abort sentinel.
	Aborted     bool   `json:"aborted,omitempty"`
	FailedPhase string `json:"failed_phase,omitempty"`
}

// abortedReport is what a failed phase returns instead of fabricated
// windows.
func abortedReport(strategy Strategy, phase string) Report {
	return Report{
		Strategy:    strategy,
		Consistency: AbortedConsistency(),
		Aborted:     true,
		FailedPhase: phase,
	}
}
