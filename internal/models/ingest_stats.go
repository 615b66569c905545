package models

// IngestStats is the tally returned by one ingestion pass. RunsDupsOrReplaced
// counts both the replace and the discard branch of run consolidation; the
// two sub-cases are intentionally not distinguished.
type IngestStats struct {
	Lines              int `json:"lines"`
	RawNew             int `json:"raw_new"`
	RawDup             int `json:"raw_dup"`
	RunsNew            int `json:"runs_new"`
	RunsDupsOrReplaced int `json:"runs_dups_or_replaced"`
}

// Add accumulates another tally into s.
func (s *IngestStats) Add(o IngestStats) {
	s.Lines += o.Lines
	s.RawNew += o.RawNew
	s.RawDup += o.RawDup
	s.RunsNew += o.RunsNew
	s.RunsDupsOrReplaced += o.RunsDupsOrReplaced
}
