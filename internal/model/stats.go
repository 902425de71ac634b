package model

// MessageCount is one entry in the top-messages ranking.
type MessageCount struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// DateCount is one day's bucket in the counts-over-time histogram.
type DateCount struct {
	Date  string `json:"date"` // YYYY-MM-DD
	Count int    `json:"count"`
}

// Stats is the aggregate view over a filtered set of events.
type Stats struct {
	TotalCount        int            `json:"total_count"`
	CountByCategory   map[string]int `json:"count_by_category"`
	CountByURL        map[string]int `json:"count_by_url"`
	TopMessages       []MessageCount `json:"top_messages"`     // at most 5
	CountsOverTime    []DateCount    `json:"counts_over_time"` // daily buckets, ascending
	UniqueSubjects    int            `json:"unique_subjects"`
	AveragePerSubject float64        `json:"average_per_subject"`
}

// FinishAverage derives AveragePerSubject from the totals; zero subjects
// yields zero rather than a division error.
func (s *Stats) FinishAverage() {
	if s.UniqueSubjects > 0 {
		s.AveragePerSubject = float64(s.TotalCount) / float64(s.UniqueSubjects)
	} else {
		s.AveragePerSubject = 0
	}
}
