package usage

import "time"

// Record aggregates the consumption of one resource over a day.
type Record struct {
	ResourceID string    `json:"resource_id"`
	Date       time.Time `json:"date"`
	Consumed   int       `json:"consumed"`
	// Records counts the consumption records folded into the day.
	Records int `json:"records"`
}

// PerRecord returns the mean quantity consumed per record.
func (r Record) PerRecord() float64 {
	if r.Records == 0 {
		return 0
	}
	return float64(r.Consumed) / float64(r.Records)
}
