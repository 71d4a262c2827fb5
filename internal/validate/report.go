package validate

import "time"

// Report is the outcome of one validation run.
type Report struct {
	OK       bool          `json:"ok"`
	Code     string        `json:"code,omitempty"`
	Error    string        `json:"error,omitempty"`
	ItemID   string        `json:"item,omitempty"`
	Checked  int           `json:"checked"`
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"duration"`

	Err error `json:"-"`
}

func newReport(checked int, err error, start time.Time) Report {
	r := Report{
		OK:       err == nil,
		Checked:  checked,
		At:       start.UTC(),
		Duration: time.Since(start),
		Err:      err,
	}
	if err != nil {
		r.Code, r.ItemID = Classify(err)
		r.Error = err.Error()
	}
	return r
}
