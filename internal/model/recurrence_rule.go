package model

type Frequency string

const (
	Daily    Frequency = "daily"
	Weekly   Frequency = "weekly"
	Biweekly Frequency = "biweekly"
	Monthly  Frequency = "monthly"
	Yearly   Frequency = "yearly"
)

func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Biweekly, Monthly, Yearly:
		return true
	}
	return false
}

type RecurrenceRule struct {
	Frequency      Frequency `json:"frequency"`
	Interval       int       `json:"interval"`
	DaysOfWeek     []int     `json:"days_of_week,omitempty"`  // 0 = Sunday; weekly/biweekly only
	DayOfMonth     int       `json:"day_of_month,omitempty"`  // 1-31; monthly/yearly
	MonthOfYear    int       `json:"month_of_year,omitempty"` // 1-12; yearly
	Unlimited      bool      `json:"unlimited,omitempty"`
	EndDate        string    `json:"end_date,omitempty"`
	MaxOccurrences int       `json:"max_occurrences,omitempty"`
}

func (r RecurrenceRule) Clone() RecurrenceRule {
	c := r
	if r.DaysOfWeek != nil {
		c.DaysOfWeek = append([]int(nil), r.DaysOfWeek...)
	}
	return c
}
