package domain

import (
	"math"
)

// Counter names accepted by the usage store.
const (
	CounterMaterialsUploaded = "materialsUploaded"
	CounterQuizzesGenerated  = "quizzesGenerated"
	CounterWorksChecked      = "worksChecked"
)

// UsageCounters tracks how often time-saving actions happened.
type UsageCounters struct {
	MaterialsUploaded float64 `json:"materialsUploaded"`
	QuizzesGenerated  float64 `json:"quizzesGenerated"`
	WorksChecked      float64 `json:"worksChecked"`
}

// Sanitize replaces negative or non-finite values with zero.
func (c UsageCounters) Sanitize() UsageCounters {
	return UsageCounters{
		MaterialsUploaded: nonNegative(c.MaterialsUploaded),
		QuizzesGenerated:  nonNegative(c.QuizzesGenerated),
		WorksChecked:      nonNegative(c.WorksChecked),
	}
}

// Field returns a pointer to the named counter, or nil for unknown names.
func (c *UsageCounters) Field(name string) *float64 {
	switch name {
	case CounterMaterialsUploaded:
		return &c.MaterialsUploaded
	case CounterQuizzesGenerated:
		return &c.QuizzesGenerated
	case CounterWorksChecked:
		return &c.WorksChecked
	}
	return nil
}

// Weights is the estimated time in hours saved by one action of each kind.
type Weights struct {
	MaterialUpload float64 `json:"materialUpload"`
	QuizGeneration float64 `json:"quizGeneration"`
	WorkChecked    float64 `json:"workChecked"`
}

// DefaultWeights returns the product defaults.
func DefaultWeights() Weights {
	return Weights{MaterialUpload: 0.2, QuizGeneration: 0.5, WorkChecked: 0.15}
}

// Hours converts counters into saved hours rounded to one decimal place.
func (w Weights) Hours(c UsageCounters) float64 {
	c = c.Sanitize()
	total := c.MaterialsUploaded*w.MaterialUpload +
		c.QuizzesGenerated*w.QuizGeneration +
		c.WorksChecked*w.WorkChecked
	return math.Round(total*10) / 10
}

func nonNegative(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
