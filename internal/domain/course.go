package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CourseID is an opaque course identifier. The remote API emits it either as
// a JSON string or a number; both decode to the same textual form.
type CourseID string

// UnmarshalJSON accepts string and numeric ids.
func (id *CourseID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = CourseID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("course id: %w", err)
	}
	*id = CourseID(n.String())
	return nil
}

// Course is a course returned by the portal API. Only ID is interpreted here.
type Course struct {
	ID    CourseID `json:"id"`
	Title string   `json:"title"`
}

// ContainsCourse reports whether id is present in courses.
func ContainsCourse(courses []Course, id CourseID) bool {
	if id == "" {
		return false
	}
	for _, c := range courses {
		if c.ID == id {
			return true
		}
	}
	return false
}
