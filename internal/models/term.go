package models

import "time"

// Term models an academic term with its absence warning threshold.
type Term struct {
	ID                      string    `db:"id" json:"id"`
	Name                    string    `db:"name" json:"name"`
	StartDate               time.Time `db:"start_date" json:"start_date"`
	EndDate                 time.Time `db:"end_date" json:"end_date"`
	AbsenceThresholdPercent int       `db:"absence_threshold_percent" json:"absence_threshold_percent"`
	CreatedAt               time.Time `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time `db:"updated_at" json:"updated_at"`
}

// TermFilter defines filters supported by list endpoints.
type TermFilter struct {
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
