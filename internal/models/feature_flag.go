package models

import "time"

// Well-known feature flag keys consumed by the attendance core.
const (
	FlagCountExcusedAsAbsence = "countExcusedAsAbsence"
	FlagGracePeriodMinutes    = "gracePeriodMinutes"
	FlagEarlyOpenMinutes      = "earlyOpenMinutes"
	FlagWebPushEnabled        = "webPushEnabled"
)

// FeatureFlag is a named policy value stored as JSON.
type FeatureFlag struct {
	Key       string    `db:"key" json:"key"`
	ValueJSON []byte    `db:"value_json" json:"value"`
	UpdatedBy *string   `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
