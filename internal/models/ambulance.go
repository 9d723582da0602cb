package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	AmbulanceAvailable    = "available"
	AmbulanceEnRoute      = "en-route"
	AmbulanceOnScene      = "on-scene"
	AmbulanceOutOfService = "out-of-service"
)

// Ambulance is one fleet unit. Location is either "lat,lon" or a free-form
// address the dispatch scorer falls back to city-center coordinates for.
type Ambulance struct {
	ID       string `gorm:"column:id;type:text;primaryKey" json:"id"`
	CallSign string `gorm:"column:call_sign;type:text" json:"callSign"`
	Status   string `gorm:"column:status;type:text;index" json:"status"`
	Location string `gorm:"column:location;type:text" json:"location"`

	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz" json:"updatedAt"`
}

func (Ambulance) TableName() string { return "ambulances" }

// DispatchRecord is the audit row written when an ambulance is assigned to a
// call. Breakdown holds the score components as JSONB.
type DispatchRecord struct {
	ID           string         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	CallID       string         `gorm:"column:call_id;type:text;index" json:"callId"`
	AmbulanceID  string         `gorm:"column:ambulance_id;type:text;index" json:"ambulanceId"`
	Score        float64        `gorm:"column:score;type:double precision" json:"score"`
	Breakdown    datatypes.JSON `gorm:"column:breakdown;type:jsonb" json:"breakdown"`
	DispatchedAt time.Time      `gorm:"column:dispatched_at;type:timestamptz;index" json:"dispatchedAt"`
}

func (DispatchRecord) TableName() string { return "dispatch_records" }
