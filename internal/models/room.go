package models

import "time"

type Room struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	CreatedBy string    `json:"createdBy"`
	UserCount int       `json:"userCount"`
}

// Presence is one entry in a room's live participant set, keyed by subject id.
type Presence struct {
	SubjectID string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	LastSeen  time.Time `json:"lastSeen"`
}

// Identity is a verified (subject, display name) pair.
type Identity struct {
	SubjectID   string
	DisplayName string
}

type Snapshot struct {
	Drawings []DrawingOp
	Presence []Presence
}
