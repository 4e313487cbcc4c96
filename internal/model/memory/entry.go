package memory

import "time"

// Entry is a single long-term fact remembered for an owner.
type Entry struct {
	Key       string    `json:"key"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
