package models

import "time"

// Blog is a marketing article. Read-only from the API's point of view;
// rows are seeded or managed out of band.
type Blog struct {
	ID        int64     `db:"id"         json:"id"`
	Title     string    `db:"title"      json:"title"`
	Content   string    `db:"content"    json:"content"`
	ImageURL  *string   `db:"image_url"  json:"image_url,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
