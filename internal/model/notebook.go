// Package model defines the records persisted by the repository layer.
package model

import "time"

// Notebook is an uploaded .ipynb document. Content is the raw JSON and is
// left empty by list operations.
type Notebook struct {
	Name      string    `json:"name"`
	Content   []byte    `json:"-"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
