// Package dataset ingests labelled image batches for model training: a set
// of images plus one sheet that describes them.
package dataset

import (
	"time"

	"github.com/google/uuid"
)

type Batch struct {
	ID         uuid.UUID `json:"id"`
	UploadedBy uuid.UUID `json:"uploaded_by"`
	SheetName  string    `json:"sheet_name"`
	SheetRef   string    `json:"sheet_ref"`
	Images     []string  `json:"images"`
	RowCount   int       `json:"row_count"`
	Rows       []Row     `json:"rows,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Row is one sheet line joined to the uploaded image it names.
type Row struct {
	Position  int               `json:"position"`
	ImageName string            `json:"image_name"`
	ImageRef  string            `json:"image_ref"`
	Label     string            `json:"label"`
	Fields    map[string]string `json:"fields"`
}

// File is an uploaded file held in memory.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}
