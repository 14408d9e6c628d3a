package receipt

import "time"

// Scan is a processed receipt image with its structured result
type Scan struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	StoredPath  string    `json:"stored_path,omitempty"` // Path in the upload archive, empty when not archived
	ContentType string    `json:"content_type"`
	Receipt     string    `json:"receipt"` // Text extracted from the model output
	Summary     Summary   `json:"summary"`
	RegionCount int       `json:"region_count"`
	OCRMillis   int64     `json:"ocr_ms"`
	InferMillis int64     `json:"inference_ms"`
	CreatedAt   time.Time `json:"created_at"`
}
