package dto

type ImageResponse struct {
	ID         string `json:"id"`
	Faces      int    `json:"faces"`
	StoredPath string `json:"stored_path"`
	IngestedAt string `json:"ingested_at"`
}

type ImageListResponse struct {
	EventID string          `json:"event_id"`
	Images  []ImageResponse `json:"images"`
	Total   int             `json:"total"`
}

type UploadFailure struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
	Code     string `json:"code"`
}

// UploadResponse reports a batch upload. Files listed in Failures with code
// extraction_failed were still stored and count towards Accepted.
type UploadResponse struct {
	EventID    string          `json:"event_id"`
	Created    bool            `json:"created"`
	Accepted   int             `json:"accepted"`
	FacesFound int             `json:"faces_found"`
	ImageIDs   []string        `json:"image_ids"`
	Failures   []UploadFailure `json:"failures"`
}
