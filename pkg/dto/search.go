package dto

const (
	SearchStatusOK                   = "ok"
	SearchStatusNoEncodingsAvailable = "no_encodings_available"
)

type MatchResponse struct {
	ImageID  string  `json:"image_id"`
	Distance float64 `json:"distance"`
	Faces    int     `json:"faces"`
}

type SearchResponse struct {
	EventID    string          `json:"event_id"`
	Status     string          `json:"status"`
	ProbeFaces int             `json:"probe_faces"`
	Tolerance  float64         `json:"tolerance"`
	Matches    []MatchResponse `json:"matches"`
	Total      int             `json:"total"`
}
