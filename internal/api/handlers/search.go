package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/your-org/eventfaces/internal/faceindex"
	"github.com/your-org/eventfaces/pkg/dto"
)

// ProbeField is the multipart field carrying the probe photo.
const ProbeField = "image"

type SearchHandler struct {
	engine *faceindex.Engine
	// maxUpload caps the request body in bytes. Zero disables the cap.
	maxUpload int64
}

func NewSearchHandler(engine *faceindex.Engine, maxUpload int64) *SearchHandler {
	return &SearchHandler{engine: engine, maxUpload: maxUpload}
}

// Search finds the event's photos containing the person in the probe image.
// An optional "limit" form or query value truncates the ranked list.
func (h *SearchHandler) Search(c *gin.Context) {
	eventID := c.Param("event")
	if err := faceindex.ValidateEventID(eventID); err != nil {
		respondError(c, err)
		return
	}

	form, ok := parseMultipart(c, h.maxUpload)
	if !ok {
		return
	}

	limit := 0
	if v := c.Request.FormValue("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	files := form.File[ProbeField]
	if len(files) == 0 {
		badRequest(c, "image file required in field "+ProbeField)
		return
	}
	probe, err := readPart(files[0])
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	resp := dto.SearchResponse{
		EventID:   eventID,
		Status:    dto.SearchStatusOK,
		Tolerance: h.engine.Matcher().Tolerance(),
		Matches:   []dto.MatchResponse{},
	}

	res, err := h.engine.Search(c.Request.Context(), eventID, probe, limit)
	if errors.Is(err, faceindex.ErrNoEncodingsAvailable) && res != nil {
		resp.Status = dto.SearchStatusNoEncodingsAvailable
		resp.ProbeFaces = res.ProbeFaces
		c.JSON(http.StatusOK, resp)
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	resp.ProbeFaces = res.ProbeFaces
	for _, m := range res.Matches {
		resp.Matches = append(resp.Matches, dto.MatchResponse{ImageID: m.ImageID, Distance: m.Distance, Faces: m.Faces})
	}
	resp.Total = len(resp.Matches)
	c.JSON(http.StatusOK, resp)
}
