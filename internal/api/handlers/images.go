package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/eventfaces/internal/faceindex"
	"github.com/your-org/eventfaces/internal/storage"
	"github.com/your-org/eventfaces/pkg/dto"
)

// UploadField is the multipart field carrying event photos.
const UploadField = "images"

type ImageHandler struct {
	registry *faceindex.Registry
	// maxUpload caps the request body in bytes. Zero disables the cap.
	maxUpload int64
}

func NewImageHandler(registry *faceindex.Registry, maxUpload int64) *ImageHandler {
	return &ImageHandler{registry: registry, maxUpload: maxUpload}
}

// Upload ingests every file of the multipart field "images" into the event,
// creating the event on first use. Per-file problems are reported in the
// response and never fail the whole request.
func (h *ImageHandler) Upload(c *gin.Context) {
	eventID := c.Param("event")
	if err := faceindex.ValidateEventID(eventID); err != nil {
		respondError(c, err)
		return
	}

	form, ok := parseMultipart(c, h.maxUpload)
	if !ok {
		return
	}

	files := form.File[UploadField]
	if len(files) == 0 {
		badRequest(c, "at least one file is required in field "+UploadField)
		return
	}

	batch := make([]faceindex.Upload, 0, len(files))
	var unreadable []dto.UploadFailure
	for _, fh := range files {
		data, err := readPart(fh)
		if err != nil {
			unreadable = append(unreadable, dto.UploadFailure{Filename: fh.Filename, Error: err.Error(), Code: "unreadable"})
			continue
		}
		batch = append(batch, faceindex.Upload{Filename: fh.Filename, Data: data})
	}

	store, created, err := h.registry.CreateOrGet(c.Request.Context(), eventID)
	if err != nil {
		respondError(c, err)
		return
	}

	report := store.AddImages(c.Request.Context(), batch)

	resp := dto.UploadResponse{
		EventID:    eventID,
		Created:    created,
		Accepted:   report.Accepted,
		FacesFound: report.FacesFound,
		ImageIDs:   report.ImageIDs,
		Failures:   unreadable,
	}
	if resp.ImageIDs == nil {
		resp.ImageIDs = []string{}
	}
	for _, f := range report.Failures {
		_, code := errorKind(f.Err)
		resp.Failures = append(resp.Failures, dto.UploadFailure{Filename: f.Filename, Error: f.Err.Error(), Code: code})
	}
	if resp.Failures == nil {
		resp.Failures = []dto.UploadFailure{}
	}

	c.JSON(http.StatusOK, resp)
}

func (h *ImageHandler) List(c *gin.Context) {
	store, err := h.registry.Get(c.Param("event"))
	if err != nil {
		respondError(c, err)
		return
	}

	ids := store.ListImages()
	resp := make([]dto.ImageResponse, 0, len(ids))
	for _, id := range ids {
		rec, err := store.Image(id)
		if err != nil {
			// Removed since ListImages.
			continue
		}
		resp = append(resp, dto.ImageResponse{
			ID:         rec.ImageID,
			Faces:      rec.FaceCount(),
			StoredPath: rec.StoredPath,
			IngestedAt: rec.IngestedAt.Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, dto.ImageListResponse{EventID: store.ID(), Images: resp, Total: len(resp)})
}

// Get serves the stored bytes of one image.
func (h *ImageHandler) Get(c *gin.Context) {
	store, imageID, err := h.lookup(c)
	if err != nil {
		respondError(c, err)
		return
	}

	data, err := store.ImageBytes(c.Request.Context(), imageID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, storage.DetectContentType(data), data)
}

func (h *ImageHandler) Delete(c *gin.Context) {
	store, imageID, err := h.lookup(c)
	if err != nil {
		respondError(c, err)
		return
	}

	if err := store.RemoveImage(c.Request.Context(), imageID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *ImageHandler) lookup(c *gin.Context) (*faceindex.EventStore, string, error) {
	store, err := h.registry.Get(c.Param("event"))
	if err != nil {
		return nil, "", err
	}
	imageID := c.Param("image")
	if id, err := faceindex.ImageIDFromFilename(imageID); err != nil || id != imageID {
		return nil, "", fmt.Errorf("%w: %q", faceindex.ErrInvalidImageID, imageID)
	}
	return store, imageID, nil
}

// parseMultipart reads the request as a multipart form with the body capped
// at maxUpload bytes (zero disables the cap). On failure it writes the error
// response and returns false.
func parseMultipart(c *gin.Context, maxUpload int64) (*multipart.Form, bool) {
	if maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUpload)
	}
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{
				Error: fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit),
				Code:  "too_large",
			})
			return nil, false
		}
		badRequest(c, "multipart form required")
		return nil, false
	}
	return form, true
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	return data, nil
}
