package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/eventfaces/internal/faceindex"
	"github.com/your-org/eventfaces/pkg/dto"
)

type EventHandler struct {
	registry *faceindex.Registry
}

func NewEventHandler(registry *faceindex.Registry) *EventHandler {
	return &EventHandler{registry: registry}
}

func (h *EventHandler) List(c *gin.Context) {
	ids := h.registry.List()

	resp := make([]dto.EventResponse, 0, len(ids))
	for _, id := range ids {
		store, err := h.registry.Get(id)
		if err != nil {
			// Deleted since List.
			continue
		}
		resp = append(resp, eventResponse(store))
	}

	c.JSON(http.StatusOK, dto.EventListResponse{Events: resp, Total: len(resp)})
}

// Put creates the event if it does not exist yet.
func (h *EventHandler) Put(c *gin.Context) {
	store, created, err := h.registry.CreateOrGet(c.Request.Context(), c.Param("event"))
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, eventResponse(store))
}

func (h *EventHandler) Get(c *gin.Context) {
	store, err := h.registry.Get(c.Param("event"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, eventResponse(store))
}

// Delete removes the event together with every stored image and embedding.
func (h *EventHandler) Delete(c *gin.Context) {
	if err := h.registry.Delete(c.Request.Context(), c.Param("event")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func eventResponse(store *faceindex.EventStore) dto.EventResponse {
	images, faces := store.Stats()
	return dto.EventResponse{ID: store.ID(), Images: images, Faces: faces}
}
