package http

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/dkeye/devrooms/internal/app/orch"
	"github.com/dkeye/devrooms/internal/core"
	"github.com/dkeye/devrooms/internal/domain"
	"github.com/gin-gonic/gin"
)

// Handlers expose the room operations over HTTP. The actor always comes
// from IdentityMiddleware, never from the request body.
type Handlers struct {
	Orch     *orch.Orchestrator
	Notifier core.Notifier
}

func NewHandlers(o *orch.Orchestrator, n core.Notifier) *Handlers {
	return &Handlers{Orch: o, Notifier: n}
}

func roomID(c *gin.Context) domain.RoomID {
	return domain.RoomID(c.Param("id"))
}

func respondRoom(c *gin.Context, status int, room domain.Room) {
	c.JSON(status, gin.H{"success": true, "room": room})
}

func badRequest(c *gin.Context, err error) {
	writeServiceError(c, fmt.Errorf("%w: %v", domain.ErrInvalidRoom, err))
}

func (h *Handlers) Create(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	room, err := h.Orch.Registry.Create(c.Request.Context(), currentUser(c), req.spec())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	respondRoom(c, http.StatusCreated, room)
}

func (h *Handlers) List(c *gin.Context) {
	active, _ := strconv.ParseBool(c.Query("active"))
	f := domain.Filter{Query: c.Query("q"), Tags: c.QueryArray("tag"), Active: active}
	rooms, err := h.Orch.Registry.List(c.Request.Context(), f)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "rooms": rooms})
}

func (h *Handlers) Get(c *gin.Context) {
	room, err := h.Orch.Registry.Get(c.Request.Context(), roomID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	respondRoom(c, http.StatusOK, room)
}

func (h *Handlers) Join(c *gin.Context) {
	room, err := h.Orch.Join(c.Request.Context(), roomID(c), currentUser(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	respondRoom(c, http.StatusOK, room)
}

func (h *Handlers) JoinRandom(c *gin.Context) {
	room, err := h.Orch.JoinRandom(c.Request.Context(), currentUser(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	respondRoom(c, http.StatusOK, room)
}

func (h *Handlers) Leave(c *gin.Context) {
	room, err := h.Orch.Leave(c.Request.Context(), roomID(c), currentUser(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	respondRoom(c, http.StatusOK, room)
}

func (h *Handlers) Bind(c *gin.Context) {
	handle, err := h.Orch.Bind(c.Request.Context(), roomID(c), currentUser(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sessionHandle": handle})
}

func (h *Handlers) Token(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	tok, err := h.Orch.IssueToken(c.Request.Context(), domain.RoomID(req.RoomID), currentUser(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"token":         tok.Token,
		"sessionHandle": tok.SessionHandle,
		"expiresAt":     tok.ExpiresAt,
	})
}

func (h *Handlers) Terminate(c *gin.Context) {
	ack, err := h.Orch.Terminate(c.Request.Context(), roomID(c), currentUser(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "room": ack.Room, "sessionEnded": ack.SessionEnded})
}

func (h *Handlers) SetStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	to, err := domain.ParseStatus(req.Status)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	room, err := h.Orch.SetStatus(c.Request.Context(), roomID(c), currentUser(c), to)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	respondRoom(c, http.StatusOK, room)
}
