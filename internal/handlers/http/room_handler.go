package http

import (
	"errors"
	"net/http"

	"meshlink/internal/core/domain"
	"meshlink/internal/core/ports"
	"meshlink/internal/core/services"
	"meshlink/internal/infrastructure/middleware"

	"github.com/gin-gonic/gin"
)

// RoomHandler exposes room lifecycle over HTTP for tooling and dashboards.
// Interactive clients use the websocket events; both paths share the same
// RoomService so the invariants hold either way.
type RoomHandler struct {
	rooms ports.RoomService
	auth  services.AuthService
}

func NewRoomHandler(rooms ports.RoomService, auth services.AuthService) *RoomHandler {
	return &RoomHandler{rooms: rooms, auth: auth}
}

func (h *RoomHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/rooms")
	api.Use(middleware.AuthMiddleware(h.auth))
	{
		api.GET("", h.ListRooms)
		api.POST("", h.CreateRoom)
		api.POST("/:id/join", h.JoinRoom)
		api.POST("/:id/leave", h.LeaveRoom)
	}
}

type CreateRoomRequest struct {
	Name            string `json:"roomName" binding:"required,max=128"`
	RoomID          string `json:"roomId" binding:"max=128"`
	MaxParticipants int    `json:"maxParticipants" binding:"min=0,max=64"`
	IsPrivate       bool   `json:"isPrivate"`
}

func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.rooms.AvailableRooms(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list rooms"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *RoomHandler) CreateRoom(c *gin.Context) {
	userID, ok := middleware.UserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req CreateRoomRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}

	room, err := h.rooms.CreateRoom(c.Request.Context(), domain.CreateRoomRequest{
		Name:            req.Name,
		RoomID:          domain.RoomID(req.RoomID),
		MaxParticipants: req.MaxParticipants,
		IsPrivate:       req.IsPrivate,
		CreatorUserID:   userID,
	})
	if err != nil {
		c.JSON(roomErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"room": room})
}

func (h *RoomHandler) JoinRoom(c *gin.Context) {
	userID, ok := middleware.UserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	room, err := h.rooms.JoinRoom(c.Request.Context(), domain.JoinRoomRequest{
		RoomID: domain.RoomID(c.Param("id")),
		UserID: userID,
	})
	if err != nil {
		c.JSON(roomErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	userID, ok := middleware.UserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	err := h.rooms.LeaveRoom(c.Request.Context(), domain.LeaveRoomRequest{
		RoomID: domain.RoomID(c.Param("id")),
		UserID: userID,
	})
	if err != nil {
		c.JSON(roomErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "left"})
}

func roomErrorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRoomFull),
		errors.Is(err, domain.ErrAlreadyInRoom),
		errors.Is(err, domain.ErrDuplicateRoomID):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
