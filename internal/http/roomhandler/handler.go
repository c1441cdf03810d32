package roomhandler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"syncrelay/internal/relay"
)

// RoomSource is the read-only view of the relay used by the handler.
type RoomSource interface {
	Stats() relay.Stats
	Rooms() []relay.RoomInfo
	Room(id string) (relay.RoomInfo, bool)
}

type Handler struct {
	src RoomSource
}

func New(src RoomSource) *Handler { return &Handler{src: src} }

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/stats", h.stats)
	r.GET("/rooms", h.list)
	r.GET("/rooms/:id", h.info)
}

// @Summary		Relay counters
// @Description	Returns the number of rooms, hosts, listeners and open connections.
// @Tags			Rooms
// @Success		200	{object}	relay.Stats
// @Router			/stats [get]
func (h *Handler) stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.src.Stats())
}

// @Summary		List rooms
// @Description	Lists live rooms ordered by id.
// @Tags			Rooms
// @Param			limit	query		int	false	"Max results (0-500, 0 = all)"	minimum(0)	maximum(500)
// @Param			offset	query		int	false	"Offset for pagination"			minimum(0)	default(0)
// @Success		200		{object}	ListRoomsResponse
// @Failure		400		{object}	ErrorResponse
// @Router			/rooms [get]
func (h *Handler) list(c *gin.Context) {
	var q ListRoomsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	rooms := h.src.Rooms()
	total := len(rooms)
	if q.Offset >= total {
		rooms = []relay.RoomInfo{}
	} else {
		rooms = rooms[q.Offset:]
	}
	if q.Limit > 0 && len(rooms) > q.Limit {
		rooms = rooms[:q.Limit]
	}
	c.JSON(http.StatusOK, ListRoomsResponse{Total: total, Rooms: rooms})
}

// @Summary		Get room
// @Description	Returns the membership of a single room.
// @Tags			Rooms
// @Param			id	path		string	true	"Room ID"
// @Success		200	{object}	relay.RoomInfo
// @Failure		404	{object}	ErrorResponse
// @Router			/rooms/{id} [get]
func (h *Handler) info(c *gin.Context) {
	room, ok := h.src.Room(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
		return
	}
	c.JSON(http.StatusOK, room)
}
