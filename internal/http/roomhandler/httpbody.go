package roomhandler

import "syncrelay/internal/relay"

type ListRoomsQuery struct {
	Limit  int `form:"limit"  binding:"omitempty,min=0,max=500" example:"50"`
	Offset int `form:"offset" binding:"omitempty,min=0"         example:"0"`
}

type ListRoomsResponse struct {
	Total int              `json:"total" example:"2"`
	Rooms []relay.RoomInfo `json:"rooms"`
} // @name ListRoomsResponse

type ErrorResponse struct {
	Error string `json:"error" example:"room not found"`
} // @name ErrorResponse
