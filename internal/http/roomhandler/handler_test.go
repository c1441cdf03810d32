package roomhandler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syncrelay/internal/relay"
)

type fakeSource struct {
	rooms []relay.RoomInfo
}

func (f *fakeSource) Stats() relay.Stats {
	return relay.Stats{DirectoryStats: relay.DirectoryStats{Rooms: len(f.rooms), Hosts: 1, Listeners: 2}, Connections: 4}
}

func (f *fakeSource) Rooms() []relay.RoomInfo { return f.rooms }

func (f *fakeSource) Room(id string) (relay.RoomInfo, bool) {
	for _, r := range f.rooms {
		if r.ID == id {
			return r, true
		}
	}
	return relay.RoomInfo{}, false
}

func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	src := &fakeSource{rooms: []relay.RoomInfo{
		{ID: "a", HostID: "h", Listeners: []string{"l1", "l2"}, Capacity: 3},
		{ID: "b", Listeners: []string{}, Capacity: 3},
		{ID: "c", Listeners: []string{}, Capacity: 3},
	}}
	e := gin.New()
	New(src).Register(e)
	return e
}

func do(e *gin.Engine, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandler_Stats(t *testing.T) {
	rec := do(newEngine(), "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"rooms":3,"hosts":1,"listeners":2,"connections":4}`, rec.Body.String())
}

func TestHandler_List(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		ids   []string
		total int
	}{
		{"all", "/rooms", []string{"a", "b", "c"}, 3},
		{"limit", "/rooms?limit=2", []string{"a", "b"}, 3},
		{"offset", "/rooms?offset=1&limit=1", []string{"b"}, 3},
		{"past end", "/rooms?offset=10", []string{}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(newEngine(), tt.path)
			require.Equal(t, http.StatusOK, rec.Code)

			var body ListRoomsResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.total, body.Total)
			ids := []string{}
			for _, r := range body.Rooms {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.ids, ids)
		})
	}
}

func TestHandler_ListBadQuery(t *testing.T) {
	rec := do(newEngine(), "/rooms?limit=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Info(t *testing.T) {
	e := newEngine()

	rec := do(e, "/rooms/a")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"a","host":"h","listeners":["l1","l2"],"capacity":3,"has_state":false}`, rec.Body.String())

	rec = do(e, "/rooms/zzz")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"room not found"}`, rec.Body.String())
}
