package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/voicemesh/internal/app/directory"
	"github.com/dkeye/voicemesh/internal/app/voice"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeController struct {
	mu        sync.Mutex
	rooms     []domain.Room
	created   []createRoomRequest
	joined    []domain.RoomID
	invited   []domain.UserID
	left      int
	muted     bool
	deafened  bool
	joinErr   error
	createErr error
	inviteErr error
	bus       *voice.Bus
}

func newFakeController() *fakeController {
	return &fakeController{bus: voice.NewBus()}
}

func (f *fakeController) Rooms() []domain.Room { return f.rooms }

func (f *fakeController) CreateRoom(name string, capacity int, owner directory.Owner) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, createRoomRequest{Name: name, Capacity: capacity, ClanID: owner.ClanID, Private: owner.Private})
	return nil
}

func (f *fakeController) Snapshot() voice.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := voice.Snapshot{Self: "me", State: voice.StateIdle, Muted: f.muted, Deafened: f.deafened}
	if len(f.joined) > 0 && f.left == 0 {
		s.State = voice.StateActive
		s.Room = f.joined[len(f.joined)-1]
		s.Links = []voice.LinkInfo{{Peer: "p1", State: voice.LinkConnected}}
	}
	return s
}

func (f *fakeController) JoinRoom(_ context.Context, id domain.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return f.joinErr
	}
	f.joined = append(f.joined, id)
	return nil
}

func (f *fakeController) LeaveRoom() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left++
}

func (f *fakeController) ToggleMute() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = !f.muted
	return f.muted
}

func (f *fakeController) ToggleDeafen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deafened = !f.deafened
	return f.deafened
}

func (f *fakeController) Invite(target domain.UserID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inviteErr != nil {
		return f.inviteErr
	}
	f.invited = append(f.invited, target)
	return nil
}

func (f *fakeController) Events() *voice.Bus { return f.bus }

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRooms(t *testing.T) {
	ctl := newFakeController()
	ctl.rooms = []domain.Room{{ID: "r1", Name: "lobby", Capacity: 8, ParticipantCount: 2}}
	r := SetupRouter(RouterConfig{}, ctl)

	w := do(t, r, http.MethodGet, "/api/rooms", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"rooms":[{"roomId":"r1","name":"lobby","capacity":8,"participantCount":2}]}`, w.Body.String())

	w = do(t, r, http.MethodPost, "/api/rooms", `{"name":"new","capacity":4,"clanId":"c","private":true}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, ctl.created, 1)
	assert.Equal(t, createRoomRequest{Name: "new", Capacity: 4, ClanID: "c", Private: true}, ctl.created[0])

	w = do(t, r, http.MethodPost, "/api/rooms", `{bad`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateRoomErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrRoomNameEmpty, http.StatusBadRequest},
		{domain.ErrCapacityOutOfRange, http.StatusBadRequest},
		{errors.New("relay gone"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		ctl := newFakeController()
		ctl.createErr = tt.err
		w := do(t, SetupRouter(RouterConfig{}, ctl), http.MethodPost, "/api/rooms", `{"name":""}`)
		assert.Equal(t, tt.want, w.Code, tt.err.Error())
	}
}

func TestSessionRoutes(t *testing.T) {
	ctl := newFakeController()
	r := SetupRouter(RouterConfig{}, ctl)

	w := do(t, r, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"idle"`)

	w = do(t, r, http.MethodPost, "/api/session/join", `{"roomId":"r1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var snap map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "active", snap["state"])
	assert.Equal(t, "r1", snap["roomId"])
	assert.Contains(t, w.Body.String(), `"state":"connected"`)

	w = do(t, r, http.MethodPost, "/api/session/join", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/api/session/mute", "")
	assert.JSONEq(t, `{"muted":true}`, w.Body.String())
	w = do(t, r, http.MethodPost, "/api/session/deafen", "")
	assert.JSONEq(t, `{"deafened":true}`, w.Body.String())

	w = do(t, r, http.MethodPost, "/api/session/invite", `{"userId":"p2"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []domain.UserID{"p2"}, ctl.invited)

	w = do(t, r, http.MethodPost, "/api/session/leave", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, ctl.left)
}

func TestJoinErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"capability", &core.CapabilityError{Err: errors.New("no mic")}, http.StatusFailedDependency},
		{"no room", voice.ErrNoRoom, http.StatusBadRequest},
		{"aborted", voice.ErrJoinAborted, http.StatusConflict},
		{"transport", errors.New("relay down"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctl := newFakeController()
			ctl.joinErr = tt.err
			w := do(t, SetupRouter(RouterConfig{}, ctl), http.MethodPost, "/api/session/join", `{"roomId":"r1"}`)
			assert.Equal(t, tt.want, w.Code)
			assert.Contains(t, w.Body.String(), "error")
		})
	}
}

func TestInviteErrorStatus(t *testing.T) {
	ctl := newFakeController()
	ctl.inviteErr = voice.ErrNotActive
	w := do(t, SetupRouter(RouterConfig{}, ctl), http.MethodPost, "/api/session/invite", `{"userId":"p2"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestEventStream(t *testing.T) {
	ctl := newFakeController()
	srv := httptest.NewServer(SetupRouter(RouterConfig{}, ctl))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	// The handler subscribes before flushing headers, so this event is seen.
	ctl.bus.Publish(voice.MuteChanged{Muted: true})

	var event, data string
	timeout := time.After(3 * time.Second)
	for event == "" || data == "" {
		select {
		case l, ok := <-lines:
			require.True(t, ok, "stream closed early")
			switch {
			case strings.HasPrefix(l, "event:"):
				event = strings.TrimSpace(strings.TrimPrefix(l, "event:"))
			case strings.HasPrefix(l, "data:"):
				data = strings.TrimSpace(strings.TrimPrefix(l, "data:"))
			}
		case <-timeout:
			t.Fatal("no event received")
		}
	}
	assert.Equal(t, "mute-changed", event)
	assert.JSONEq(t, `{"muted":true}`, data)
}
