// Package http exposes the local voice session to a UI over gin.
package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/dkeye/voicemesh/internal/app/directory"
	"github.com/dkeye/voicemesh/internal/app/voice"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Controller is the part of voice.Manager the UI drives.
type Controller interface {
	Rooms() []domain.Room
	CreateRoom(name string, capacity int, owner directory.Owner) error
	Snapshot() voice.Snapshot
	JoinRoom(ctx context.Context, id domain.RoomID) error
	LeaveRoom()
	ToggleMute() bool
	ToggleDeafen() bool
	Invite(target domain.UserID) error
	Events() *voice.Bus
}

type RouterConfig struct {
	Mode       string
	StaticPath string
	// EventBuffer bounds events queued per stream before they are dropped.
	EventBuffer int
}

type createRoomRequest struct {
	Name     string        `json:"name"`
	Capacity int           `json:"capacity"`
	ClanID   domain.ClanID `json:"clanId"`
	Private  bool          `json:"private"`
}

type joinRequest struct {
	RoomID domain.RoomID `json:"roomId" binding:"required"`
}

type inviteRequest struct {
	UserID domain.UserID `json:"userId" binding:"required"`
}

func SetupRouter(cfg RouterConfig, ctl Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": ctl.Rooms()})
	})

	api.POST("/rooms", func(c *gin.Context) {
		var req createRoomRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		err := ctl.CreateRoom(req.Name, req.Capacity, directory.Owner{ClanID: req.ClanID, Private: req.Private})
		switch {
		case err == nil:
			c.JSON(http.StatusAccepted, gin.H{"status": "requested"})
		case errors.Is(err, domain.ErrRoomNameEmpty),
			errors.Is(err, domain.ErrRoomNameTooLong),
			errors.Is(err, domain.ErrCapacityOutOfRange):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		}
	})

	session := api.Group("/session")

	session.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, ctl.Snapshot())
	})

	session.POST("/join", func(c *gin.Context) {
		var req joinRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := ctl.JoinRoom(c.Request.Context(), req.RoomID); err != nil {
			c.JSON(joinStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, ctl.Snapshot())
	})

	session.POST("/leave", func(c *gin.Context) {
		ctl.LeaveRoom()
		c.JSON(http.StatusOK, ctl.Snapshot())
	})

	session.POST("/mute", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"muted": ctl.ToggleMute()})
	})

	session.POST("/deafen", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"deafened": ctl.ToggleDeafen()})
	})

	session.POST("/invite", func(c *gin.Context) {
		var req inviteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := ctl.Invite(req.UserID); err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, voice.ErrNotActive) {
				status = http.StatusConflict
			} else if errors.Is(err, domain.ErrUserIDInvalid) {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
	})

	api.GET("/events", func(c *gin.Context) {
		streamEvents(c, ctl.Events(), cfg.EventBuffer)
	})

	return r
}

func joinStatus(err error) int {
	var capErr *core.CapabilityError
	switch {
	case errors.As(err, &capErr):
		return http.StatusFailedDependency
	case errors.Is(err, voice.ErrNoRoom):
		return http.StatusBadRequest
	case errors.Is(err, voice.ErrJoinAborted), errors.Is(err, context.Canceled):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

// streamEvents relays bus events as Server-Sent Events until the client
// goes away. A slow client loses events rather than stalling the bus.
func streamEvents(c *gin.Context, bus *voice.Bus, buffer int) {
	ch := make(chan voice.Event, buffer)
	cancel := bus.SubscribeAll(func(e voice.Event) {
		select {
		case ch <- e:
		default:
			log.Warn().Str("module", "adapters.http").Str("event", e.Name()).Msg("event stream full, dropped")
		}
	})
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case e := <-ch:
			c.SSEvent(e.Name(), e)
			return true
		}
	})
}
