package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/voicemesh/internal/adapters/signal"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type ServerConfig struct {
	Mode       string
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SetupRouter exposes the hub at GET /ws?user=<id>&name=<display>. Every
// connection lives until ctx ends or the peer goes away.
func SetupRouter(ctx context.Context, cfg ServerConfig, hub *Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": len(hub.Rooms())})
	})
	r.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, hub.Rooms())
	})

	r.GET("/ws", func(c *gin.Context) {
		id := domain.UserID(c.Query("user"))
		name := c.Query("name")
		if name == "" {
			name = string(id)
		}
		user, err := domain.NewUser(id, name)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error().Err(err).Str("module", "relay").Msg("ws upgrade")
			return
		}
		conn := signal.NewClient(ws, signal.Config{
			SendBuffer: cfg.SendBuffer,
			ReadLimit:  cfg.ReadLimit,
			PingPeriod: cfg.PingPeriod,
		})
		hub.Connect(*user, conn)
		defer hub.Disconnect(user.ID, conn)

		err = conn.Run(ctx, signal.HandlerFunc(func(m protocol.Message) {
			hub.Handle(user.ID, m)
		}))
		if err != nil {
			log.Info().Err(err).Str("module", "relay").Str("user", string(user.ID)).Msg("connection ended")
		}
	})

	return r
}
