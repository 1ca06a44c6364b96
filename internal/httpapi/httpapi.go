// Package httpapi wires the document registry to the transport: the
// WebSocket upgrade route, the plain-text snapshot route, and a
// stats endpoint, all served through a go-mizu/mizu App.
package httpapi

import (
	"time"

	"github.com/go-mizu/mizu"
	"nhooyr.io/websocket"

	"github.com/kolabpad/kolabpad/internal/registry"
	"github.com/kolabpad/kolabpad/internal/session"
	"github.com/kolabpad/kolabpad/pkg/logger"
)

// Stats is the payload served by GET /api/stats.
type Stats struct {
	StartTime    int64 `json:"start_time"`
	NumDocuments int   `json:"num_documents"`
	DatabaseSize int   `json:"database_size"`
}

// API owns the registry and the process start time used for stats.
type API struct {
	registry  *registry.Registry
	startTime time.Time
}

// New builds an API handler bound to reg.
func New(reg *registry.Registry) *API {
	return &API{registry: reg, startTime: time.Now()}
}

// Mount registers every route this package serves onto app, under /api.
func (a *API) Mount(app *mizu.App) {
	app.Group("/api", func(g *mizu.Router) {
		g.Get("/socket/{id}", a.handleSocket)
		g.Get("/text/{id}", a.handleText)
		g.Get("/stats", a.handleStats)
	})
}

func (a *API) handleSocket(c *mizu.Ctx) error {
	id := c.Param("id")
	if id == "" {
		return c.JSON(400, map[string]string{"error": "document id required"})
	}

	eng := a.registry.Open(c.Request().Context(), id)
	sessionID := a.registry.NextSessionID()

	conn, err := websocket.Accept(c.Writer(), c.Request(), &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		logger.Error("httpapi: websocket upgrade failed for %s: %v", id, err)
		return nil
	}

	sess := session.New(eng, sessionID, conn)
	if err := sess.Run(c.Request().Context()); err != nil {
		logger.Debug("httpapi: session %d on %s ended: %v", sessionID, id, err)
	}
	conn.Close(websocket.StatusNormalClosure, "")
	return nil
}

func (a *API) handleText(c *mizu.Ctx) error {
	id := c.Param("id")
	if id == "" {
		return c.JSON(400, map[string]string{"error": "document id required"})
	}

	text := a.registry.PeekText(c.Request().Context(), id)
	c.Writer().Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, err := c.Writer().Write([]byte(text))
	return err
}

func (a *API) handleStats(c *mizu.Ctx) error {
	dbSize, err := a.registry.StoreCount(c.Request().Context())
	if err != nil {
		logger.Error("httpapi: stats: store count: %v", err)
	}
	return c.JSON(200, Stats{
		StartTime:    a.startTime.Unix(),
		NumDocuments: a.registry.Count(),
		DatabaseSize: dbSize,
	})
}
