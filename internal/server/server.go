// Package server exposes the engine over HTTP: the parent delivery path of the
// bus, the bridge attribute for polling contexts and the item backend.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/siphon/internal/bus"
	"github.com/tanq16/siphon/internal/domain"
	"github.com/tanq16/siphon/internal/native"
)

type Server struct {
	echo    *echo.Echo
	backend native.Backend
	inbound bus.Handler
	attr    bus.Attribute
}

// New routes item operations to backend, other inbound messages to inbound
// and serves attr to bridge pollers. attr may be nil.
func New(backend native.Backend, inbound bus.Handler, attr bus.Attribute) *Server {
	s := &Server{echo: echo.New(), backend: backend, inbound: inbound, attr: attr}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) routes() {
	e := s.echo
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug().Str("op", "server/http").Msgf("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	e.POST("/api/messages", s.handleMessage)
	e.GET("/api/bridge", s.handleBridge)

	e.GET("/api/items", s.handleList)
	e.POST("/api/items", s.handleStart)
	e.POST("/api/items/:id/:action", s.handleAction)
	e.DELETE("/api/items/:id", s.handleDelete)

	e.GET("/api/stats", s.handleStats)
	e.GET("/api/quota", s.handleQuota)
	e.PUT("/api/quota", s.handleSetQuota)
	e.GET("/api/smart-defaults", s.handleSmartDefaults)
	e.PUT("/api/smart-defaults", s.handleSetSmartDefaults)
}

// Run serves on addr until ctx ends.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.echo, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("op", "server/http").Msgf("Listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func httpError(err error) error {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		code = http.StatusConflict
	case errors.Is(err, errors.ErrUnsupported):
		code = http.StatusNotImplemented
	case errors.Is(err, domain.ErrPermission):
		code = http.StatusForbidden
	case errors.Is(err, errBadRequest):
		code = http.StatusBadRequest
	}
	return echo.NewHTTPError(code, err.Error())
}

var errBadRequest = errors.New("bad request")

func decode(c *echo.Context, v any) error {
	if err := json.NewDecoder(c.Request().Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

var inboundTypes = map[bus.Type]bool{
	bus.TypeRequest:     true,
	bus.TypeCancel:      true,
	bus.TypeRetry:       true,
	bus.TypeRootSet:     true,
	bus.TypeRootRequest: true,
	bus.TypeListRequest: true,
	bus.TypeDelete:      true,
	bus.TypeMediaProbe:  true,
}

type idResponse struct {
	ID string `json:"id"`
}

// handleMessage is the parent path of the bus. Requests answer with the item id.
func (s *Server) handleMessage(c *echo.Context) error {
	var msg bus.Message
	if err := decode(c, &msg); err != nil {
		return httpError(err)
	}
	if !inboundTypes[msg.Type] {
		return httpError(fmt.Errorf("%w: unexpected message type %q", errBadRequest, msg.Type))
	}
	ctx := context.WithoutCancel(c.Request().Context())
	if msg.Type == bus.TypeRequest {
		id, err := s.backend.Start(ctx, domain.Item{
			ID:          msg.ID,
			Anchor:      msg.Href,
			Title:       msg.Title,
			EpisodeInfo: msg.EpisodeInfo,
			RequestURL:  msg.URL,
		})
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusAccepted, idResponse{ID: id})
	}
	if s.inbound == nil {
		return httpError(fmt.Errorf("%w: no handler for %s", errors.ErrUnsupported, msg.Type))
	}
	s.inbound(ctx, msg)
	return c.NoContent(http.StatusAccepted)
}

type bridgeResponse struct {
	Head      uint64         `json:"head"`
	Envelopes []bus.Envelope `json:"envelopes"`
}

func (s *Server) handleBridge(c *echo.Context) error {
	if s.attr == nil {
		return httpError(fmt.Errorf("bridge: %w", errors.ErrUnsupported))
	}
	var after uint64
	if raw := c.QueryParam("after"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return httpError(fmt.Errorf("%w: after=%q", errBadRequest, raw))
		}
		after = v
	}
	head, err := s.attr.Head()
	if err != nil {
		return httpError(err)
	}
	resp := bridgeResponse{Head: head, Envelopes: []bus.Envelope{}}
	if after < head {
		envs, err := s.attr.Since(after)
		if err != nil {
			return httpError(err)
		}
		if envs != nil {
			resp.Envelopes = envs
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleList(c *echo.Context) error {
	items, err := s.backend.List(c.Request().Context(), c.QueryParam("scope"))
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []domain.Item{}
	}
	return c.JSON(http.StatusOK, items)
}

func (s *Server) handleStart(c *echo.Context) error {
	var payload domain.Item
	if err := decode(c, &payload); err != nil {
		return httpError(err)
	}
	id, err := s.backend.Start(context.WithoutCancel(c.Request().Context()), payload)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, idResponse{ID: id})
}

func (s *Server) handleAction(c *echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	var err error
	switch c.Param("action") {
	case "pause":
		err = s.backend.Pause(ctx, id)
	case "resume":
		err = s.backend.Resume(ctx, id)
	case "cancel":
		err = s.backend.Cancel(ctx, id)
	default:
		return echo.NewHTTPError(http.StatusNotFound, "unknown action")
	}
	if err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDelete(c *echo.Context) error {
	if err := s.backend.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleStats(c *echo.Context) error {
	stats, err := s.backend.StorageStats(c.Request().Context(), c.QueryParam("scope"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

type quotaBody struct {
	QuotaBytes int64 `json:"quotaBytes"`
}

func (s *Server) handleQuota(c *echo.Context) error {
	q, err := s.backend.Quota(c.Request().Context(), c.QueryParam("scope"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, quotaBody{QuotaBytes: q})
}

func (s *Server) handleSetQuota(c *echo.Context) error {
	var body quotaBody
	if err := decode(c, &body); err != nil {
		return httpError(err)
	}
	if body.QuotaBytes < 0 {
		return httpError(fmt.Errorf("%w: quota %d", errBadRequest, body.QuotaBytes))
	}
	if err := s.backend.SetQuota(c.Request().Context(), c.QueryParam("scope"), body.QuotaBytes); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSmartDefaults(c *echo.Context) error {
	d, err := s.backend.SmartDefaults(c.Request().Context(), c.QueryParam("scope"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) handleSetSmartDefaults(c *echo.Context) error {
	var d domain.SmartDefaults
	if err := decode(c, &d); err != nil {
		return httpError(err)
	}
	if err := s.backend.SetSmartDefaults(c.Request().Context(), c.QueryParam("scope"), d); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
