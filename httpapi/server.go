package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-govnotify/adapters/gocommand"
	"github.com/goliatone/go-govnotify/bot"
	"github.com/goliatone/go-govnotify/core"
	"github.com/goliatone/go-govnotify/inbound"
	"github.com/goliatone/go-govnotify/providers/snapshot"
	"github.com/goliatone/go-govnotify/webhooks"
	glog "github.com/goliatone/go-logger/glog"
)

const defaultMaxBodyBytes int64 = 1 << 20

type WebhookProcessor interface {
	Process(ctx context.Context, req core.InboundRequest) (core.InboundResult, error)
}

type InboundDispatcher interface {
	Dispatch(ctx context.Context, req core.InboundRequest) (core.InboundResult, error)
}

// Queries backs the read-only operator endpoints.
type Queries interface {
	GetSubscription(ctx context.Context, userID string) (core.Subscription, error)
	ListSubscriptions(ctx context.Context, cursor string, limit int) (core.SubscriptionPage, error)
	GetMatchRecord(ctx context.Context, eventID string) (core.MatchRecord, error)
}

type Server struct {
	Snapshot     WebhookProcessor
	Telegram     InboundDispatcher
	Queries      Queries
	Metrics      http.Handler
	Logger       glog.Logger
	MaxBodyBytes int64
}

// Router builds the gin engine. Routes whose dependency is nil are not
// mounted.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.CustomRecovery(s.recover))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "govnotify"})
	})
	if s.Metrics != nil {
		router.GET("/metrics", gin.WrapH(s.Metrics))
	}
	if s.Snapshot != nil {
		router.POST("/webhooks/snapshot", s.handleSnapshot)
	}
	if s.Telegram != nil {
		router.POST("/telegram/webhook", s.handleTelegram)
	}

	v1 := router.Group("/v1")
	{
		v1.GET("/subscriptions", s.handleListSubscriptions)
		v1.GET("/subscriptions/:user_id", s.handleGetSubscription)
		v1.GET("/match-records/:event_id", s.handleGetMatchRecord)
	}
	return router
}

func (s *Server) handleSnapshot(c *gin.Context) {
	body, ok := s.readBody(c)
	if !ok {
		return
	}
	result, err := s.Snapshot.Process(c.Request.Context(), core.InboundRequest{
		ProviderID: snapshot.ProviderID,
		Surface:    inbound.SurfaceWebhook,
		Headers:    flattenHeaders(c.Request.Header),
		Body:       body,
	})
	if err != nil {
		s.renderError(c, err)
		return
	}
	s.renderResult(c, result)
}

func (s *Server) handleTelegram(c *gin.Context) {
	body, ok := s.readBody(c)
	if !ok {
		return
	}
	req, err := bot.InboundRequest(body, flattenHeaders(c.Request.Header))
	if err != nil {
		s.renderError(c, err)
		return
	}
	result, err := s.Telegram.Dispatch(c.Request.Context(), req)
	if err != nil {
		s.renderError(c, err)
		return
	}
	s.renderResult(c, result)
}

func (s *Server) handleGetSubscription(c *gin.Context) {
	sub, err := s.queries().GetSubscription(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (s *Server) handleListSubscriptions(c *gin.Context) {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.renderError(c, goerrors.New("httpapi: limit must be an integer", goerrors.CategoryBadInput).
				WithCode(http.StatusBadRequest).
				WithTextCode(core.ServiceErrorBadInput))
			return
		}
		limit = parsed
	}
	page, err := s.queries().ListSubscriptions(c.Request.Context(), c.Query("cursor"), limit)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) handleGetMatchRecord(c *gin.Context) {
	record, err := s.queries().GetMatchRecord(c.Request.Context(), c.Param("event_id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) readBody(c *gin.Context) ([]byte, bool) {
	limit := s.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	body, err := c.GetRawData()
	if err != nil {
		s.renderError(c, goerrors.Wrap(err, goerrors.CategoryBadInput, "httpapi: read request body").
			WithCode(http.StatusRequestEntityTooLarge).
			WithTextCode(core.ServiceErrorBadInput))
		return nil, false
	}
	return body, true
}

func (s *Server) renderResult(c *gin.Context, result core.InboundResult) {
	status := result.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"accepted": result.Accepted, "metadata": result.Metadata})
}

func (s *Server) renderError(c *gin.Context, err error) {
	mapped := core.MapError(err)
	if mapped.Code >= http.StatusInternalServerError {
		s.logger().Error("request failed", "path", c.FullPath(), "text_code", mapped.TextCode, "error", err.Error())
	}
	c.AbortWithStatusJSON(mapped.Code, mapped.ToErrorResponse(false, nil))
}

func (s *Server) recover(c *gin.Context, recovered any) {
	s.logger().Error("handler panicked", "path", c.FullPath(), "panic", recovered)
	s.renderError(c, goerrors.New("httpapi: internal error", goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.ServiceErrorInternal))
}

func (s *Server) queries() Queries {
	if s.Queries == nil {
		return DispatchedQueries{}
	}
	return s.Queries
}

func (s *Server) logger() glog.Logger {
	if s.Logger == nil {
		return glog.Nop()
	}
	return s.Logger
}

func flattenHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) > 0 {
			out[key] = values[0]
		}
	}
	return out
}

// DispatchedQueries routes the operator reads through the go-command
// dispatcher so they pass the same message validation as other callers.
type DispatchedQueries struct{}

func (DispatchedQueries) GetSubscription(ctx context.Context, userID string) (core.Subscription, error) {
	return gocommand.GetSubscription(ctx, userID)
}

func (DispatchedQueries) ListSubscriptions(ctx context.Context, cursor string, limit int) (core.SubscriptionPage, error) {
	return gocommand.ListSubscriptions(ctx, cursor, limit)
}

func (DispatchedQueries) GetMatchRecord(ctx context.Context, eventID string) (core.MatchRecord, error) {
	return gocommand.GetMatchRecord(ctx, eventID)
}

var (
	_ Queries           = DispatchedQueries{}
	_ Queries           = (*core.Service)(nil)
	_ InboundDispatcher = (*inbound.Dispatcher)(nil)
	_ WebhookProcessor  = (*webhooks.Processor)(nil)
)
