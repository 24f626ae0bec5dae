// Package ws owns real-time connections from handshake to disconnect.
package ws

import (
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"conversation-service/internal/apperr"
	"conversation-service/internal/identity"
	"conversation-service/internal/messaging"
	"conversation-service/internal/models"
	"conversation-service/internal/observability"
)

// Options tunes every connection the handler accepts.
type Options struct {
	SendBuffer      int
	PingInterval    time.Duration
	MaxMessageBytes int64
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 << 10
	}
	return o
}

// frameLimit returns a read limit that fits a sendMessage frame carrying
// maxContent characters, each escaped as a UTF-16 surrogate pair.
func frameLimit(configured int64, maxContent int) int64 {
	return max(configured, int64(maxContent)*12+1024)
}

// Handler upgrades /ws requests and owns each connection until it closes.
type Handler struct {
	hub      *Hub
	service  *messaging.Service
	resolver identity.Resolver
	validate *validator.Validate
	upgrader websocket.Upgrader
	opts     Options
	log      *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, service *messaging.Service, resolver identity.Resolver, opts Options, log *slog.Logger) *Handler {
	opts = opts.withDefaults()
	opts.MaxMessageBytes = frameLimit(opts.MaxMessageBytes, service.MaxContentLength())

	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		hub:      hub,
		service:  service,
		resolver: resolver,
		validate: validate,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		opts: opts,
		log:  log,
	}
}

// Handle performs the handshake. The credential comes from the Authorization
// header or the token query parameter; userId and role query parameters, when
// present, must match the resolved identity.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("conversation-service/ws").Start(c.Request.Context(), "ws.handshake")
	c.Request = c.Request.WithContext(ctx)

	caller, err := h.authenticate(c)
	if err != nil {
		span.End()
		message, _ := apperr.Public(err)
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": message})
		return
	}
	span.SetAttributes(attribute.String("user.id", caller.UserID))

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.End()
		h.log.Warn("websocket upgrade failed", "user_id", caller.UserID, "error", err)
		return
	}

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      caller.UserID,
		Role:        caller.Role,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromContext(ctx),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	if info.RequestID == "" {
		info.RequestID = observability.RequestIDFromRequest(c.Request)
	}
	span.End()

	client := newClient(h.hub, conn, info, h.opts, h.log)
	h.hub.attach(ctx, client)
	client.serve(ctx, h.opts.MaxMessageBytes, h.dispatch)
}

func (h *Handler) authenticate(c *gin.Context) (models.Identity, error) {
	credential, ok := identity.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		credential = strings.TrimSpace(c.Query("token"))
	}
	if credential == "" {
		return models.Identity{}, apperr.Unauthenticated("missing credential")
	}

	caller, err := h.resolver.Resolve(c.Request.Context(), credential)
	if err != nil {
		return models.Identity{}, err
	}
	if claimed := c.Query("userId"); claimed != "" && claimed != caller.UserID {
		return models.Identity{}, apperr.Unauthenticated("claimed identity does not match credential")
	}
	if claimed := c.Query("role"); claimed != "" && models.Role(claimed) != caller.Role {
		return models.Identity{}, apperr.Unauthenticated("claimed role does not match credential")
	}
	return caller, nil
}
