// Package server implements the Client Fan-out (C6): the gin-based
// HTTP surface that upgrades one WebSocket per robot, forwards a
// Manager's event stream as JSON, and routes inbound command frames
// into that Manager's HandleCommand. Mirrors the teacher's
// internal/api handler in its use of gin and
// github.com/prometheus/client_golang/prometheus/promhttp for
// /metrics; the handler body is new, since the teacher's multi-robot
// dashboard Hub has no equivalent of "exactly one dedicated socket per
// robot, no fan-in between clients".
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/robot-ai-webapp/telemetry-gateway/internal/middleware"
	"github.com/robot-ai-webapp/telemetry-gateway/internal/protocol"
	"github.com/robot-ai-webapp/telemetry-gateway/internal/robot"
)

// Registry is the subset of robot.Registry the server needs to accept
// a connection.
type Registry interface {
	Get(robotID string) (*robot.Manager, bool)
}

// Server hosts the downstream WebSocket endpoint plus health/metrics.
type Server struct {
	registry Registry
	logger   *zap.Logger
	upgrader websocket.Upgrader
	limiter  *middleware.RateLimiter
}

// New builds a Server. ratePerMinute bounds requests per client IP,
// matching the teacher's RateLimiter semantics.
func New(registry Registry, ratePerMinute int, logger *zap.Logger) *Server {
	return &Server{
		registry: registry,
		logger:   logger.Named("server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		limiter: middleware.NewRateLimiter(ratePerMinute, logger),
	}
}

// Router builds the gin.Engine serving /healthz, /metrics, and
// /ws/robots/:robotId.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(adaptMiddleware(middleware.LoggingMiddleware(s.logger)))
	r.Use(adaptMiddleware(s.limiter.Middleware))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws/robots/:robotId", s.handleWebSocket)

	return r
}

// adaptMiddleware lifts a net/http middleware (the shape the teacher's
// internal/middleware package is written in) into gin's handler chain
// without rewriting RateLimiter/LoggingMiddleware themselves: the
// inner handler calls c.Next() so the rest of the chain runs inside
// mw's own before/after wrapping, which is what lets
// LoggingMiddleware's duration measurement stay accurate.
func adaptMiddleware(mw func(http.Handler) http.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		called := false
		mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			c.Request = r
			c.Next()
		})).ServeHTTP(c.Writer, c.Request)
		if !called {
			c.Abort()
		}
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	robotID := c.Param("robotId")
	clientID := uuid.NewString()
	log := s.logger.With(zap.String("robot_id", robotID), zap.String("client_id", clientID))

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	mgr, ok := s.registry.Get(robotID)
	if !ok {
		_ = conn.WriteJSON(protocol.NewErrorFrame("", "", fmt.Sprintf("Unknown robot: %s", robotID)))
		return
	}

	log.Debug("client connected")
	defer log.Debug("client disconnected")

	wsConnections.WithLabelValues(robotID).Inc()
	defer wsConnections.WithLabelValues(robotID).Dec()

	events, unsubscribe := mgr.Events()
	defer unsubscribe()

	writeCh := make(chan any, 64)
	done := make(chan struct{})
	defer close(done)

	go s.writeLoop(conn, writeCh, done)
	go s.forwardLoop(events, writeCh, done)

	s.readLoop(conn, mgr, robotID, writeCh)
}

// writeLoop is the sole writer of this connection's socket (§5(d)):
// every frame, whether a forwarded event or a command reply, goes
// through writeCh so no two goroutines ever call WriteJSON at once.
func (s *Server) writeLoop(conn *websocket.Conn, writeCh <-chan any, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case frame, ok := <-writeCh:
			if !ok {
				return
			}
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		}
	}
}

func (s *Server) forwardLoop(events <-chan robot.Event, writeCh chan<- any, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			var frame any
			switch ev.Kind {
			case robot.EventChannelData:
				frame = protocol.NewEventFrame(ev.Channel, ev.Data)
				framesSent.WithLabelValues("event").Inc()
			case robot.EventError:
				msg := ""
				if ev.Err != nil {
					msg = ev.Err.Error()
				}
				frame = protocol.NewErrorFrame(ev.Channel, "", msg)
				framesSent.WithLabelValues("error").Inc()
			default:
				continue
			}
			select {
			case writeCh <- frame:
			case <-done:
				return
			default:
			}
		}
	}
}

func (s *Server) readLoop(conn *websocket.Conn, mgr *robot.Manager, robotID string, writeCh chan<- any) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var in protocol.Inbound
		if err := json.Unmarshal(raw, &in); err != nil {
			sendErr(writeCh, "", "", "Unsupported message type")
			continue
		}

		switch in.Type {
		case protocol.FrameCommand:
			s.handleCommandFrame(mgr, in, writeCh)
		case protocol.FrameRequest:
			if in.Channel == "asset" {
				sendErr(writeCh, "asset", in.RequestID, "asset channel is disabled")
			} else {
				sendErr(writeCh, in.Channel, in.RequestID, "Unsupported message type")
			}
		default:
			sendErr(writeCh, in.Channel, in.RequestID, "Unsupported message type")
		}
	}
}

func (s *Server) handleCommandFrame(mgr *robot.Manager, in protocol.Inbound, writeCh chan<- any) {
	var payload map[string]any
	if len(in.Data) > 0 {
		if err := json.Unmarshal(in.Data, &payload); err != nil {
			sendErr(writeCh, in.Channel, in.RequestID, "malformed command payload")
			return
		}
	}

	_, err := mgr.HandleCommand(in.Channel, payload)
	if err != nil {
		commandsHandled.WithLabelValues(in.Channel, "rejected").Inc()
		sendErr(writeCh, in.Channel, in.RequestID, err.Error())
		return
	}
	commandsHandled.WithLabelValues(in.Channel, "accepted").Inc()
}

func sendErr(writeCh chan<- any, channel, requestID, message string) {
	select {
	case writeCh <- protocol.NewErrorFrame(channel, requestID, message):
	case <-time.After(time.Second):
	}
}
