// Package api serves the HTTP surface: order ingress, health, metrics and
// the WebSocket upgrade.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/uhyunpark/orderrelay/pkg/hub"
	"github.com/uhyunpark/orderrelay/pkg/metrics"
	"github.com/uhyunpark/orderrelay/pkg/order"
	"github.com/uhyunpark/orderrelay/pkg/relay"
	"github.com/uhyunpark/orderrelay/pkg/util"
)

const maxOrderBytes = 64 << 10

// Publisher is the part of the broker the ingress needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// RelayStatus reports the relay subscription state for /health.
type RelayStatus interface {
	State() relay.State
}

type Config struct {
	Addr           string        `mapstructure:"addr"`
	OrderTopic     string        `mapstructure:"order_topic"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RateLimit      float64       `mapstructure:"rate_limit"` // orders per second, 0 disables
	RateBurst      int           `mapstructure:"rate_burst"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Addr:           ":4000",
		OrderTopic:     "order-events",
		AllowedOrigins: []string{"*"},
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
	}
}

// Server handles REST API and WebSocket connections
type Server struct {
	cfg     Config
	pub     Publisher
	hub     *hub.Hub
	relay   RelayStatus
	clock   util.Clock
	log     *zap.SugaredLogger
	router  *mux.Router
	limiter *rate.Limiter
	httpSrv *http.Server
}

func NewServer(cfg Config, pub Publisher, h *hub.Hub, rs RelayStatus, clock util.Clock, log *zap.SugaredLogger) *Server {
	if clock == nil {
		clock = util.RealClock{}
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	s := &Server{
		cfg:     cfg,
		pub:     pub,
		hub:     h,
		relay:   rs,
		clock:   clock,
		log:     log,
		router:  mux.NewRouter(),
		limiter: rate.NewLimiter(limit, burst),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/order", s.handleSubmitOrder).Methods(http.MethodPost)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// The browser client dials the bare origin, so upgrades are accepted on / too.
	s.router.HandleFunc("/ws", s.hub.ServeWS)
	s.router.HandleFunc("/", s.hub.ServeWS).HeadersRegexp("Upgrade", "(?i)^websocket$")
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

// Start serves until Stop is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Infow("api_server_starting", "addr", s.cfg.Addr, "order_topic", s.cfg.OrderTopic)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop closes the listener, waits for in-flight requests, then closes the
// WebSocket connections.
func (s *Server) Stop(ctx context.Context) error {
	defer s.hub.Close()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		metrics.OrdersSubmitted.WithLabelValues("rate_limited").Inc()
		respondError(w, http.StatusTooManyRequests, "Too many requests", "")
		return
	}

	var sub order.Submission
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOrderBytes)).Decode(&sub); err != nil {
		metrics.OrdersSubmitted.WithLabelValues("invalid").Inc()
		s.log.Warnw("order_invalid_body", "remote", r.RemoteAddr, "err", err)
		respondError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	if err := sub.Validate(); err != nil {
		metrics.OrdersSubmitted.WithLabelValues("invalid").Inc()
		s.log.Warnw("order_missing_fields", "remote", r.RemoteAddr, "err", err)
		respondError(w, http.StatusBadRequest, "Missing fields", err.Error())
		return
	}

	event := order.NewEvent(sub, s.clock.Now())
	payload, err := json.Marshal(event)
	if err != nil {
		metrics.OrdersSubmitted.WithLabelValues("publish_failed").Inc()
		respondError(w, http.StatusInternalServerError, "Failed to publish order", err.Error())
		return
	}

	if err := s.pub.Publish(r.Context(), s.cfg.OrderTopic, payload); err != nil {
		metrics.OrdersSubmitted.WithLabelValues("publish_failed").Inc()
		s.log.Errorw("order_publish_failed", "user", event.UserID, "topic", s.cfg.OrderTopic, "err", err)
		respondError(w, http.StatusInternalServerError, "Failed to publish order", err.Error())
		return
	}

	metrics.OrdersSubmitted.WithLabelValues("published").Inc()
	s.log.Infow("order_submitted",
		"user", event.UserID,
		"symbol", event.Symbol,
		"quantity", event.Quantity,
		"price", event.Price,
		"side", event.Side.String(),
		"timestamp", event.Timestamp)

	respondJSON(w, http.StatusOK, SubmitOrderResponse{
		Status:  "submitted",
		Message: "Order submitted",
		Order:   event,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := relay.StateUnsubscribed
	if s.relay != nil {
		state = s.relay.State()
	}
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Connections: s.hub.Connections(),
		Registered:  s.hub.Registered(),
		Relay:       state.String(),
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, details string) {
	respondJSON(w, status, ErrorResponse{Error: error, Details: details})
}
