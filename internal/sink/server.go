// Package sink is a local webhook destination: it stores what RudderStack forwards and
// reports delivery counts in the shape the API client reads.
package sink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/flowcheck/internal/storage"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/task"
)

// Routes served by the sink.
const (
	RouteWebhook           = "/webhook/:" + routeParameterDestination
	RouteDestinationStats  = "/api/destinations/:" + routeParameterDestination + "/stats"
	RouteDestinationEvents = "/api/destinations/:" + routeParameterDestination + "/events"
	RouteHealth            = "/healthz"
	RouteMetrics           = "/metrics"
)

const (
	// DefaultAddress is where serve-sink listens without SINK_ADDR.
	DefaultAddress = ":8089"

	routeParameterDestination = "destination"
	corsOriginWildcard        = "*"
	corsHeaderContentType     = "Content-Type"
	corsHeaderAuthorization   = "Authorization"
	corsMaxAge                = 12 * time.Hour
	readHeaderTimeoutSeconds  = 5
	shutdownTimeout           = 10 * time.Second
	logEventListening         = "sink_listening"
	logEventStopped           = "sink_stopped"
	logFieldAddress           = "address"
	logFieldDestination       = "destination"
	errorMessageListen        = "sink: listen"
	errorMessageServe         = "sink: serve"
	errorMessageShutdown      = "sink: shutdown"
)

var (
	corsAllowedMethods = []string{http.MethodPost, http.MethodGet, http.MethodOptions}
	corsAllowedHeaders = []string{corsHeaderAuthorization, corsHeaderContentType}
	corsExposedHeaders = []string{corsHeaderContentType}
)

// Config controls the sink server.
type Config struct {
	Address        string
	AllowedOrigins []string
	Retention      time.Duration
	PruneInterval  time.Duration
}

// Server wires the delivery store, metrics and retention job behind a gin router.
type Server struct {
	configuration Config
	store         *storage.DeliveryStore
	registry      *prometheus.Registry
	router        *gin.Engine
	scheduler     *task.Scheduler
	logger        *zap.Logger
}

func NewServer(configuration Config, store *storage.DeliveryStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if configuration.Address == "" {
		configuration.Address = DefaultAddress
	}
	if len(configuration.AllowedOrigins) == 0 {
		configuration.AllowedOrigins = []string{corsOriginWildcard}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	handlers := NewHandlers(store, NewMetrics(registry), logger)

	return &Server{
		configuration: configuration,
		store:         store,
		registry:      registry,
		router:        NewRouter(handlers, registry, configuration.AllowedOrigins, logger),
		scheduler: task.NewScheduler(
			task.RetentionJobName,
			configuration.PruneInterval,
			task.RetentionJob(store, configuration.Retention, time.Now, logger),
			logger,
		),
		logger: logger,
	}
}

// NewRouter registers the sink routes.
func NewRouter(handlers *Handlers, gatherer prometheus.Gatherer, allowedOrigins []string, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     corsAllowedMethods,
		AllowHeaders:     corsAllowedHeaders,
		ExposeHeaders:    corsExposedHeaders,
		AllowCredentials: false,
		MaxAge:           corsMaxAge,
	}))

	router.GET(RouteHealth, handlers.Health)
	router.GET(RouteMetrics, gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	router.POST(RouteWebhook, handlers.ReceiveWebhook)
	router.GET(RouteDestinationStats, handlers.DeliveryStats)
	router.GET(RouteDestinationEvents, handlers.DestinationEvents)
	return router
}

// Handler exposes the router, mainly for tests.
func (server *Server) Handler() http.Handler {
	return server.router
}

// Run listens on the configured address until ctx ends.
func (server *Server) Run(ctx context.Context) error {
	listener, listenErr := net.Listen("tcp", server.configuration.Address)
	if listenErr != nil {
		return fmt.Errorf("%s: %w", errorMessageListen, listenErr)
	}
	return server.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx ends, pruning expired deliveries in the
// background, then shuts down gracefully.
func (server *Server) Serve(ctx context.Context, listener net.Listener) error {
	server.scheduler.Start(ctx)
	defer server.scheduler.Stop()
	server.scheduler.Trigger()

	httpServer := &http.Server{
		Handler:           server.router,
		ReadHeaderTimeout: readHeaderTimeoutSeconds * time.Second,
	}
	serveResult := make(chan error, 1)
	go func() {
		serveResult <- httpServer.Serve(listener)
	}()
	server.logger.Info(logEventListening, zap.String(logFieldAddress, listener.Addr().String()))

	select {
	case serveErr := <-serveResult:
		if errors.Is(serveErr, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s: %w", errorMessageServe, serveErr)
	case <-ctx.Done():
	}

	shutdownContext, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if shutdownErr := httpServer.Shutdown(shutdownContext); shutdownErr != nil {
		return fmt.Errorf("%s: %w", errorMessageShutdown, shutdownErr)
	}
	server.logger.Info(logEventStopped)
	return nil
}
