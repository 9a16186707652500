package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/clubware/clubcore/internal/metrics"
	"github.com/clubware/clubcore/pkg/booking"
	"github.com/clubware/clubcore/pkg/wallet"
)

// Server is the HTTP facade over the booking scheduler and wallet ledger.
type Server struct {
	config   Config
	logger   *zap.Logger
	wallet   *wallet.Service
	bookings *booking.Service
	metrics  *metrics.Metrics
	registry *prometheus.Registry
}

// New wires a Server; registry may be nil to disable the metrics endpoint.
func New(config Config, logger *zap.Logger, walletService *wallet.Service, bookingService *booking.Service, metricSet *metrics.Metrics, registry *prometheus.Registry) *Server {
	return &Server{
		config:   config.Normalized(),
		logger:   logger,
		wallet:   walletService,
		bookings: bookingService,
		metrics:  metricSet,
		registry: registry,
	}
}

// Router builds the gin engine with all routes attached.
func (server *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if len(server.config.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     server.config.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Origin", "Accept", server.config.MemberHeader, server.config.AdminHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if server.registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(server.registry, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")
	api.Use(server.requireMember())

	api.POST("/bookings", server.handleCreateBooking)
	api.GET("/bookings", server.handleListBookings)
	api.POST("/bookings/:id/cancel", server.handleCancelBooking)
	api.GET("/courts/:id/availability", server.handleAvailability)

	api.GET("/wallet/balance", server.handleBalance)
	api.GET("/wallet/transactions", server.handleListTransactions)
	api.POST("/wallet/deposit", server.handleDeposit)
	api.POST("/wallet/withdraw", server.handleWithdraw)
	api.POST("/wallet/topups", server.handleRequestTopUp)
	api.POST("/wallet/topups/:id/settle", server.handleSettleTopUp)

	return router
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.config.ListenAddr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("http server listening", zap.String("addr", server.config.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// requireMember resolves the caller's identity from the trusted proxy headers.
func (server *Server) requireMember() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		rawMemberID := ctx.GetHeader(server.config.MemberHeader)
		memberID, err := wallet.NewMemberID(rawMemberID)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing member identity"})
			return
		}
		ctx.Set(contextKeyMemberID, memberID)
		ctx.Set(contextKeyAdmin, ctx.GetHeader(server.config.AdminHeader) == "admin")
		ctx.Next()
	}
}
