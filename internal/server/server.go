// Package server exposes a Session over HTTP. Scan progress is streamed
// over a websocket.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/allbin/busscan"
)

// Service is the bus API served over HTTP. *app.Session implements it.
type Service interface {
	Scan(ctx context.Context, progress func(busscan.ScanEvent)) ([]busscan.Device, error)
	LoadConfig(ctx context.Context, cmd busscan.LoadConfigCommand) (busscan.ConfigValues, error)
	SetConfig(ctx context.Context, cmd busscan.SetConfigCommand) (busscan.ConfigValues, error)
	SetBaudRate(ctx context.Context, dev *busscan.Device, baudRate int) error
}

type Server struct {
	svc       Service
	logger    *zap.Logger
	listPorts func() ([]*busscan.PortInfo, error)
	upgrader  websocket.Upgrader
	engine    *gin.Engine
}

func New(svc Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		svc:       svc,
		logger:    logger.With(zap.String("component", "http-server")),
		listPorts: busscan.ListPortInfo,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.engine = s.setupRouter()
	return s
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(recoveryMiddleware(s.logger))
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware(s.logger))

	router.GET("/health", s.health)

	api := router.Group("/api")
	{
		api.GET("/ports", s.ports)
		api.POST("/scan", s.scan)
		api.GET("/scan/ws", s.scanStream)

		devices := api.Group("/devices")
		devices.POST("/load-config", s.loadConfig)
		devices.POST("/set-config", s.setConfig)
		devices.POST("/baud-rate", s.setBaudRate)
	}
	return router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("address", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
