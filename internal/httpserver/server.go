// Package httpserver terminates recorder uploads and exposes the admin,
// internal and health surfaces of the ingest service.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"dialogger/internal/authcache"
	"dialogger/internal/config"
	"dialogger/internal/db"
	"dialogger/internal/storage"
)

// Pinger reports database liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) bool
}

type Server struct {
	deviceStore db.DeviceStore
	chunkStore  db.ChunkStore
	pinger      Pinger
	storage     *storage.Store
	cache       *authcache.Cache
	params      config.IngestParams
	log         *log.Logger
	httpServer  *http.Server
}

// New builds the ingest HTTP server. cache may be nil; device auth then goes
// straight to the database.
func New(
	addr string,
	deviceStore db.DeviceStore,
	chunkStore db.ChunkStore,
	pinger Pinger,
	store *storage.Store,
	cache *authcache.Cache,
	params config.IngestParams,
	logger *log.Logger,
) *Server {
	s := &Server{
		deviceStore: deviceStore,
		chunkStore:  chunkStore,
		pinger:      pinger,
		storage:     store,
		cache:       cache,
		params:      params,
		log:         logger,
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.setupRoutes(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.log.Info("HTTP server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains open requests before exit.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
