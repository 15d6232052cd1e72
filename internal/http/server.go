package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Server wraps the router in an http.Server with header/idle timeouts.
// Body read timeouts are left unset: photo uploads from mobile clients can
// legitimately take a while.
type Server struct {
	Engine *gin.Engine
}

func NewServer(cfg RouterConfig) *Server {
	return &Server{Engine: NewRouter(cfg)}
}

func (s *Server) Run(address string) error {
	srv := &http.Server{
		Addr:              address,
		Handler:           s.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return srv.ListenAndServe()
}
