package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-tg-session-gateway/auth"
	"github.com/jrsteele09/go-tg-session-gateway/internal/config"
	"github.com/jrsteele09/go-tg-session-gateway/sessions"
	"github.com/rs/zerolog/log"
)

type Server struct {
	env     string // Environment (e.g., "DEV", "PROD")
	mux     *http.ServeMux
	routes  []string
	config  config.Config
	auth    *auth.Service
	store   *sessions.Store
	maxBody int64
}

func New(config config.Config, service *auth.Service, store *sessions.Store) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("[Server New] auth service is required")
	}
	if store == nil {
		return nil, fmt.Errorf("[Server New] session store is required")
	}

	s := &Server{
		mux:     http.NewServeMux(),
		config:  config,
		auth:    service,
		store:   store,
		maxBody: config.GetMaxUploadBytes(),
	}
	s.env = config.GetEnv()

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func displayMethod(method string) string {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		return color + paddedMethod + ResetColor
	}
	return Gray + paddedMethod + ResetColor
}

func logRoute(method, path string) {
	log.Info().Msgf("[%-19s] %s", displayMethod(method), path)
}
