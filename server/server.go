package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-device-sessions/auth"
	"github.com/jrsteele09/go-device-sessions/internal/config"
	"github.com/jrsteele09/go-device-sessions/internal/metrics"
)

type Server struct {
	mux            *http.ServeMux
	routes         []string
	config         config.Config
	trustedProxies config.TrustedProxies
	sessions       *auth.SessionService
	metrics        *metrics.Metrics
	log            zerolog.Logger
}

func New(config config.Config, sessions *auth.SessionService, m *metrics.Metrics, log zerolog.Logger) (*Server, error) {
	if config == nil {
		return nil, errors.New("[Server New] config is required")
	}
	if sessions == nil {
		return nil, errors.New("[Server New] session service is required")
	}

	s := &Server{
		mux:            http.NewServeMux(),
		config:         config,
		trustedProxies: config.GetTrustedProxies(),
		sessions:       sessions,
		metrics:        m,
		log:            log,
	}

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
	if s.config.IsProduction() {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			s.logRoute(parts[0], parts[1])
		} else {
			s.logRoute("", parts[0])
		}
	}
}

func (s *Server) logRoute(method, path string) {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	color, ok := methodColors[method]
	if !ok {
		color = Gray
	}
	s.log.Debug().Msgf("[%-19s] %s", color+paddedMethod+ResetColor, path)
}
