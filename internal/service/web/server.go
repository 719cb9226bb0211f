package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grass_farm/internal/shared/logger"
)

// loggingListener 在 debug 级别记录每个接入的连接
type loggingListener struct {
	net.Listener
}

func (l loggingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err == nil {
		logger.Debug().Msgf("[WebServer] Connection accepted from: %s", conn.RemoteAddr())
	}
	return conn, err
}

// Server 是只读的状态服务：/metrics、/api/sessions 和 /ws。
type Server struct {
	listen  string
	board   *Board
	hub     *Hub
	handler *Handler
	srv     *http.Server
	addr    net.Addr
}

func NewServer(listen string, board *Board, hub *Hub) *Server {
	return &Server{
		listen:  listen,
		board:   board,
		hub:     hub,
		handler: NewHandler(board),
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/healthz", s.handler.HandleHealth).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sessions", s.handler.HandleSessions).Methods("GET")

	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWs(s.hub, w, r)
	})
	return router
}

// Start 开始监听，直到 ctx 结束后优雅关闭。listen 为空时不启动。
func (s *Server) Start(ctx context.Context, wg *sync.WaitGroup) error {
	l := logger.WithComponent("Web")
	if s.listen == "" {
		l.Info().Msg("Status server is disabled (web.listen is empty).")
		return nil
	}

	listener, err := net.Listen("tcp", s.listen)
	if err != nil {
		return err
	}
	s.addr = listener.Addr()
	s.srv = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		s.hub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := s.srv.Serve(loggingListener{Listener: listener}); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error().Err(err).Msg("Web server error")
		}
		l.Info().Msg("Web server stopped.")
	}()
	context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	})

	l.Info().Msgf("Status server is listening on http://%s", s.addr)
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() net.Addr {
	return s.addr
}
