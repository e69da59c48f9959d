// Package servertest поднимает полный сигнальный сервер в памяти для тестов
package servertest

import (
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/qrave1/meshroom/internal/application/config"
	"github.com/qrave1/meshroom/internal/infra/adapters/memory"
	"github.com/qrave1/meshroom/internal/infra/ports/http/handlers"
	"github.com/qrave1/meshroom/internal/infra/ports/http/server"
	"github.com/qrave1/meshroom/internal/usecase"
)

type Server struct {
	*httptest.Server

	Registry memory.SessionRegistry
	History  usecase.CallHistoryRepository
}

// WSURL - адрес websocket эндпоинта
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

// Start запускает сервер и закрывает его по окончании теста
func Start(t testing.TB, opts ...memory.RegistryOption) *Server {
	t.Helper()

	cfg := &config.Config{Debug: true}

	registry := memory.NewSessionRegistry(append([]memory.RegistryOption{memory.WithPasswordCost(bcrypt.MinCost)}, opts...)...)
	wsConnRepo := memory.NewWSConnectionRepository()
	history := memory.NewCallHistoryRepository()

	signalingUsecase := usecase.NewSignalingUsecase(registry, wsConnRepo, history)
	roomUsecase := usecase.NewRoomUsecase(registry, history)

	e := server.New(
		handlers.NewIceHandler(cfg),
		handlers.NewRoomHandler(roomUsecase),
		handlers.NewWebSocketHandler(cfg, signalingUsecase, wsConnRepo),
	)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	return &Server{
		Server:   srv,
		Registry: registry,
		History:  history,
	}
}
