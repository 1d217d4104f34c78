package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/suspectuso/ton-checkout/internal/payment"
	"github.com/suspectuso/ton-checkout/internal/tonapi"
	"github.com/suspectuso/ton-checkout/internal/walletbridge"
)

// Server is the HTTP surface for a checkout front-end. The wallet signature
// round-trip goes through here: the controller parks on a walletbridge.Relay
// and the front-end answers via the signature endpoints.
type Server struct {
	service *payment.Service
	log     *slog.Logger

	mu     sync.Mutex
	relays map[string]*walletbridge.Relay // by session id

	httpServer *http.Server
}

// NewServer creates the API server and registers the custom validators.
func NewServer(service *payment.Service, log *slog.Logger) *Server {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("tonaddr", func(fl validator.FieldLevel) bool {
			return tonapi.IsValidAddress(fl.Field().String())
		})
	}

	return &Server{
		service: service,
		log:     log,
		relays:  make(map[string]*walletbridge.Relay),
	}
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)

	co := r.Group("/api/checkout")
	{
		co.POST("/sessions", s.handleCreateSession)
		co.GET("/sessions/:id", s.handleGetSession)
		co.GET("/sessions/:id/request", s.handleGetSignatureRequest)
		co.POST("/sessions/:id/signature", s.handleDeliverSignature)
		co.POST("/sessions/:id/reject", s.handleRejectSignature)
		co.POST("/sessions/:id/cancel", s.handleCancelSession)

		co.POST("/deposits", s.handleOpenDeposit)
		co.GET("/deposits/:id", s.handleGetDeposit)
		co.POST("/deposits/:id/verify", s.handleVerifyDeposit)
		co.GET("/deposits/:id/qr", s.handleDepositQR)
	}

	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, port int) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.log.Info("starting api server", "port", port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	return s.httpServer.ListenAndServe()
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

func (s *Server) relay(sessionID string) (*walletbridge.Relay, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	relay, ok := s.relays[sessionID]
	return relay, ok
}

func (s *Server) registerRelay(sessionID string, relay *walletbridge.Relay) {
	s.mu.Lock()
	s.relays[sessionID] = relay
	s.mu.Unlock()
}

func (s *Server) dropRelay(sessionID string) {
	s.mu.Lock()
	delete(s.relays, sessionID)
	s.mu.Unlock()
}
