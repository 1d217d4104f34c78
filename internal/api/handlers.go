package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/suspectuso/ton-checkout/internal/backend"
	"github.com/suspectuso/ton-checkout/internal/payment"
	"github.com/suspectuso/ton-checkout/internal/qr"
	"github.com/suspectuso/ton-checkout/internal/storage"
	"github.com/suspectuso/ton-checkout/internal/walletbridge"
)

type createSessionRequest struct {
	UserKey      string `json:"user_key" binding:"required"`
	ProductType  string `json:"product_type" binding:"required"`
	ProductID    string `json:"product_id" binding:"required"`
	Amount       string `json:"amount" binding:"required"`
	PayerAddress string `json:"payer_address" binding:"required,tonaddr"`
	UserID       string `json:"user_id" binding:"required"`
}

type openDepositRequest struct {
	UserKey     string `json:"user_key" binding:"required"`
	ProductType string `json:"product_type" binding:"required"`
	ProductID   string `json:"product_id" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
	UserID      string `json:"user_id" binding:"required"`
}

type signatureRequest struct {
	BOC string `json:"boc" binding:"required"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func identityFrom(c *gin.Context, userID string) backend.Identity {
	return backend.Identity{
		Raw:    c.GetHeader("X-Identity"),
		UserID: userID,
	}
}

func sessionView(sess *payment.Session) gin.H {
	view := gin.H{
		"id":             sess.ID,
		"status":         string(sess.Status),
		"method":         string(sess.Method),
		"product_ref":    sess.ProductRef(),
		"amount":         sess.Amount.String(),
		"correlation_id": sess.CorrelationID,
		"created_at":     sess.CreatedAt,
	}
	if sess.ExpiresAt != nil {
		view["expires_at"] = sess.ExpiresAt
	}
	if sess.Outcome != (payment.Outcome{}) {
		view["outcome"] = sess.Outcome
	}
	return view
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	relay := walletbridge.NewRelay()
	ctl, err := s.service.StartSession(identityFrom(c, req.UserID), payment.CheckoutRequest{
		UserKey:      req.UserKey,
		ProductType:  req.ProductType,
		ProductID:    req.ProductID,
		Amount:       amount,
		PayerAddress: req.PayerAddress,
	}, relay)
	if err != nil {
		s.writeError(c, err)
		return
	}

	sessionID := ctl.Session().ID
	s.registerRelay(sessionID, relay)
	go func() {
		<-ctl.Done()
		s.dropRelay(sessionID)
	}()

	c.JSON(http.StatusCreated, sessionView(ctl.Session()))
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, err := s.service.GetSession(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionView(sess))
}

// handleGetSignatureRequest returns the transaction the wallet should sign,
// once the controller has built it. 202 while discovery/encoding is still
// running.
func (s *Server) handleGetSignatureRequest(c *gin.Context) {
	relay, ok := s.relay(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending session"})
		return
	}

	pending := relay.Pending()
	if pending == nil {
		c.JSON(http.StatusAccepted, gin.H{"status": "preparing"})
		return
	}
	c.JSON(http.StatusOK, pending)
}

func (s *Server) handleDeliverSignature(c *gin.Context) {
	var req signatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	relay, ok := s.relay(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending session"})
		return
	}

	if err := relay.Deliver(walletbridge.Result{BOC: req.BOC}); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "signature already answered"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

func (s *Server) handleRejectSignature(c *gin.Context) {
	var req rejectRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "user declined"
	}

	relay, ok := s.relay(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending session"})
		return
	}

	if err := relay.Reject(&payment.WalletRejectedError{Cause: req.Reason}); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "signature already answered"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

func (s *Server) handleCancelSession(c *gin.Context) {
	sess, err := s.service.GetSession(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	ctl, ok := s.service.Controller(sess.UserKey)
	if !ok || ctl.Session().ID != sess.ID {
		c.JSON(http.StatusConflict, gin.H{"error": "session is not in flight"})
		return
	}

	ctl.Cancel()
	c.JSON(http.StatusOK, gin.H{"status": "cancelling"})
}

func (s *Server) handleOpenDeposit(c *gin.Context) {
	var req openDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	coord, instr, err := s.service.OpenDeposit(c.Request.Context(), identityFrom(c, req.UserID), payment.CheckoutRequest{
		UserKey:     req.UserKey,
		ProductType: req.ProductType,
		ProductID:   req.ProductID,
		Amount:      amount,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session":      sessionView(coord.Session()),
		"instructions": instr,
	})
}

func (s *Server) handleGetDeposit(c *gin.Context) {
	coord, ok := s.service.Deposit(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "deposit not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session":           sessionView(coord.Session()),
		"remaining_seconds": int64(coord.Remaining(time.Now()).Seconds()),
	})
}

func (s *Server) handleVerifyDeposit(c *gin.Context) {
	coord, ok := s.service.Deposit(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "deposit not found"})
		return
	}

	verified, err := coord.Verify(c.Request.Context())
	if err != nil {
		if errors.Is(err, payment.ErrDepositExpired) {
			c.JSON(http.StatusGone, gin.H{
				"status":  "expired",
				"outcome": coord.Session().Outcome,
			})
			return
		}
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"verified": verified})
}

func (s *Server) handleDepositQR(c *gin.Context) {
	coord, ok := s.service.Deposit(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "deposit not found"})
		return
	}

	png, err := qr.DepositPNG(coord.Address(), coord.Session().CorrelationID, 256)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "render qr"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) writeError(c *gin.Context, err error) {
	var vErr *payment.ValidationError

	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, payment.ErrSessionInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, payment.ErrSessionNotFound), errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		s.log.Error("api error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
