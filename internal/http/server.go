package httpx

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/discuno/discuno-sub000/internal/domain"
	"github.com/discuno/discuno-sub000/internal/service"
)

// Server wires the webhook and operator routes.
type Server struct {
	sync         *service.Synchronizer
	settlement   *service.Settlement
	ranker       *service.Ranker
	availability *service.AvailabilityMapper
	tokens       *service.TokenManager
	eventTypes   *service.EventTypes
	webhookToken string
	jwtSecret    string
	log          *zap.Logger
}

func NewServer(sync *service.Synchronizer, settlement *service.Settlement, ranker *service.Ranker, availability *service.AvailabilityMapper, tokens *service.TokenManager, eventTypes *service.EventTypes, webhookToken, jwtSecret string, log *zap.Logger) *Server {
	return &Server{
		sync:         sync,
		settlement:   settlement,
		ranker:       ranker,
		availability: availability,
		tokens:       tokens,
		eventTypes:   eventTypes,
		webhookToken: webhookToken,
		jwtSecret:    jwtSecret,
		log:          log,
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	wh := r.Group("/webhooks")
	wh.POST("/scheduling", s.schedulingWebhook)
	wh.POST("/processor", s.processorWebhook)

	api := r.Group("/api/v1", JWTMiddleware(s.jwtSecret))
	api.POST("/mentors/:id/scheduling/connect", s.connectScheduling)
	api.GET("/mentors/:id/availability", s.getAvailability)
	api.PUT("/mentors/:id/availability", s.putAvailability)
	api.POST("/mentors/:id/payout-account", s.onboardPayoutAccount)
	api.POST("/mentors/:id/payout-account/session", s.accountSession)
	api.POST("/mentors/:id/payout-account/refresh", s.refreshAccountStatus)
	api.GET("/mentors/:id/earnings", s.earnings)
	api.POST("/mentors/:id/checkout", s.createCheckout)
	api.POST("/event-types", s.createEventType)
	api.PATCH("/event-types/:externalId/price", s.setEventTypePrice)
	api.POST("/event-types/:externalId/enable", s.enableEventType)
	api.POST("/bookings/:uid/cancel", s.cancelBooking)
	api.POST("/bookings/:uid/no-show", s.markNoShow)

	admin := r.Group("/admin", JWTMiddleware(s.jwtSecret), RequireRole("operator"))
	admin.POST("/transfers/run", s.runTransferBatch)
	admin.POST("/ranking/process", s.processRanking)
	admin.POST("/ranking/decay", s.decayRanking)

	return r
}

func (s *Server) schedulingWebhook(c *gin.Context) {
	if s.webhookToken != "" && c.GetHeader("Authorization") != "Bearer "+s.webhookToken {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if _, err := s.sync.HandleWebhook(c.Request.Context(), raw); err != nil {
		var mw *domain.MalformedWebhookError
		var iv *domain.InvariantViolationError
		switch {
		case errors.As(err, &mw):
			// Audited and discarded; 200 so the provider stops retrying.
			c.Status(http.StatusOK)
		case errors.As(err, &iv):
			// Already logged loudly and the audit row keeps the payload.
			// Redelivery can never make an illegal transition legal, so ack.
			c.Status(http.StatusOK)
		default:
			s.log.Error("scheduling webhook", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		}
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) processorWebhook(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if _, err := s.settlement.HandleProcessorWebhook(c.Request.Context(), raw); err != nil {
		var mw *domain.MalformedWebhookError
		var iv *domain.InvariantViolationError
		switch {
		case errors.As(err, &mw):
			c.Status(http.StatusOK)
		case errors.As(err, &iv):
			c.Status(http.StatusOK)
		default:
			s.log.Error("processor webhook", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		}
		return
	}
	c.Status(http.StatusOK)
}

type connectBody struct {
	Code      string `json:"code" binding:"required"`
	AccountID int64  `json:"account_id" binding:"required"`
	Username  string `json:"username"`
}

func (s *Server) connectScheduling(c *gin.Context) {
	var body connectBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cred, err := s.tokens.Connect(c.Request.Context(), c.Param("id"), body.AccountID, body.Username, body.Code)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not connect scheduling account"})
		s.log.Warn("scheduling connect failed", zap.String("mentor_id", c.Param("id")), zap.Error(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider_username": cred.ProviderUsername})
}

func (s *Server) getAvailability(c *gin.Context) {
	weekly, overrides, err := s.availability.Pull(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderTokenError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"weekly": weekly, "overrides": overrides})
}

type availabilityBody struct {
	Weekly    service.WeeklyAvailability `json:"weekly"`
	Overrides []service.LocalOverride    `json:"overrides"`
}

func (s *Server) putAvailability(c *gin.Context) {
	var body availabilityBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.availability.Push(c.Request.Context(), c.Param("id"), body.Weekly, body.Overrides); err != nil {
		s.renderTokenError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type onboardBody struct {
	Email   string `json:"email" binding:"required"`
	Country string `json:"country" binding:"required"`
}

func (s *Server) onboardPayoutAccount(c *gin.Context) {
	var body onboardBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	account, err := s.settlement.OnboardPayoutAccount(c.Request.Context(), c.Param("id"), body.Email, body.Country)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "complete payment processor setup"})
		s.log.Warn("payout onboarding failed", zap.String("mentor_id", c.Param("id")), zap.Error(err))
		return
	}
	c.JSON(http.StatusOK, account)
}

func (s *Server) accountSession(c *gin.Context) {
	secret, err := s.settlement.AccountSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "complete payment processor setup"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"client_secret": secret})
}

func (s *Server) refreshAccountStatus(c *gin.Context) {
	account, err := s.settlement.RefreshAccountStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "complete payment processor setup"})
		return
	}
	c.JSON(http.StatusOK, account)
}

func (s *Server) earnings(c *gin.Context) {
	e, err := s.settlement.Earnings(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total_minor":       e.TotalMinor,
		"pending_minor":     e.PendingMinor,
		"transferred_count": e.TransferredCount,
	})
}

type checkoutBody struct {
	ProductName string `json:"product_name" binding:"required"`
	Amount      int64  `json:"amount" binding:"required"`
	Currency    string `json:"currency" binding:"required"`
	SuccessURL  string `json:"success_url" binding:"required"`
	CancelURL   string `json:"cancel_url" binding:"required"`
	BookingUID  string `json:"booking_uid"`
}

func (s *Server) createCheckout(c *gin.Context) {
	var body checkoutBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	_, url, err := s.settlement.CreateCheckout(c.Request.Context(), service.CheckoutRequest{
		MentorID:    c.Param("id"),
		ProductName: body.ProductName,
		AmountMinor: body.Amount,
		Currency:    body.Currency,
		SuccessURL:  body.SuccessURL,
		CancelURL:   body.CancelURL,
		BookingUID:  body.BookingUID,
	})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not start checkout"})
		s.log.Warn("checkout failed", zap.String("mentor_id", c.Param("id")), zap.Error(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkout_url": url})
}

type eventTypeBody struct {
	MentorID     string `json:"mentor_id" binding:"required"`
	ExternalID   int64  `json:"external_id" binding:"required"`
	Title        string `json:"title" binding:"required"`
	Description  string `json:"description"`
	DurationMins int    `json:"duration_mins" binding:"required"`
	PriceMinor   *int64 `json:"price_minor"`
	Currency     string `json:"currency"`
}

func (s *Server) createEventType(c *gin.Context) {
	var body eventTypeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	et := &domain.MentorEventType{
		MentorID:     body.MentorID,
		ExternalID:   body.ExternalID,
		Title:        body.Title,
		Description:  body.Description,
		DurationMins: body.DurationMins,
		PriceMinor:   body.PriceMinor,
		Currency:     body.Currency,
	}
	if err := s.eventTypes.Create(c.Request.Context(), et); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusCreated, et)
}

type priceBody struct {
	PriceMinor *int64 `json:"price_minor"`
	Currency   string `json:"currency"`
}

func (s *Server) setEventTypePrice(c *gin.Context) {
	externalID, err := strconv.ParseInt(c.Param("externalId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad event type id"})
		return
	}
	var body priceBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	et, err := s.eventTypes.SetPrice(c.Request.Context(), externalID, body.PriceMinor, body.Currency)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event type not found"})
		return
	}
	c.JSON(http.StatusOK, et)
}

func (s *Server) enableEventType(c *gin.Context) {
	externalID, err := strconv.ParseInt(c.Param("externalId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad event type id"})
		return
	}
	et, err := s.eventTypes.Enable(c.Request.Context(), externalID)
	if err != nil {
		if errors.Is(err, service.ErrPayoutsNotReady) {
			c.JSON(http.StatusConflict, gin.H{"error": "complete payment processor setup"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "event type not found"})
		return
	}
	c.JSON(http.StatusOK, et)
}

type cancelBody struct {
	MentorID string `json:"mentor_id" binding:"required"`
	Reason   string `json:"reason"`
}

func (s *Server) cancelBooking(c *gin.Context) {
	var body cancelBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	b, err := s.sync.Cancel(c.Request.Context(), body.MentorID, c.Param("uid"), body.Reason)
	if err != nil {
		s.renderTokenError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": b.Status})
}

type noShowBody struct {
	Host     bool `json:"host"`
	Attendee bool `json:"attendee"`
}

func (s *Server) markNoShow(c *gin.Context) {
	var body noShowBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	b, err := s.sync.MarkNoShow(c.Request.Context(), c.Param("uid"), body.Host, body.Attendee)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "booking not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"host_no_show":     b.HostNoShow,
		"attendee_no_show": b.AttendeeNoShow,
	})
}

func (s *Server) runTransferBatch(c *gin.Context) {
	n, err := s.settlement.RunTransferBatch(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transferred": n})
}

func (s *Server) processRanking(c *gin.Context) {
	n, err := s.ranker.ProcessBatch(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"processed": n})
}

func (s *Server) decayRanking(c *gin.Context) {
	if err := s.ranker.ApplyDecay(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.Status(http.StatusNoContent)
}

// renderTokenError maps credential failures onto an actionable message
// instead of raw provider text.
func (s *Server) renderTokenError(c *gin.Context, err error) {
	var authErr *domain.AuthError
	switch {
	case errors.Is(err, domain.ErrNoCredential), errors.As(err, &authErr):
		c.JSON(http.StatusConflict, gin.H{"error": "reconnect your scheduling account"})
	default:
		s.log.Error("provider call failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "scheduling provider unavailable"})
	}
}
