package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"main/internal/broadcast"
	"main/internal/bus"
	"main/internal/engine"
	"main/internal/ledger"
	"main/internal/market"
	"main/internal/store"
	"main/internal/trade"
	"main/internal/transport"
)

// TradeRequest is the inbound order submission body. Quantity carries no
// binding tag: a zero or missing quantity flows to the engine so every
// quantity rejection gets the same taxonomy error.
type TradeRequest struct {
	Symbol   string          `json:"symbol" binding:"required"`
	Quantity int64           `json:"quantity"`
	Side     trade.Side      `json:"side" binding:"required"`
	Price    decimal.Decimal `json:"price"`
}

// Server exposes the HTTP surface: order submission, account and
// notification reads, and the websocket progress stream.
type Server struct {
	baseCtx  context.Context
	engine   *engine.Engine
	ledger   *ledger.Ledger
	store    store.Store
	registry *broadcast.Registry
	streamer *market.Streamer
	prices   market.Source
	apiKeys  map[string]string
}

// NewServer wires the API against the core services. baseCtx bounds the
// lifetime of background work started on behalf of requests; apiKeys maps
// inbound api-key headers to account ids.
func NewServer(baseCtx context.Context, eng *engine.Engine, led *ledger.Ledger, st store.Store, registry *broadcast.Registry, streamer *market.Streamer, prices market.Source, apiKeys map[string]string) *Server {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Server{
		baseCtx:  baseCtx,
		engine:   eng,
		ledger:   led,
		store:    st,
		registry: registry,
		streamer: streamer,
		prices:   prices,
		apiKeys:  apiKeys,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authed := r.Group("/", s.authenticate)
	authed.POST("/trades/send", s.submitTrade)
	authed.GET("/accounts/me", s.account)
	authed.GET("/notifications", s.notifications)
	authed.POST("/market/stream", s.streamQuotes)
	authed.GET("/trade-progress/ws", transport.ProgressHandler(s.registry))

	return r
}

// authenticate resolves the api-key header to an account id. Identity
// verification proper lives outside this service; this mirrors the narrow
// key→account contract at the boundary.
func (s *Server) authenticate(c *gin.Context) {
	key := c.GetHeader("api-key")
	if key == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "api key must be provided"})
		return
	}
	accountID, ok := s.apiKeys[key]
	if !ok {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid api key"})
		return
	}
	c.Set("accountID", accountID)
	c.Next()
}

// submitTrade validates the order and enqueues it. Acceptance is
// synchronous; the execution outcome arrives via the progress stream.
func (s *Server) submitTrade(c *gin.Context) {
	var req TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	price := req.Price
	if price.IsZero() {
		quoted, err := s.prices.CurrentPrice(req.Symbol)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no price available for " + req.Symbol})
			return
		}
		price = quoted
	}

	tradeID, err := s.engine.Submit(c.GetString("accountID"), req.Symbol, req.Quantity, req.Side, price)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrInvalidOrder):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, bus.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "order queue full"})
		return
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "success",
		"processing": true,
		"tradeId":    tradeID,
	})
}

// account returns the caller's current cash, holdings and portfolio value.
func (s *Server) account(c *gin.Context) {
	accountID := c.GetString("accountID")
	account, ok := s.ledger.Account(accountID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}

	holdings := make([]gin.H, 0, len(account.Holdings))
	portfolio := decimal.Zero
	for _, h := range account.Holdings {
		entry := gin.H{
			"symbol":          h.Symbol,
			"quantity":        h.Quantity,
			"firstAcquiredAt": h.FirstAcquiredAt,
		}
		if price, err := s.prices.CurrentPrice(h.Symbol); err == nil {
			value := price.Mul(decimal.NewFromInt(h.Quantity))
			entry["value"] = value
			portfolio = portfolio.Add(value)
		}
		holdings = append(holdings, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"id":             account.ID,
		"cash":           account.Cash,
		"holdings":       holdings,
		"portfolioValue": portfolio,
	})
}

// notifications lists the caller's unread notifications.
func (s *Server) notifications(c *gin.Context) {
	out, err := s.store.UnreadNotifications(c.Request.Context(), c.GetString("accountID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": out})
}

// streamQuotes starts a quote stream for the caller's watched symbols.
type streamRequest struct {
	Symbols []string `json:"symbols" binding:"required"`
}

func (s *Server) streamQuotes(c *gin.Context) {
	var req streamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	accountID := c.GetString("accountID")
	if !s.registry.Connected(accountID) {
		c.JSON(http.StatusConflict, gin.H{"error": "no live progress connection"})
		return
	}
	// The stream outlives this request: it runs until the account's channel
	// goes dead or the server shuts down.
	started := s.streamer.Stream(s.baseCtx, accountID, req.Symbols)
	c.JSON(http.StatusOK, gin.H{"streaming": started})
}
