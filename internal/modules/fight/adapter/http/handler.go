// Package http exposes the fight engine over a JSON API and a websocket
// change feed.
package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/adapter/ws"
	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/domain"
	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/usecase"
	"github.com/alferparedes26yanez-art/espuelabrava/pkg/logger"
)

// Handler handles HTTP/WebSocket requests
type Handler struct {
	fight   *usecase.FightUseCase
	users   *usecase.UserUseCase
	history *usecase.HistoryUseCase
	manager *ws.Manager
	state   StateSnapshot
}

// StateSnapshot serves the last round state published by any instance.
// adapter/redis.Broadcaster implements it.
type StateSnapshot interface {
	Snapshot(ctx context.Context) (*usecase.RoundState, error)
}

// SetStateSnapshot makes GetFight fall back to s while the store is
// unreachable
func (h *Handler) SetStateSnapshot(s StateSnapshot) {
	h.state = s
}

// NewHandler creates a new HTTP handler. manager may be nil, which
// disables /ws.
func NewHandler(fight *usecase.FightUseCase, users *usecase.UserUseCase, history *usecase.HistoryUseCase, manager *ws.Manager) *Handler {
	return &Handler{
		fight:   fight,
		users:   users,
		history: history,
		manager: manager,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

func limitParam(c *gin.Context) int {
	n, _ := strconv.Atoi(c.Query("limit"))
	return n
}

// ============================================================
// Auth
// ============================================================

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *domain.User `json:"user"`
}

// Login POST /api/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	user, token, expiresAt, err := h.users.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, LoginResponse{Token: token, ExpiresAt: expiresAt, User: user})
}

// ============================================================
// Participant
// ============================================================

// GetFight GET /api/fight
func (h *Handler) GetFight(c *gin.Context) {
	ctx := c.Request.Context()
	st, err := h.fight.GetRoundState(ctx)
	if err != nil && h.state != nil && errors.Is(err, domain.ErrPersistence) {
		snap, serr := h.state.Snapshot(ctx)
		if serr == nil {
			logger.Warn(ctx).Err(err).Msg("serving round snapshot, store unavailable")
			c.Header("X-State-Source", "snapshot")
			c.JSON(http.StatusOK, snap)
			return
		}
		logger.Warn(ctx).Err(serr).Msg("round snapshot unavailable")
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// Me GET /api/me
func (h *Handler) Me(c *gin.Context) {
	user, err := h.users.GetUser(c.Request.Context(), claimsFrom(c).Username)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// MyHistory GET /api/me/history?limit=
func (h *Handler) MyHistory(c *gin.Context) {
	entries, err := h.history.UserHistory(c.Request.Context(), claimsFrom(c).Username, limitParam(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// MyStats GET /api/me/stats
func (h *Handler) MyStats(c *gin.Context) {
	stats, err := h.history.UserStats(c.Request.Context(), claimsFrom(c).Username)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

type WagerRequest struct {
	Outcome string          `json:"outcome" binding:"required"`
	Amount  decimal.Decimal `json:"amount"`
}

// PlaceWager POST /api/wagers
func (h *Handler) PlaceWager(c *gin.Context) {
	var req WagerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	outcome, err := domain.ParseOutcome(req.Outcome)
	if err != nil {
		respondError(c, err)
		return
	}

	wager, err := h.fight.PlaceWager(c.Request.Context(), claimsFrom(c).Username, outcome, req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, wager)
}

// ============================================================
// Operator
// ============================================================

type OpenRequest struct {
	Seconds int `json:"seconds" binding:"required"`
}

// OpenRound POST /api/admin/fight/open
func (h *Handler) OpenRound(c *gin.Context) {
	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.fight.Open(c.Request.Context(), req.Seconds); err != nil {
		respondError(c, err)
		return
	}
	h.GetFight(c)
}

// CloseRound POST /api/admin/fight/close
func (h *Handler) CloseRound(c *gin.Context) {
	if err := h.fight.ForceClose(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	h.GetFight(c)
}

type NumberRequest struct {
	Number int64 `json:"number" binding:"required"`
}

// SetNumber PUT /api/admin/fight/number
func (h *Handler) SetNumber(c *gin.Context) {
	var req NumberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.fight.SetRoundNumber(c.Request.Context(), req.Number); err != nil {
		respondError(c, err)
		return
	}
	h.GetFight(c)
}

type OddsRequest struct {
	Odds decimal.Decimal `json:"odds"`
}

// SetOdds PUT /api/admin/fight/odds
func (h *Handler) SetOdds(c *gin.Context) {
	var req OddsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.fight.SetOdds(c.Request.Context(), req.Odds); err != nil {
		respondError(c, err)
		return
	}
	h.GetFight(c)
}

type SettleRequest struct {
	Outcome string `json:"outcome" binding:"required"`
}

type SettleResponse struct {
	TotalPaid decimal.Decimal `json:"total_paid"`
}

// Settle POST /api/admin/fight/settle
func (h *Handler) Settle(c *gin.Context) {
	var req SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	outcome, err := domain.ParseOutcome(req.Outcome)
	if err != nil {
		respondError(c, err)
		return
	}

	paid, err := h.fight.Settle(c.Request.Context(), outcome)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, SettleResponse{TotalPaid: paid})
}

// ListUsers GET /api/admin/users
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.users.ListParticipants(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

type CreateUserRequest struct {
	Name     string `json:"name" binding:"required"`
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// CreateUser POST /api/admin/users
func (h *Handler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	user, err := h.users.CreateUser(c.Request.Context(), req.Name, req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

type AdjustRequest struct {
	Amount    decimal.Decimal        `json:"amount"`
	Direction domain.AdjustDirection `json:"direction" binding:"required"`
}

// AdjustBalance POST /api/admin/users/:username/balance
func (h *Handler) AdjustBalance(c *gin.Context) {
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	user, err := h.fight.Adjust(c.Request.Context(), c.Param("username"), req.Amount, req.Direction)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// RecentRounds GET /api/admin/history?limit=
func (h *Handler) RecentRounds(c *gin.Context) {
	entries, err := h.history.RecentRounds(c.Request.Context(), limitParam(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// TodayRounds GET /api/admin/history/today?limit=
func (h *Handler) TodayRounds(c *gin.Context) {
	entries, err := h.history.TodayRounds(c.Request.Context(), limitParam(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// RoundDetail GET /api/admin/history/:number
func (h *Handler) RoundDetail(c *gin.Context) {
	number, err := strconv.ParseInt(c.Param("number"), 10, 64)
	if err != nil {
		badRequest(c, "round number must be an integer")
		return
	}
	entry, err := h.history.RoundDetail(c.Request.Context(), number)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// ============================================================
// WebSocket
// ============================================================

// HandleWebSocket GET /ws?token=
func (h *Handler) HandleWebSocket(c *gin.Context) {
	// The connection outlives the request context
	ctx := logger.DetachedContext(c.Request)

	token := c.Query("token")
	if token == "" {
		logger.Warn(ctx).Msg("websocket: missing token")
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Code: "unauthorized", Message: "missing token"})
		return
	}
	claims, err := h.users.ValidateToken(ctx, token)
	if err != nil {
		logger.Warn(ctx).Err(err).Msg("websocket: token rejected")
		respondError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error(ctx).Err(err).Msg("websocket: upgrade failed")
		return
	}

	logger.Info(ctx).
		Str("username", claims.Username).
		Str("remote_addr", c.Request.RemoteAddr).
		Msg("websocket connected")

	client := h.manager.Register(conn, claims.Username)
	go client.WritePump()
	go client.ReadPump()
}
