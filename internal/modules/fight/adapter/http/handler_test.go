package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/adapter/ws"
	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/domain"
	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/machine"
	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/notifier"
	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/repository/memory"
	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/usecase"
	"github.com/alferparedes26yanez-art/espuelabrava/pkg/admin"
	"github.com/alferparedes26yanez-art/espuelabrava/pkg/metrics"
)

type server struct {
	t       *testing.T
	router  *gin.Engine
	handler *Handler
}

func newServer(t *testing.T) *server {
	return newServerWithManager(t, nil)
}

func newServerWithManager(t *testing.T, manager *ws.Manager) *server {
	return newServerOn(t, memory.NewStore(), manager)
}

func newServerOn(t *testing.T, store domain.Store, manager *ws.Manager) *server {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	m := metrics.New()
	// The countdown never fires during a test
	clock := machine.NewClock(time.Hour)
	fight := usecase.NewFightUseCase(store, clock, notifier.New(), m)
	users := usecase.NewUserUseCase(store, "test-secret", time.Hour, bcrypt.MinCost)
	history := usecase.NewHistoryUseCase(store)
	t.Cleanup(fight.Shutdown)

	require.NoError(t, users.EnsureOperator(ctx, "admin", "admin123", "Operador"))

	h := NewHandler(fight, users, history, manager)
	return &server{t: t, router: NewRouter(h, m.Handler(), admin.NewProfiler()), handler: h}
}

func (s *server) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *server) login(username, password string) string {
	w := s.do(http.MethodPost, "/api/auth/login", "", gin.H{"username": username, "password": password})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	var resp LoginResponse
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Token
}

func (s *server) participant(username string, funds int64) string {
	op := s.login("admin", "admin123")
	w := s.do(http.MethodPost, "/api/admin/users", op, gin.H{"name": username, "username": username, "password": "secret"})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	if funds > 0 {
		w = s.do(http.MethodPost, "/api/admin/users/"+username+"/balance", op, gin.H{"amount": funds, "direction": "add"})
		require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	}
	return s.login(username, "secret")
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	return decode[ErrorResponse](t, w).Code
}

func TestRoundTripOverHTTP(t *testing.T) {
	s := newServer(t)
	op := s.login("admin", "admin123")
	juan := s.participant("juan", 100)

	w := s.do(http.MethodPost, "/api/admin/fight/open", op, gin.H{"seconds": 60})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	st := decode[usecase.RoundState](t, w)
	assert.True(t, st.Open)
	assert.Equal(t, 60, st.RemainingSeconds)

	w = s.do(http.MethodPost, "/api/wagers", juan, gin.H{"outcome": "rojo", "amount": "20"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	wager := decode[domain.Wager](t, w)
	assert.Equal(t, domain.OutcomeRed, wager.Outcome)

	w = s.do(http.MethodGet, "/api/me", juan, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[domain.User](t, w).Balance.Equal(decimal.NewFromInt(80)))

	w = s.do(http.MethodGet, "/api/fight", juan, nil)
	require.Equal(t, http.StatusOK, w.Code)
	st = decode[usecase.RoundState](t, w)
	require.Len(t, st.Wagers, 1)
	assert.True(t, st.TotalsByOutcome[domain.OutcomeRed].Equal(decimal.NewFromInt(20)))

	w = s.do(http.MethodPost, "/api/admin/fight/close", op, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/api/admin/fight/settle", op, gin.H{"outcome": "red"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[SettleResponse](t, w).TotalPaid.Equal(decimal.NewFromInt(36)))

	w = s.do(http.MethodGet, "/api/me", juan, nil)
	assert.True(t, decode[domain.User](t, w).Balance.Equal(decimal.NewFromInt(116)))

	w = s.do(http.MethodGet, "/api/admin/history", op, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]domain.RoundHistoryEntry](t, w), 1)

	w = s.do(http.MethodGet, "/api/admin/history/today", op, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]domain.RoundHistoryEntry](t, w), 1)

	w = s.do(http.MethodGet, "/api/admin/history/1", op, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	entry := decode[domain.RoundHistoryEntry](t, w)
	assert.Equal(t, domain.OutcomeRed, entry.Outcome)
	assert.Equal(t, 1, entry.WagerCount)

	w = s.do(http.MethodGet, "/api/me/history", juan, nil)
	require.Equal(t, http.StatusOK, w.Code)
	hist := decode[[]domain.UserHistoryEntry](t, w)
	require.Len(t, hist, 1)
	assert.True(t, hist[0].Won)

	w = s.do(http.MethodGet, "/api/me/stats", juan, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[domain.UserStats](t, w).Won)

	w = s.do(http.MethodGet, "/api/admin/users", op, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]domain.User](t, w), 1)
}

func TestOperatorRoundSettings(t *testing.T) {
	s := newServer(t)
	op := s.login("admin", "admin123")

	w := s.do(http.MethodPut, "/api/admin/fight/number", op, gin.H{"number": 12})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int64(12), decode[usecase.RoundState](t, w).Number)

	w = s.do(http.MethodPut, "/api/admin/fight/odds", op, gin.H{"odds": "2.5"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[usecase.RoundState](t, w).Odds.Equal(decimal.RequireFromString("2.5")))

	w = s.do(http.MethodPut, "/api/admin/fight/odds", op, gin.H{"odds": "0"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthentication(t *testing.T) {
	s := newServer(t)
	juan := s.participant("juan", 10)
	op := s.login("admin", "admin123")

	w := s.do(http.MethodPost, "/api/auth/login", "", gin.H{"username": "juan", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/api/auth/login", "", gin.H{"username": "ghost", "password": "x"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/api/fight", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/api/fight", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/api/admin/fight/open", juan, gin.H{"seconds": 60})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", errorCode(t, w))

	w = s.do(http.MethodPost, "/api/wagers", op, gin.H{"outcome": "red", "amount": 1})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestErrorStatuses(t *testing.T) {
	s := newServer(t)
	op := s.login("admin", "admin123")
	juan := s.participant("juan", 10)

	w := s.do(http.MethodPost, "/api/wagers", juan, gin.H{"outcome": "red", "amount": 5})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "round_closed", errorCode(t, w))

	w = s.do(http.MethodPost, "/api/admin/fight/settle", op, gin.H{"outcome": "red"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_transition", errorCode(t, w))

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/admin/fight/open", op, gin.H{"seconds": 30}).Code)

	w = s.do(http.MethodPost, "/api/wagers", juan, gin.H{"outcome": "red", "amount": 50})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "insufficient_funds", errorCode(t, w))

	w = s.do(http.MethodPost, "/api/wagers", juan, gin.H{"outcome": "green", "amount": 5})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/wagers", juan, gin.H{"outcome": "red", "amount": -5})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/admin/fight/open", op, gin.H{"seconds": 30})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, "/api/admin/fight/open", op, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/admin/users", op, gin.H{"name": "Juan", "username": "juan", "password": "x"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, "/api/admin/users/ghost/balance", op, gin.H{"amount": 5, "direction": "add"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, "/api/admin/users/juan/balance", op, gin.H{"amount": 5, "direction": "sideways"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/admin/history/99", op, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/api/admin/history/abc", op, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "espuela_")

	w = s.do(http.MethodGet, "/ws", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "websocket route needs a manager")
}

func TestProfileIsOperatorOnly(t *testing.T) {
	s := newServer(t)
	juan := s.participant("juan", 0)
	operator := s.login("admin", "admin123")

	w := s.do(http.MethodGet, "/api/admin/debug/profile?seconds=0.02", juan, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/api/admin/debug/profile?seconds=0.02", operator, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{domain.ErrInvalidArgument, http.StatusBadRequest},
		{domain.ErrInvalidTransition, http.StatusConflict},
		{domain.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{domain.ErrNotFound, http.StatusNotFound},
		{&domain.PersistenceError{Op: "save", Err: errors.New("disk")}, http.StatusInternalServerError},
		{errors.New("anything else"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, _ := StatusFor(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
	}
}

func TestWebSocketRequiresValidToken(t *testing.T) {
	manager := ws.NewManager(ws.Options{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go manager.Run(ctx)

	s := newServerWithManager(t, manager)
	juan := s.participant("juan", 0)

	srv := httptest.NewServer(s.router)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url+"?token=bogus", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+juan, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return manager.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	manager.Observe(context.Background())
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "changed")
}

// unreachableRound fails plain round reads while down is set
type unreachableRound struct {
	*memory.Store
	down atomic.Bool
}

func (s *unreachableRound) LoadRound(ctx context.Context) (*domain.Round, error) {
	if s.down.Load() {
		return nil, errors.New("connection refused")
	}
	return s.Store.LoadRound(ctx)
}

type fixedSnapshot struct {
	state *usecase.RoundState
	err   error
}

func (f fixedSnapshot) Snapshot(context.Context) (*usecase.RoundState, error) {
	return f.state, f.err
}

func TestGetFightFallsBackToSnapshot(t *testing.T) {
	store := &unreachableRound{Store: memory.NewStore()}
	s := newServerOn(t, store, nil)
	juan := s.participant("juan", 0)

	w := s.do(http.MethodGet, "/api/fight", juan, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-State-Source"))

	store.down.Store(true)
	w = s.do(http.MethodGet, "/api/fight", juan, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code, "no snapshot configured")

	s.handler.SetStateSnapshot(fixedSnapshot{err: errors.New("redis: nil")})
	w = s.do(http.MethodGet, "/api/fight", juan, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code, "snapshot missing too")

	s.handler.SetStateSnapshot(fixedSnapshot{state: &usecase.RoundState{Number: 7, Open: true, RemainingSeconds: 12}})
	w = s.do(http.MethodGet, "/api/fight", juan, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "snapshot", w.Header().Get("X-State-Source"))
	st := decode[usecase.RoundState](t, w)
	assert.Equal(t, int64(7), st.Number)
	assert.Equal(t, 12, st.RemainingSeconds)

	store.down.Store(false)
	w = s.do(http.MethodGet, "/api/fight", juan, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-State-Source"))
}
