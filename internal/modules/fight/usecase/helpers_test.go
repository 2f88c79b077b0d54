package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/domain"
	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/notifier"
	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/repository/memory"
	"github.com/alferparedes26yanez-art/espuelabrava/pkg/metrics"
)

var errDisk = errors.New("disk unavailable")

// fakeClock never ticks on its own; tests call Fire.
type fakeClock struct {
	mu      sync.Mutex
	ctx     context.Context
	fn      func(context.Context)
	running bool
	starts  int
	stops   int
}

func (c *fakeClock) Start(ctx context.Context, fn func(context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ctx, c.fn, c.running = ctx, fn, true
	c.starts++
}

func (c *fakeClock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	c.stops++
}

func (c *fakeClock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Fire delivers one tick if the clock is running
func (c *fakeClock) Fire() bool {
	c.mu.Lock()
	fn, ctx, running := c.fn, c.ctx, c.running
	c.mu.Unlock()
	if !running {
		return false
	}
	fn(ctx)
	return true
}

type countingNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *countingNotifier) Notify(context.Context) {
	n.mu.Lock()
	n.count++
	n.mu.Unlock()
}

func (n *countingNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}

// failingStore injects errDisk into one repository method while armed
type failingStore struct {
	domain.Store
	mu     sync.Mutex
	failOn string
}

func (s *failingStore) arm(method string) {
	s.mu.Lock()
	s.failOn = method
	s.mu.Unlock()
}

func (s *failingStore) fails(method string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failOn == method
}

func (s *failingStore) Atomic(ctx context.Context, fn func(repo domain.Repository) error) error {
	return s.Store.Atomic(ctx, func(repo domain.Repository) error {
		return fn(&failingRepo{Repository: repo, s: s})
	})
}

type failingRepo struct {
	domain.Repository
	s *failingStore
}

func (r *failingRepo) AddBalance(ctx context.Context, username string, delta decimal.Decimal) error {
	if r.s.fails("AddBalance") {
		return errDisk
	}
	return r.Repository.AddBalance(ctx, username, delta)
}

func (r *failingRepo) AppendWager(ctx context.Context, w *domain.Wager) error {
	if r.s.fails("AppendWager") {
		return errDisk
	}
	return r.Repository.AppendWager(ctx, w)
}

func (r *failingRepo) AppendRoundHistory(ctx context.Context, e *domain.RoundHistoryEntry) error {
	if r.s.fails("AppendRoundHistory") {
		return errDisk
	}
	return r.Repository.AppendRoundHistory(ctx, e)
}

func (r *failingRepo) SaveRound(ctx context.Context, round *domain.Round) error {
	if r.s.fails("SaveRound") {
		return errDisk
	}
	return r.Repository.SaveRound(ctx, round)
}

type fixture struct {
	store    *failingStore
	mem      *memory.Store
	clock    *fakeClock
	notifier *countingNotifier
	metrics  *metrics.Metrics
	fight    *FightUseCase
	users    *UserUseCase
	history  *HistoryUseCase
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memory.NewStore()
	store := &failingStore{Store: mem}
	clock := &fakeClock{}
	n := &countingNotifier{}
	m := metrics.New()
	return &fixture{
		store:    store,
		mem:      mem,
		clock:    clock,
		notifier: n,
		metrics:  m,
		fight:    NewFightUseCase(store, clock, n, m),
		users:    NewUserUseCase(store, "test-secret", time.Hour, bcrypt.MinCost),
		history:  NewHistoryUseCase(store),
	}
}

func (f *fixture) addUser(t *testing.T, username string, balance int64) {
	t.Helper()
	_, err := f.users.CreateUser(context.Background(), username, username, "pw-"+username)
	require.NoError(t, err)
	if balance > 0 {
		require.NoError(t, f.fight.Credit(context.Background(), username, decimal.NewFromInt(balance)))
	}
}

func (f *fixture) balance(t *testing.T, username string) decimal.Decimal {
	t.Helper()
	u, err := f.mem.GetUser(context.Background(), username)
	require.NoError(t, err)
	return u.Balance
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// notifier.Notifier satisfies ChangeNotifier
var _ ChangeNotifier = (*notifier.Notifier)(nil)
