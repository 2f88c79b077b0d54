// Package memory provides an in-process domain.Store used in tests and
// single-node development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/domain"
)

// Store implements domain.Store. Atomic works on a copy of the state and
// swaps it in only when the callback succeeds.
type Store struct {
	mu sync.RWMutex
	st *state
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{st: newState()}
}

type state struct {
	users        map[string]*domain.User
	round        *domain.Round
	wagers       []*domain.Wager
	roundHistory []*domain.RoundHistoryEntry
	userHistory  map[string][]*domain.UserHistoryEntry
	wagerIDs     map[string]struct{} // wager IDs that already have a user history entry
}

func newState() *state {
	return &state{
		users:       make(map[string]*domain.User),
		userHistory: make(map[string][]*domain.UserHistoryEntry),
		wagerIDs:    make(map[string]struct{}),
	}
}

// clone copies everything a transaction can mutate. History entries are
// immutable once written, so their slices are shared with capacity clipped.
func (s *state) clone() *state {
	c := &state{
		users:        make(map[string]*domain.User, len(s.users)),
		wagers:       make([]*domain.Wager, len(s.wagers)),
		roundHistory: s.roundHistory[:len(s.roundHistory):len(s.roundHistory)],
		userHistory:  make(map[string][]*domain.UserHistoryEntry, len(s.userHistory)),
		wagerIDs:     make(map[string]struct{}, len(s.wagerIDs)),
	}
	for k, u := range s.users {
		c.users[k] = u.Clone()
	}
	copy(c.wagers, s.wagers)
	if s.round != nil {
		c.round = s.round.Clone()
	}
	for k, h := range s.userHistory {
		c.userHistory[k] = h[:len(h):len(h)]
	}
	for k := range s.wagerIDs {
		c.wagerIDs[k] = struct{}{}
	}
	return c
}

// Atomic implements domain.Store
func (s *Store) Atomic(ctx context.Context, fn func(repo domain.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&view{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// Close implements domain.Store
func (s *Store) Close() error {
	return nil
}

func (s *Store) read(fn func(v *view) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&view{st: s.st})
}

func (s *Store) write(fn func(v *view) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&view{st: s.st})
}

func (s *Store) GetUser(ctx context.Context, username string) (u *domain.User, err error) {
	err = s.read(func(v *view) error {
		u, err = v.GetUser(ctx, username)
		return err
	})
	return u, err
}

func (s *Store) ListUsers(ctx context.Context, role domain.Role) (users []*domain.User, err error) {
	err = s.read(func(v *view) error {
		users, err = v.ListUsers(ctx, role)
		return err
	})
	return users, err
}

func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	return s.write(func(v *view) error { return v.CreateUser(ctx, user) })
}

func (s *Store) DebitBalance(ctx context.Context, username string, amount decimal.Decimal) error {
	return s.write(func(v *view) error { return v.DebitBalance(ctx, username, amount) })
}

func (s *Store) AddBalance(ctx context.Context, username string, delta decimal.Decimal) error {
	return s.write(func(v *view) error { return v.AddBalance(ctx, username, delta) })
}

func (s *Store) LoadRound(ctx context.Context) (r *domain.Round, err error) {
	err = s.read(func(v *view) error {
		r, err = v.LoadRound(ctx)
		return err
	})
	return r, err
}

func (s *Store) SaveRound(ctx context.Context, round *domain.Round) error {
	return s.write(func(v *view) error { return v.SaveRound(ctx, round) })
}

func (s *Store) AppendWager(ctx context.Context, wager *domain.Wager) error {
	return s.write(func(v *view) error { return v.AppendWager(ctx, wager) })
}

func (s *Store) ListWagers(ctx context.Context) (wagers []*domain.Wager, err error) {
	err = s.read(func(v *view) error {
		wagers, err = v.ListWagers(ctx)
		return err
	})
	return wagers, err
}

func (s *Store) ClearWagers(ctx context.Context) error {
	return s.write(func(v *view) error { return v.ClearWagers(ctx) })
}

func (s *Store) AppendRoundHistory(ctx context.Context, entry *domain.RoundHistoryEntry) error {
	return s.write(func(v *view) error { return v.AppendRoundHistory(ctx, entry) })
}

func (s *Store) AppendUserHistory(ctx context.Context, entries []*domain.UserHistoryEntry) error {
	return s.write(func(v *view) error { return v.AppendUserHistory(ctx, entries) })
}

func (s *Store) ListRoundHistory(ctx context.Context, q domain.HistoryQuery) (entries []*domain.RoundHistoryEntry, err error) {
	err = s.read(func(v *view) error {
		entries, err = v.ListRoundHistory(ctx, q)
		return err
	})
	return entries, err
}

func (s *Store) GetRoundHistory(ctx context.Context, number int64) (e *domain.RoundHistoryEntry, err error) {
	err = s.read(func(v *view) error {
		e, err = v.GetRoundHistory(ctx, number)
		return err
	})
	return e, err
}

func (s *Store) ListUserHistory(ctx context.Context, username string, limit int) (entries []*domain.UserHistoryEntry, err error) {
	err = s.read(func(v *view) error {
		entries, err = v.ListUserHistory(ctx, username, limit)
		return err
	})
	return entries, err
}

// view implements domain.Repository over a state without locking; the
// owning Store holds the lock.
type view struct {
	st *state
}

func (v *view) GetUser(_ context.Context, username string) (*domain.User, error) {
	u, ok := v.st.users[username]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", domain.ErrNotFound, username)
	}
	return u.Clone(), nil
}

func (v *view) ListUsers(_ context.Context, role domain.Role) ([]*domain.User, error) {
	users := make([]*domain.User, 0, len(v.st.users))
	for _, u := range v.st.users {
		if role == "" || u.Role == role {
			users = append(users, u.Clone())
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (v *view) CreateUser(_ context.Context, user *domain.User) error {
	if _, ok := v.st.users[user.Username]; ok {
		return fmt.Errorf("%w: user %s", domain.ErrConflict, user.Username)
	}
	v.st.users[user.Username] = user.Clone()
	return nil
}

func (v *view) DebitBalance(_ context.Context, username string, amount decimal.Decimal) error {
	u, ok := v.st.users[username]
	if !ok {
		return fmt.Errorf("%w: user %s", domain.ErrNotFound, username)
	}
	if u.Balance.LessThan(amount) {
		return fmt.Errorf("%w: balance %s, requested %s", domain.ErrInsufficientFunds, u.Balance, amount)
	}
	u.Balance = u.Balance.Sub(amount)
	return nil
}

func (v *view) AddBalance(_ context.Context, username string, delta decimal.Decimal) error {
	u, ok := v.st.users[username]
	if !ok {
		return fmt.Errorf("%w: user %s", domain.ErrNotFound, username)
	}
	u.Balance = u.Balance.Add(delta)
	return nil
}

func (v *view) LoadRound(_ context.Context) (*domain.Round, error) {
	if v.st.round == nil {
		return domain.NewRound(), nil
	}
	return v.st.round.Clone(), nil
}

func (v *view) SaveRound(_ context.Context, round *domain.Round) error {
	c := round.Clone()
	c.ID = domain.RoundRecordID
	v.st.round = c
	return nil
}

func (v *view) AppendWager(_ context.Context, wager *domain.Wager) error {
	w := *wager
	v.st.wagers = append(v.st.wagers, &w)
	return nil
}

func (v *view) ListWagers(_ context.Context) ([]*domain.Wager, error) {
	wagers := make([]*domain.Wager, len(v.st.wagers))
	for i, w := range v.st.wagers {
		c := *w
		wagers[i] = &c
	}
	return wagers, nil
}

func (v *view) ClearWagers(_ context.Context) error {
	v.st.wagers = nil
	return nil
}

func (v *view) AppendRoundHistory(_ context.Context, entry *domain.RoundHistoryEntry) error {
	e := *entry
	e.Wagers = append([]domain.Wager(nil), entry.Wagers...)
	v.st.roundHistory = append(v.st.roundHistory, &e)
	return nil
}

func (v *view) AppendUserHistory(_ context.Context, entries []*domain.UserHistoryEntry) error {
	for _, entry := range entries {
		if _, dup := v.st.wagerIDs[entry.WagerID]; dup {
			return fmt.Errorf("%w: history for wager %s", domain.ErrConflict, entry.WagerID)
		}
	}
	for _, entry := range entries {
		e := *entry
		v.st.userHistory[e.Username] = append(v.st.userHistory[e.Username], &e)
		v.st.wagerIDs[e.WagerID] = struct{}{}
	}
	return nil
}

func (v *view) ListRoundHistory(_ context.Context, q domain.HistoryQuery) ([]*domain.RoundHistoryEntry, error) {
	var out []*domain.RoundHistoryEntry
	// appended in settlement order, so walking backwards is newest first
	for i := len(v.st.roundHistory) - 1; i >= 0; i-- {
		e := v.st.roundHistory[i]
		if !q.Matches(e) {
			continue
		}
		c := *e
		out = append(out, &c)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func (v *view) GetRoundHistory(_ context.Context, number int64) (*domain.RoundHistoryEntry, error) {
	for i := len(v.st.roundHistory) - 1; i >= 0; i-- {
		if e := v.st.roundHistory[i]; e.Number == number {
			c := *e
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%w: round %d in history", domain.ErrNotFound, number)
}

func (v *view) ListUserHistory(_ context.Context, username string, limit int) ([]*domain.UserHistoryEntry, error) {
	h := v.st.userHistory[username]
	var out []*domain.UserHistoryEntry
	for i := len(h) - 1; i >= 0; i-- {
		c := *h[i]
		out = append(out, &c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
