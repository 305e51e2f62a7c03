package ledger

import (
	"context"
	"sync"

	"github.com/retailmesh/pricing-system/internal/model"
)

// MemoryStore — реализация Store в памяти. Используется в тестах и в
// одиночных окружениях без БД; критическая секция — мьютекс на пользователя.
type MemoryStore struct {
	mu    sync.Mutex
	users map[int64]*userState
}

type userState struct {
	mu           sync.Mutex
	transactions []*model.PointTransaction
	membership   *model.MembershipRecord
}

// NewMemoryStore создаёт пустое хранилище журнала в памяти.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[int64]*userState),
	}
}

func (s *MemoryStore) user(userID int64) *userState {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		u = &userState{}
		s.users[userID] = u
	}
	return u
}

// WithUserLock выполняет fn под мьютексом пользователя.
func (s *MemoryStore) WithUserLock(ctx context.Context, userID int64, fn func(ctx context.Context, ul UserLedger) error) error {
	u := s.user(userID)

	u.mu.Lock()
	defer u.mu.Unlock()

	return fn(ctx, &memoryUserLedger{state: u, userID: userID})
}

// GetMembership возвращает копию записи участника, nil если её нет.
func (s *MemoryStore) GetMembership(ctx context.Context, userID int64) (*model.MembershipRecord, error) {
	u := s.user(userID)

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.membership == nil {
		return nil, nil
	}
	m := *u.membership
	return &m, nil
}

// Transactions возвращает копии всех транзакций пользователя в порядке записи.
func (s *MemoryStore) Transactions(userID int64) []model.PointTransaction {
	u := s.user(userID)

	u.mu.Lock()
	defer u.mu.Unlock()

	res := make([]model.PointTransaction, 0, len(u.transactions))
	for _, t := range u.transactions {
		res = append(res, *t)
	}
	return res
}

type memoryUserLedger struct {
	state  *userState
	userID int64
}

func (l *memoryUserLedger) FindByIdempotencyKey(ctx context.Context, key string) (*model.PointTransaction, error) {
	for _, t := range l.state.transactions {
		if t.IdempotencyKey != "" && t.IdempotencyKey == key {
			copied := *t
			return &copied, nil
		}
	}
	return nil, nil
}

func (l *memoryUserLedger) Membership(ctx context.Context) (*model.MembershipRecord, error) {
	if l.state.membership == nil {
		return nil, nil
	}
	m := *l.state.membership
	return &m, nil
}

func (l *memoryUserLedger) Append(ctx context.Context, t *model.PointTransaction) error {
	if t.IdempotencyKey != "" {
		for _, existing := range l.state.transactions {
			if existing.IdempotencyKey == t.IdempotencyKey {
				return ErrDuplicateKey
			}
		}
	}

	copied := *t
	l.state.transactions = append(l.state.transactions, &copied)
	return nil
}

func (l *memoryUserLedger) SaveMembership(ctx context.Context, m *model.MembershipRecord) error {
	copied := *m
	l.state.membership = &copied
	return nil
}
