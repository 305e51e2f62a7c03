package pricing

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/retailmesh/pricing-system/internal/protocol"
)

// Result — итог расчёта скидок: локальные составляющие вместе с ответом
// сервиса лояльности.
type Result struct {
	ProductDiscount decimal.Decimal
	OrderDiscount   decimal.Decimal
	CouponDiscount  decimal.Decimal
	TierDiscount    decimal.Decimal
	FinalAmount     decimal.Decimal
}

type outcome struct {
	result Result
	err    error
}

// Pending — фьючерс незавершённого расчёта. Завершается ровно один раз:
// ответом, ошибкой передачи или тайм-аутом.
type Pending struct {
	CorrelationID string
	ch            chan outcome
}

func newPending(correlationID string) *Pending {
	return &Pending{
		CorrelationID: correlationID,
		ch:            make(chan outcome, 1),
	}
}

func (p *Pending) complete(res Result, err error) {
	p.ch <- outcome{result: res, err: err}
}

// Wait блокирует вызывающего до завершения расчёта или отмены контекста.
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case out := <-p.ch:
		return out.result, out.err
	}
}

// Entry объединяет фьючерс и контекст корреляции одного расчёта. Запись
// живёт только в памяти процесса и потребляется ровно один раз: ответом
// или чисткой по тайм-ауту.
type Entry struct {
	Pending         *Pending
	Request         protocol.DiscountRequest
	ProductDiscount decimal.Decimal
	OrderDiscount   decimal.Decimal
	AmountAfter     decimal.Decimal
	CreatedAt       time.Time
}

// PendingStore хранит незавершённые расчёты по идентификатору корреляции.
// Интерфейс внедряется в калькулятор, чтобы тесты подставляли детерминированную
// реализацию вместо состояния уровня процесса.
type PendingStore interface {
	Put(correlationID string, e *Entry)
	Take(correlationID string) (*Entry, bool)
	TakeExpired(olderThan time.Time) []*Entry
}

// MemoryPendingStore — потокобезопасная реализация PendingStore в памяти.
// Идентификаторы корреляции уникальны в рамках процесса, поэтому достаточно
// одной блокировки на карту без межключевой координации.
type MemoryPendingStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewMemoryPendingStore создаёт пустое хранилище незавершённых расчётов.
func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{
		entries: make(map[string]*Entry),
	}
}

// Put регистрирует запись под идентификатором корреляции.
func (s *MemoryPendingStore) Put(correlationID string, e *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[correlationID] = e
}

// Take атомарно извлекает и удаляет запись. Повторный вызов для того же
// идентификатора вернёт false — этим гарантируется однократное завершение.
func (s *MemoryPendingStore) Take(correlationID string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[correlationID]
	if ok {
		delete(s.entries, correlationID)
	}
	return e, ok
}

// TakeExpired извлекает и удаляет все записи, созданные раньше olderThan.
func (s *MemoryPendingStore) TakeExpired(olderThan time.Time) []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*Entry
	for id, e := range s.entries {
		if e.CreatedAt.Before(olderThan) {
			expired = append(expired, e)
			delete(s.entries, id)
		}
	}
	return expired
}

// Len возвращает число незавершённых расчётов.
func (s *MemoryPendingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
