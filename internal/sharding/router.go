// Package sharding реализует маршрутизацию строк по физическим хранилищам.
package sharding

import (
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Policy определяет поведение маршрутизатора при неизвестной логической таблице.
type Policy string

const (
	// PolicyStrict возвращает ошибку при неизвестной таблице.
	PolicyStrict Policy = "strict"
	// PolicyLenient направляет неизвестную таблицу в первое доступное
	// хранилище с предупреждением в логе.
	PolicyLenient Policy = "lenient"
)

// ErrUnknownTable возвращается в строгом режиме для таблицы без конфигурации шардирования.
var ErrUnknownTable = errors.New("unknown sharded table")

// Router вычисляет индекс физического хранилища по ключу шардирования.
// Маршрутизация — чистая функция без ввода-вывода: md5-дайджест канонической
// строковой формы ключа, старшие 4 байта как беззнаковое целое, по модулю N.
type Router struct {
	storeCount int
	tables     map[string]string
	policy     Policy
	logger     *zap.Logger
}

// NewRouter создаёт маршрутизатор для storeCount хранилищ. tables задаёт
// соответствие логической таблицы имени колонки ключа шардирования.
func NewRouter(storeCount int, tables map[string]string, policy Policy, logger *zap.Logger) (*Router, error) {
	if storeCount < 1 {
		return nil, fmt.Errorf("store count must be positive, got %d", storeCount)
	}
	if policy != PolicyStrict && policy != PolicyLenient {
		return nil, fmt.Errorf("unknown routing policy %q", policy)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Router{
		storeCount: storeCount,
		tables:     tables,
		policy:     policy,
		logger:     logger,
	}, nil
}

// StoreCount возвращает число физических хранилищ.
func (r *Router) StoreCount() int {
	return r.storeCount
}

// KeyColumn возвращает имя колонки ключа шардирования логической таблицы.
func (r *Router) KeyColumn(table string) (string, bool) {
	col, ok := r.tables[table]
	return col, ok
}

// Place возвращает индекс хранилища для ключа без проверки таблицы.
// Пустой ключ направляется в хранилище 0 с предупреждением, но без ошибки.
func (r *Router) Place(key any) int {
	canonical := canonicalKey(key)
	if canonical == "" {
		r.logger.Warn("empty partition key, routing to store 0")
		return 0
	}

	digest := md5.Sum([]byte(canonical))
	lead := binary.BigEndian.Uint32(digest[:4])

	return int(lead % uint32(r.storeCount))
}

// Route возвращает индекс хранилища для строки логической таблицы.
func (r *Router) Route(table string, key any) (int, error) {
	if _, ok := r.tables[table]; !ok {
		if r.policy == PolicyStrict {
			return 0, fmt.Errorf("%w: %s", ErrUnknownTable, table)
		}
		r.logger.Warn("table has no sharding rule, falling back to store 0", zap.String("table", table))
		return 0, nil
	}

	return r.Place(key), nil
}

// RouteForRange возвращает все хранилища для запроса без точного ключа.
// Диапазонные чтения всегда расходятся по всем шардам и сливаются на клиенте.
func (r *Router) RouteForRange(table string) []int {
	stores := make([]int, r.storeCount)
	for i := range stores {
		stores[i] = i
	}
	return stores
}

// NewOrderID генерирует идентификатор заказа, попадающий на шард владельца.
// Заказы шардируются по пользователю, позиции — по заказу; совпадение шардов
// обеспечивается подбором идентификатора, а не протоколом записи.
func (r *Router) NewOrderID(userID int64) (uuid.UUID, error) {
	target := r.Place(userID)

	for attempt := 0; attempt < 512; attempt++ {
		id := uuid.New()
		if r.Place(id) == target {
			return id, nil
		}
	}

	return uuid.Nil, fmt.Errorf("could not place order id on store %d for user %d", target, userID)
}

func canonicalKey(key any) string {
	switch v := key.(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case uuid.UUID:
		if v == uuid.Nil {
			return ""
		}
		return v.String()
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
