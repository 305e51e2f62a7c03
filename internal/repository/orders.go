package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/retailmesh/pricing-system/internal/model"
	"github.com/retailmesh/pricing-system/internal/sharding"
)

// ErrOrderNotFound возвращается, если заказ не найден на шарде владельца.
var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrPartialWrite возвращается, когда заказ записан, а его позиции — нет.
	// Межшардовая запись не оборачивается распределённой транзакцией;
	// рассогласование устраняется внешней сверкой.
	ErrPartialWrite = errors.New("order written, line items failed")
)

// ShardedOrderStore хранит заказы в N физических базах, размещая строки
// через маршрутизатор шардирования.
type ShardedOrderStore struct {
	pools  []*pgxpool.Pool
	router *sharding.Router
	logger *zap.Logger
}

// NewShardedOrderStore открывает пул на каждый шард и прогоняет миграции.
func NewShardedOrderStore(ctx context.Context, dsns []string, router *sharding.Router, logger *zap.Logger) (*ShardedOrderStore, error) {
	if len(dsns) != router.StoreCount() {
		return nil, fmt.Errorf("have %d dsns for %d stores", len(dsns), router.StoreCount())
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pools := make([]*pgxpool.Pool, 0, len(dsns))
	for i, dsn := range dsns {
		pool, err := newPool(ctx, dsn)
		if err != nil {
			closePools(pools)
			return nil, fmt.Errorf("store %d: %w", i, err)
		}

		if err := runMigrations(ctx, pool, ordersMigrationsFS, "migrations/orders"); err != nil {
			pool.Close()
			closePools(pools)
			return nil, fmt.Errorf("store %d: %w", i, err)
		}

		pools = append(pools, pool)
	}

	return &ShardedOrderStore{
		pools:  pools,
		router: router,
		logger: logger,
	}, nil
}

// Close закрывает пулы всех шардов.
func (s *ShardedOrderStore) Close() error {
	closePools(s.pools)
	return nil
}

// CreateOrder записывает заказ и его позиции. При совпадении шардов —
// обычный случай благодаря подбору идентификатора заказа — запись идёт
// одной транзакцией. При расхождении выполняются две независимые записи,
// и отказ второй выражается как неудача создания заказа целиком.
func (s *ShardedOrderStore) CreateOrder(ctx context.Context, o *model.Order, items []model.OrderLineItem) error {
	orderShard, err := s.router.Route(sharding.TableOrders, o.UserID)
	if err != nil {
		return fmt.Errorf("route order: %w", err)
	}
	itemShard, err := s.router.Route(sharding.TableOrderItems, o.ID)
	if err != nil {
		return fmt.Errorf("route order items: %w", err)
	}

	if orderShard == itemShard {
		return withRetry(ctx, func(ctx context.Context) error {
			return s.createColocated(ctx, orderShard, o, items)
		})
	}

	s.logger.Warn("order and line items routed to different stores",
		zap.String("order_id", o.ID.String()),
		zap.Int("order_store", orderShard),
		zap.Int("item_store", itemShard),
	)

	if err := withRetry(ctx, func(ctx context.Context) error {
		return s.insertOrder(ctx, s.pools[orderShard], o)
	}); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	if err := withRetry(ctx, func(ctx context.Context) error {
		return s.insertItems(ctx, s.pools[itemShard], items)
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrPartialWrite, err)
	}

	return nil
}

func (s *ShardedOrderStore) createColocated(ctx context.Context, shard int, o *model.Order, items []model.OrderLineItem) error {
	tx, err := s.pools[shard].Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.insertOrder(ctx, tx, o); err != nil {
		return err
	}
	if err := s.insertItems(ctx, tx, items); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *ShardedOrderStore) insertOrder(ctx context.Context, db execer, o *model.Order) error {
	_, err := db.Exec(ctx,
		`INSERT INTO orders
		 (id, user_id, subtotal, product_discount, order_discount, coupon_discount,
		  tier_discount, tax, shipping, total, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		o.ID, o.UserID,
		model.CentsFromDecimal(o.Subtotal),
		model.CentsFromDecimal(o.ProductDiscount),
		model.CentsFromDecimal(o.OrderDiscount),
		model.CentsFromDecimal(o.CouponDiscount),
		model.CentsFromDecimal(o.TierDiscount),
		model.CentsFromDecimal(o.Tax),
		model.CentsFromDecimal(o.Shipping),
		model.CentsFromDecimal(o.Total),
		string(o.Status), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *ShardedOrderStore) insertItems(ctx context.Context, db execer, items []model.OrderLineItem) error {
	for _, item := range items {
		_, err := db.Exec(ctx,
			`INSERT INTO order_items (id, order_id, product_id, quantity, unit_price, item_discount)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			item.ID, item.OrderID, item.ProductID, item.Quantity,
			model.CentsFromDecimal(item.UnitPrice),
			model.CentsFromDecimal(item.ItemDiscount),
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

// UpdateOrderStatus обновляет статус заказа на шарде владельца.
func (s *ShardedOrderStore) UpdateOrderStatus(ctx context.Context, userID int64, orderID uuid.UUID, status model.OrderStatus) error {
	shard, err := s.router.Route(sharding.TableOrders, userID)
	if err != nil {
		return fmt.Errorf("route order: %w", err)
	}

	return withRetry(ctx, func(ctx context.Context) error {
		tag, err := s.pools[shard].Exec(ctx,
			`UPDATE orders SET status = $3 WHERE id = $1 AND user_id = $2`,
			orderID, userID, string(status),
		)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrOrderNotFound
		}
		return nil
	})
}

// GetOrdersByUser возвращает заказы пользователя с его шарда.
func (s *ShardedOrderStore) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	shard, err := s.router.Route(sharding.TableOrders, userID)
	if err != nil {
		return nil, fmt.Errorf("route order: %w", err)
	}

	return s.selectOrders(ctx, s.pools[shard],
		`SELECT id, user_id, subtotal, product_discount, order_discount, coupon_discount,
		        tier_discount, tax, shipping, total, status, created_at
		 FROM orders WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
}

// ListOrdersByStatus выполняет диапазонное чтение: запрос расходится по всем
// шардам, результаты сливаются и сортируются на клиенте. Частичного отсечения
// шардов нет.
func (s *ShardedOrderStore) ListOrdersByStatus(ctx context.Context, status model.OrderStatus) ([]model.Order, error) {
	var all []model.Order
	for _, shard := range s.router.RouteForRange(sharding.TableOrders) {
		orders, err := s.selectOrders(ctx, s.pools[shard],
			`SELECT id, user_id, subtotal, product_discount, order_discount, coupon_discount,
			        tier_discount, tax, shipping, total, status, created_at
			 FROM orders WHERE status = $1`,
			string(status),
		)
		if err != nil {
			return nil, fmt.Errorf("store %d: %w", shard, err)
		}
		all = append(all, orders...)
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	return all, nil
}

// GetOrderItems возвращает позиции заказа с шарда, определяемого заказом.
func (s *ShardedOrderStore) GetOrderItems(ctx context.Context, orderID uuid.UUID) ([]model.OrderLineItem, error) {
	shard, err := s.router.Route(sharding.TableOrderItems, orderID)
	if err != nil {
		return nil, fmt.Errorf("route order items: %w", err)
	}

	rows, err := s.pools[shard].Query(ctx,
		`SELECT id, order_id, product_id, quantity, unit_price, item_discount
		 FROM order_items WHERE order_id = $1`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	var items []model.OrderLineItem
	for rows.Next() {
		var (
			item                    model.OrderLineItem
			unitPrice, itemDiscount int64
		)
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &unitPrice, &itemDiscount); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		item.UnitPrice = model.DecimalFromCents(unitPrice)
		item.ItemDiscount = model.DecimalFromCents(itemDiscount)
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func (s *ShardedOrderStore) selectOrders(ctx context.Context, pool *pgxpool.Pool, query string, args ...any) ([]model.Order, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var (
			o                                          model.Order
			subtotal, productD, orderD, couponD, tierD int64
			tax, shipping, total                       int64
			status                                     string
			createdAt                                  time.Time
		)
		err := rows.Scan(&o.ID, &o.UserID, &subtotal, &productD, &orderD, &couponD,
			&tierD, &tax, &shipping, &total, &status, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}

		o.Subtotal = model.DecimalFromCents(subtotal)
		o.ProductDiscount = model.DecimalFromCents(productD)
		o.OrderDiscount = model.DecimalFromCents(orderD)
		o.CouponDiscount = model.DecimalFromCents(couponD)
		o.TierDiscount = model.DecimalFromCents(tierD)
		o.Tax = model.DecimalFromCents(tax)
		o.Shipping = model.DecimalFromCents(shipping)
		o.Total = model.DecimalFromCents(total)
		o.Status = model.OrderStatus(status)
		o.CreatedAt = createdAt
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

func closePools(pools []*pgxpool.Pool) {
	for _, p := range pools {
		p.Close()
	}
}
