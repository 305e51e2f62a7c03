package sharding

// Логические таблицы процесса заказов и их ключи шардирования. Заказ
// размещается по владельцу, позиции — по родительскому заказу.
const (
	TableOrders     = "orders"
	TableOrderItems = "order_items"
)

// DefaultTables возвращает стандартную конфигурацию шардирования таблиц.
func DefaultTables() map[string]string {
	return map[string]string{
		TableOrders:     "user_id",
		TableOrderItems: "order_id",
	}
}
