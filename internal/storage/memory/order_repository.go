package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/farmline/internal/domain"
)

// orderRepositoryInMemory — простая in-memory реализация OrderRepository.
// Идентификаторы выдаются монотонно и не переиспользуются.
type orderRepositoryInMemory struct {
	mu     sync.RWMutex
	nextID int64
	items  map[int64]domain.Order
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		nextID: 1,
		items:  make(map[int64]domain.Order),
	}
}

// Create сохраняет новый заказ и присваивает ему следующий ID.
func (r *orderRepositoryInMemory) Create(order domain.Order) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order.ID = r.nextID
	r.nextID++
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	r.items[order.ID] = order
	return order, nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(id int64) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// ListByBuyer возвращает заказы покупателя, ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) ListByBuyer(buyerID string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.filter(func(order domain.Order) bool {
		return order.BuyerID == buyerID
	}, limit), nil
}

// ListBySeller возвращает заказы продавца, ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) ListBySeller(sellerID string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.filter(func(order domain.Order) bool {
		return order.SellerID == sellerID
	}, limit), nil
}

// ListOpen возвращает заказы, по которым всё ещё удерживаются средства.
func (r *orderRepositoryInMemory) ListOpen() ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.filter(func(order domain.Order) bool {
		return order.Status.EscrowOpen()
	}, 0), nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepositoryInMemory) Save(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrVersionConflict
	}
	// Инкрементируем версию перед сохранением.
	order.Version++
	r.items[order.ID] = order
	return nil
}

// filter вызывается под уже взятой блокировкой.
func (r *orderRepositoryInMemory) filter(match func(domain.Order) bool, limit int) []domain.Order {
	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		if match(order) {
			result = append(result, order)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
