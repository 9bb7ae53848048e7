// Package catalog владеет записями товаров и их жизненным циклом.
package catalog

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmline/internal/access"
	"github.com/vladislavdragonenkov/farmline/internal/domain"
	"github.com/vladislavdragonenkov/farmline/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/farmline/internal/metrics"
)

// ProductInput содержит поля товара, задаваемые производителем.
// Описательные поля прозрачны для ядра.
type ProductInput struct {
	Name        string
	Description string
	ImageRef    string
	Category    string
	Location    string
	IsOrganic   bool
	PriceMinor  int64
	Quantity    int64
}

// Service реализует операции каталога поверх репозитория товаров.
type Service struct {
	products domain.ProductRepository
	outbox   domain.OutboxRepository
	guard    *access.Guard
	logger   *log.Entry
	metrics  *metrics.LedgerMetrics
	nowFn    func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithMetrics задаёт метрики каталога.
func WithMetrics(m *metrics.LedgerMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithNowFunc переопределяет источник времени, в основном для тестов.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// NewService конструирует каталог с зависимостями.
func NewService(
	products domain.ProductRepository,
	outbox domain.OutboxRepository,
	guard *access.Guard,
	logger *log.Entry,
	options ...Option,
) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "catalog")
	}
	if guard == nil {
		guard = access.NewGuard()
	}
	s := &Service{
		products: products,
		outbox:   outbox,
		guard:    guard,
		logger:   logger,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// ListProduct публикует новый товар и возвращает запись с присвоенным ID.
func (s *Service) ListProduct(caller string, input ProductInput) (domain.Product, error) {
	release, err := s.guard.Enter(access.OpListProduct)
	if err != nil {
		return domain.Product{}, err
	}
	defer release()

	if err := access.Authorize(access.OpListProduct, caller, access.Parties{}); err != nil {
		return domain.Product{}, err
	}
	if input.PriceMinor <= 0 {
		return domain.Product{}, fmt.Errorf("price must be positive: %w", domain.ErrInvalidInput)
	}
	if input.Quantity <= 0 {
		return domain.Product{}, fmt.Errorf("quantity must be positive: %w", domain.ErrInvalidInput)
	}

	now := s.nowFn()
	product := domain.Product{
		ProducerID:        caller,
		Name:              input.Name,
		Description:       input.Description,
		ImageRef:          input.ImageRef,
		Category:          input.Category,
		Location:          input.Location,
		IsOrganic:         input.IsOrganic,
		PriceMinor:        input.PriceMinor,
		Quantity:          input.Quantity,
		RemainingQuantity: input.Quantity,
		Active:            true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	created, err := s.products.Create(product)
	if err != nil {
		s.logger.WithError(err).Error("failed to create product")
		return domain.Product{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordProductListed()
	}
	s.enqueueProductEvent(kafka.EventTypeProductListed, created)
	return created, nil
}

// UpdateProduct обновляет запись товара. Остаток сбрасывается к новому
// полному количеству: уже размещённые заказы не перепроверяются против
// нового объёма — известное ограничение протокола.
func (s *Service) UpdateProduct(caller string, id int64, input ProductInput) (domain.Product, error) {
	release, err := s.guard.Enter(access.OpUpdateProduct)
	if err != nil {
		return domain.Product{}, err
	}
	defer release()

	product, err := s.products.Get(id)
	if err != nil {
		return domain.Product{}, err
	}
	if err := access.Authorize(access.OpUpdateProduct, caller, access.Parties{ProductOwner: product.ProducerID}); err != nil {
		return domain.Product{}, err
	}
	if input.PriceMinor <= 0 {
		return domain.Product{}, fmt.Errorf("price must be positive: %w", domain.ErrInvalidInput)
	}
	if input.Quantity <= 0 {
		return domain.Product{}, fmt.Errorf("quantity must be positive: %w", domain.ErrInvalidInput)
	}

	if product.RemainingQuantity != product.Quantity {
		s.logger.WithFields(log.Fields{
			"product_id": product.ID,
			"reserved":   product.Quantity - product.RemainingQuantity,
		}).Warn("product update discards outstanding reservations")
	}

	product.Name = input.Name
	product.Description = input.Description
	product.ImageRef = input.ImageRef
	product.Category = input.Category
	product.Location = input.Location
	product.IsOrganic = input.IsOrganic
	product.PriceMinor = input.PriceMinor
	product.Quantity = input.Quantity
	product.RemainingQuantity = input.Quantity
	product.UpdatedAt = s.nowFn()

	if err := s.products.Save(product); err != nil {
		s.logger.WithError(err).WithField("product_id", id).Error("failed to save product")
		return domain.Product{}, err
	}
	product.Version++

	if s.metrics != nil {
		s.metrics.RecordProductUpdated()
	}
	s.enqueueProductEvent(kafka.EventTypeProductUpdated, product)
	return product, nil
}

// DeactivateProduct снимает товар с публикации. Размещённые заказы
// продолжают жить своим циклом.
func (s *Service) DeactivateProduct(caller string, id int64) (domain.Product, error) {
	release, err := s.guard.Enter(access.OpDeactivateProduct)
	if err != nil {
		return domain.Product{}, err
	}
	defer release()

	product, err := s.products.Get(id)
	if err != nil {
		return domain.Product{}, err
	}
	if err := access.Authorize(access.OpDeactivateProduct, caller, access.Parties{ProductOwner: product.ProducerID}); err != nil {
		return domain.Product{}, err
	}
	if !product.Active {
		return domain.Product{}, fmt.Errorf("product is already inactive: %w", domain.ErrInvalidInput)
	}

	product.Active = false
	product.UpdatedAt = s.nowFn()

	if err := s.products.Save(product); err != nil {
		s.logger.WithError(err).WithField("product_id", id).Error("failed to deactivate product")
		return domain.Product{}, err
	}
	product.Version++

	if s.metrics != nil {
		s.metrics.RecordProductDeactivated()
	}
	s.enqueueProductEvent(kafka.EventTypeProductDeactivated, product)
	return product, nil
}

// GetProduct возвращает товар по идентификатору.
func (s *Service) GetProduct(id int64) (domain.Product, error) {
	return s.products.Get(id)
}

// ListByProducer возвращает товары производителя в порядке публикации.
func (s *Service) ListByProducer(producerID string) ([]domain.Product, error) {
	return s.products.ListByProducer(producerID)
}

// Reserve уменьшает остаток товара под создаваемый заказ. Вызывается
// только ledger-ом изнутри уже защищённой операции, поэтому guard
// здесь не берётся.
func (s *Service) Reserve(id, quantity int64) (domain.Product, error) {
	if quantity <= 0 {
		return domain.Product{}, fmt.Errorf("reserve quantity must be positive: %w", domain.ErrInvalidInput)
	}

	product, err := s.products.Get(id)
	if err != nil {
		return domain.Product{}, err
	}
	if !product.Active {
		return domain.Product{}, fmt.Errorf("product is inactive: %w", domain.ErrInvalidInput)
	}
	if product.RemainingQuantity < quantity {
		return domain.Product{}, fmt.Errorf("insufficient remaining quantity %d < %d: %w",
			product.RemainingQuantity, quantity, domain.ErrInvalidInput)
	}

	product.RemainingQuantity -= quantity
	product.UpdatedAt = s.nowFn()
	if err := s.products.Save(product); err != nil {
		return domain.Product{}, err
	}
	product.Version++
	return product, nil
}

// Restore возвращает зарезервированное количество при отмене заказа или
// возврате по спору. Остаток не может превысить полный объём партии:
// если запись успели перезаписать меньшим количеством, избыток
// отбрасывается с предупреждением.
func (s *Service) Restore(id, quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("restore quantity must be positive: %w", domain.ErrInvalidInput)
	}

	product, err := s.products.Get(id)
	if err != nil {
		return err
	}

	restored := product.RemainingQuantity + quantity
	if restored > product.Quantity {
		s.logger.WithFields(log.Fields{
			"product_id": product.ID,
			"discarded":  restored - product.Quantity,
		}).Warn("quantity restore clipped to product total")
		restored = product.Quantity
	}

	product.RemainingQuantity = restored
	product.UpdatedAt = s.nowFn()
	return s.products.Save(product)
}

func (s *Service) enqueueProductEvent(eventType kafka.EventType, product domain.Product) {
	if s.outbox == nil {
		return
	}

	payload, err := json.Marshal(kafka.ProductEventPayload{
		ProductID:         product.ID,
		ProducerID:        product.ProducerID,
		Name:              product.Name,
		PriceMinor:        product.PriceMinor,
		Quantity:          product.Quantity,
		RemainingQuantity: product.RemainingQuantity,
		Active:            product.Active,
	})
	if err != nil {
		s.logger.WithError(err).Warn("failed to marshal product event payload")
		return
	}

	_, err = s.outbox.Enqueue(domain.OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: "product",
		AggregateID:   strconv.FormatInt(product.ID, 10),
		EventType:     string(eventType),
		Payload:       payload,
	})
	if err != nil {
		s.logger.WithError(err).WithField("product_id", product.ID).Warn("failed to enqueue product event")
	}
}
