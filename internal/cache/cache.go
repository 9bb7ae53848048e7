package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmline/internal/domain"
)

const (
	defaultTTL = 5 * time.Minute

	orderKeyPrefix   = "farmline:order:"
	productKeyPrefix = "farmline:product:"
)

// Cache кэширует снапшоты заказов и товаров в Redis для read-путей API.
// Nil-кэш безопасен: все операции превращаются в промах/no-op,
// сервис работает без Redis в деградированном режиме.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Entry
}

type Option func(*Cache)

// WithTTL задаёт время жизни записей кэша.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// New подключается к Redis по адресу addr.
func New(addr string, logger *logrus.Entry, opts ...Option) *Cache {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	return NewWithClient(client, logger, opts...)
}

// NewWithClient оборачивает готовый клиент (используется в тестах).
func NewWithClient(client *redis.Client, logger *logrus.Entry, opts ...Option) *Cache {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &Cache{
		client: client,
		ttl:    defaultTTL,
		logger: logger.WithField("component", "cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ping проверяет доступность Redis. Используется health-чекером.
func (c *Cache) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("redis cache is not configured")
	}
	return c.client.Ping(ctx).Err()
}

// Close закрывает соединение с Redis.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func orderKey(id int64) string   { return fmt.Sprintf("%s%d", orderKeyPrefix, id) }
func productKey(id int64) string { return fmt.Sprintf("%s%d", productKeyPrefix, id) }

// GetOrder возвращает закэшированный заказ. Второе значение false означает промах.
func (c *Cache) GetOrder(ctx context.Context, id int64) (domain.Order, bool) {
	var order domain.Order
	if !c.get(ctx, orderKey(id), &order) {
		return domain.Order{}, false
	}
	return order, true
}

// SetOrder сохраняет снапшот заказа.
func (c *Cache) SetOrder(ctx context.Context, order domain.Order) {
	c.set(ctx, orderKey(order.ID), order)
}

// InvalidateOrder удаляет заказ из кэша после изменения статуса.
func (c *Cache) InvalidateOrder(ctx context.Context, id int64) {
	c.invalidate(ctx, orderKey(id))
}

// GetProduct возвращает закэшированный товар. Второе значение false означает промах.
func (c *Cache) GetProduct(ctx context.Context, id int64) (domain.Product, bool) {
	var product domain.Product
	if !c.get(ctx, productKey(id), &product) {
		return domain.Product{}, false
	}
	return product, true
}

// SetProduct сохраняет снапшот товара.
func (c *Cache) SetProduct(ctx context.Context, product domain.Product) {
	c.set(ctx, productKey(product.ID), product)
}

// InvalidateProduct удаляет товар из кэша после изменения остатка или цены.
func (c *Cache) InvalidateProduct(ctx context.Context, id int64) {
	c.invalidate(ctx, productKey(id))
}

func (c *Cache) get(ctx context.Context, key string, dst any) bool {
	if c == nil || c.client == nil {
		return false
	}

	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).WithField("key", key).Warn("cache read failed")
		}
		return false
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("cache entry is corrupted, dropping")
		c.invalidate(ctx, key)
		return false
	}

	return true
}

func (c *Cache) set(ctx context.Context, key string, value any) {
	if c == nil || c.client == nil {
		return
	}

	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("cache marshal failed")
		return
	}

	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("cache write failed")
	}
}

func (c *Cache) invalidate(ctx context.Context, key string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("cache invalidation failed")
	}
}
