package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/farmline/internal/domain"
)

func openCacheForIntegrationTest(t *testing.T) *Cache {
	t.Helper()

	addr := os.Getenv("FARMLINE_REDIS_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DialTimeout: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis is not available at %s: %v", addr, err)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	c := NewWithClient(client, logrus.NewEntry(logger), WithTTL(time.Minute))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCache_OrderRoundTrip(t *testing.T) {
	c := openCacheForIntegrationTest(t)
	ctx := context.Background()

	order := domain.Order{
		ID:              9001,
		ProductID:       7,
		BuyerID:         "buyer-1",
		SellerID:        "producer-1",
		Quantity:        2,
		TotalMinor:      200,
		FeeMinor:        5,
		Status:          domain.OrderStatusConfirmed,
		DeliveryAddress: "12 Orchard Lane",
		Version:         3,
		CreatedAt:       time.Now().UTC().Truncate(time.Millisecond),
	}
	c.InvalidateOrder(ctx, order.ID)

	_, ok := c.GetOrder(ctx, order.ID)
	require.False(t, ok, "expected miss before set")

	c.SetOrder(ctx, order)

	got, ok := c.GetOrder(ctx, order.ID)
	require.True(t, ok)
	require.Equal(t, order.ID, got.ID)
	require.Equal(t, order.Status, got.Status)
	require.Equal(t, order.TotalMinor, got.TotalMinor)
	require.Equal(t, order.Version, got.Version)

	c.InvalidateOrder(ctx, order.ID)
	_, ok = c.GetOrder(ctx, order.ID)
	require.False(t, ok, "expected miss after invalidation")
}

func TestCache_ProductRoundTrip(t *testing.T) {
	c := openCacheForIntegrationTest(t)
	ctx := context.Background()

	product := domain.Product{
		ID:                9002,
		ProducerID:        "producer-1",
		Name:              "Heirloom tomatoes",
		PriceMinor:        100,
		Quantity:          50,
		RemainingQuantity: 48,
		Active:            true,
	}
	c.InvalidateProduct(ctx, product.ID)

	c.SetProduct(ctx, product)

	got, ok := c.GetProduct(ctx, product.ID)
	require.True(t, ok)
	require.Equal(t, product.Name, got.Name)
	require.Equal(t, product.RemainingQuantity, got.RemainingQuantity)

	c.InvalidateProduct(ctx, product.ID)
	_, ok = c.GetProduct(ctx, product.ID)
	require.False(t, ok)
}

func TestCache_NilCacheIsMissAndNoop(t *testing.T) {
	var c *Cache
	ctx := context.Background()

	_, ok := c.GetOrder(ctx, 1)
	require.False(t, ok)

	c.SetOrder(ctx, domain.Order{ID: 1})
	c.InvalidateOrder(ctx, 1)

	_, ok = c.GetProduct(ctx, 1)
	require.False(t, ok)

	require.Error(t, c.Ping(ctx))
	require.NoError(t, c.Close())
}
