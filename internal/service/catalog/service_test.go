package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/farmline/internal/access"
	"github.com/vladislavdragonenkov/farmline/internal/domain"
	"github.com/vladislavdragonenkov/farmline/internal/service/catalog"
	"github.com/vladislavdragonenkov/farmline/internal/storage/memory"
)

func newCatalog() (*catalog.Service, *memoryFixtures) {
	fixtures := &memoryFixtures{
		products: memory.NewProductRepository(),
		outbox:   memory.NewOutboxRepository(),
	}
	svc := catalog.NewService(fixtures.products, fixtures.outbox, access.NewGuard(), nil)
	return svc, fixtures
}

type memoryFixtures struct {
	products domain.ProductRepository
	outbox   interface {
		domain.OutboxRepository
		AllPending() []domain.OutboxMessage
	}
}

func validInput() catalog.ProductInput {
	return catalog.ProductInput{
		Name:       "Мёд липовый",
		Category:   "мёд",
		Location:   "Тульская область",
		IsOrganic:  true,
		PriceMinor: 45000,
		Quantity:   20,
	}
}

func TestListProduct(t *testing.T) {
	svc, fixtures := newCatalog()

	product, err := svc.ListProduct("producer-1", validInput())
	require.NoError(t, err)

	assert.Equal(t, int64(1), product.ID)
	assert.Equal(t, "producer-1", product.ProducerID)
	assert.True(t, product.Active)
	assert.Equal(t, int64(20), product.RemainingQuantity)

	events := fixtures.outbox.AllPending()
	require.Len(t, events, 1)
	assert.Equal(t, "product.listed", events[0].EventType)
}

func TestListProduct_InvalidInput(t *testing.T) {
	svc, _ := newCatalog()

	input := validInput()
	input.PriceMinor = 0
	_, err := svc.ListProduct("producer-1", input)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	input = validInput()
	input.Quantity = -1
	_, err = svc.ListProduct("producer-1", input)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestUpdateProduct_OwnerOnly(t *testing.T) {
	svc, _ := newCatalog()

	product, err := svc.ListProduct("producer-1", validInput())
	require.NoError(t, err)

	_, err = svc.UpdateProduct("intruder", product.ID, validInput())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	input := validInput()
	input.PriceMinor = 50000
	updated, err := svc.UpdateProduct("producer-1", product.ID, input)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), updated.PriceMinor)
}

func TestUpdateProduct_ResetsRemainingQuantity(t *testing.T) {
	svc, _ := newCatalog()

	product, err := svc.ListProduct("producer-1", validInput())
	require.NoError(t, err)

	_, err = svc.Reserve(product.ID, 5)
	require.NoError(t, err)

	input := validInput()
	input.Quantity = 8
	updated, err := svc.UpdateProduct("producer-1", product.ID, input)
	require.NoError(t, err)

	assert.Equal(t, int64(8), updated.Quantity)
	assert.Equal(t, int64(8), updated.RemainingQuantity)
}

func TestDeactivateProduct(t *testing.T) {
	svc, _ := newCatalog()

	product, err := svc.ListProduct("producer-1", validInput())
	require.NoError(t, err)

	deactivated, err := svc.DeactivateProduct("producer-1", product.ID)
	require.NoError(t, err)
	assert.False(t, deactivated.Active)

	// Снятый с публикации товар нельзя ни резервировать, ни снять повторно.
	_, err = svc.Reserve(product.ID, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.DeactivateProduct("producer-1", product.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestDeactivateProduct_NotOwner(t *testing.T) {
	svc, _ := newCatalog()

	product, err := svc.ListProduct("producer-1", validInput())
	require.NoError(t, err)

	_, err = svc.DeactivateProduct("producer-2", product.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestReserveAndRestore(t *testing.T) {
	svc, _ := newCatalog()

	product, err := svc.ListProduct("producer-1", validInput())
	require.NoError(t, err)

	reserved, err := svc.Reserve(product.ID, 15)
	require.NoError(t, err)
	assert.Equal(t, int64(5), reserved.RemainingQuantity)

	// Остатка не хватает на следующий резерв.
	_, err = svc.Reserve(product.ID, 6)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	require.NoError(t, svc.Restore(product.ID, 15))

	restored, err := svc.GetProduct(product.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), restored.RemainingQuantity)
}

func TestRestore_ClipsToTotal(t *testing.T) {
	svc, _ := newCatalog()

	product, err := svc.ListProduct("producer-1", validInput())
	require.NoError(t, err)

	_, err = svc.Reserve(product.ID, 10)
	require.NoError(t, err)

	// Перезапись партии меньшим объёмом сбрасывает резервы.
	input := validInput()
	input.Quantity = 3
	_, err = svc.UpdateProduct("producer-1", product.ID, input)
	require.NoError(t, err)

	require.NoError(t, svc.Restore(product.ID, 10))

	clipped, err := svc.GetProduct(product.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), clipped.RemainingQuantity)
	require.Empty(t, clipped.ValidateInvariants())
}

func TestListByProducer(t *testing.T) {
	svc, _ := newCatalog()

	_, err := svc.ListProduct("producer-1", validInput())
	require.NoError(t, err)
	_, err = svc.ListProduct("producer-1", validInput())
	require.NoError(t, err)
	_, err = svc.ListProduct("producer-2", validInput())
	require.NoError(t, err)

	products, err := svc.ListByProducer("producer-1")
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Less(t, products[0].ID, products[1].ID)
}
