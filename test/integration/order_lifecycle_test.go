package integration

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/farmline/internal/access"
	"github.com/vladislavdragonenkov/farmline/internal/custody"
	"github.com/vladislavdragonenkov/farmline/internal/domain"
	"github.com/vladislavdragonenkov/farmline/internal/service/catalog"
	"github.com/vladislavdragonenkov/farmline/internal/service/certs"
	"github.com/vladislavdragonenkov/farmline/internal/service/ledger"
	"github.com/vladislavdragonenkov/farmline/internal/storage/memory"
)

const (
	buyerID    = "buyer-1"
	producerID = "producer-1"
	operatorID = "operator-1"
	platformID = "platform"

	// Цена 100 минорных единиц, ставка 250 bp: заказ на 2 единицы
	// стоит 200, комиссия 5, полный escrow 205.
	priceMinor   = int64(100)
	feeRateBps   = int64(250)
	orderQty     = int64(2)
	totalMinor   = priceMinor * orderQty
	feeMinor     = totalMinor * feeRateBps / domain.FeeRateDivisor
	escrowMinor  = totalMinor + feeMinor
	listedQty    = int64(100)
	remainingQty = listedQty - orderQty
)

// OrderLifecycleTestSuite тестирует полный жизненный цикл заказа через
// escrow-машину: от публикации товара до расчёта, возврата и арбитража.
type OrderLifecycleTestSuite struct {
	suite.Suite
	catalog  *catalog.Service
	engine   *ledger.Engine
	arbiter  *ledger.Arbiter
	vault    *custody.Vault
	issuer   *certs.MockService
	orders   domain.OrderRepository
	timeline domain.TimelineRepository
}

func (suite *OrderLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel) // Уменьшаем шум в тестах
	logger := baseLogger.WithField("component", "integration-test")

	guard := access.NewGuard()
	outbox := memory.NewOutboxRepository()
	suite.orders = memory.NewOrderRepository()
	suite.timeline = memory.NewTimelineRepository()
	suite.vault = custody.NewVault()
	suite.issuer = certs.NewMockService()

	suite.catalog = catalog.NewService(memory.NewProductRepository(), outbox, guard, logger)
	suite.engine = ledger.NewEngine(
		suite.orders,
		suite.catalog,
		suite.vault,
		suite.timeline,
		outbox,
		guard,
		logger,
	)
	require.NoError(suite.T(), suite.engine.Init(suite.issuer, platformID, feeRateBps))
	suite.arbiter = ledger.NewArbiter(suite.engine, operatorID)
}

func (suite *OrderLifecycleTestSuite) TestExactPaymentSettlesToSeller() {
	product := suite.listProduct()

	// 1. Оплата ровно total+fee: сдачи нет, средства в escrow.
	order, change, err := suite.engine.CreateOrder(buyerID, ledger.CreateOrderInput{
		ProductID:       product.ID,
		Quantity:        orderQty,
		DeliveryAddress: "farm gate 1",
		PaymentMinor:    escrowMinor,
	})
	require.NoError(suite.T(), err)
	require.Zero(suite.T(), change)
	require.Equal(suite.T(), domain.OrderStatusPending, order.Status)
	require.Equal(suite.T(), totalMinor, order.TotalMinor)
	require.Equal(suite.T(), feeMinor, order.FeeMinor)
	require.Equal(suite.T(), escrowMinor, suite.vault.EscrowedMinor())

	updated, err := suite.catalog.GetProduct(product.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), remainingQty, updated.RemainingQuantity)

	// 2. Протокол доставки: confirm -> ship -> deliver.
	_, err = suite.engine.ConfirmOrder(producerID, order.ID)
	require.NoError(suite.T(), err)
	_, err = suite.engine.ShipOrder(producerID, order.ID, "TRK-100")
	require.NoError(suite.T(), err)
	delivered, err := suite.engine.ConfirmDelivery(buyerID, order.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusDelivered, delivered.Status)
	require.NotNil(suite.T(), delivered.DeliveredAt)

	// 3. Расчёт: total продавцу, fee платформе, escrow пуст.
	require.Equal(suite.T(), totalMinor, suite.vault.BalanceMinor(producerID))
	require.Equal(suite.T(), feeMinor, suite.vault.BalanceMinor(platformID))
	require.Zero(suite.T(), suite.vault.EscrowedMinor())

	// 4. Органический товар получает сертификат при доставке.
	minted := suite.issuer.Minted()
	require.Len(suite.T(), minted, 1)
	require.Equal(suite.T(), product.ID, minted[0].ProductID)
	require.Equal(suite.T(), buyerID, minted[0].Recipient)

	// 5. Timeline содержит все шаги протокола.
	suite.requireTimeline(order.ID, "order_created", "order_confirmed", "order_shipped", "order_delivered")
}

func (suite *OrderLifecycleTestSuite) TestOverpaymentReturnsChange() {
	product := suite.listProduct()

	_, change, err := suite.engine.CreateOrder(buyerID, ledger.CreateOrderInput{
		ProductID:       product.ID,
		Quantity:        orderQty,
		DeliveryAddress: "farm gate 1",
		PaymentMinor:    escrowMinor + 95,
	})
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), int64(95), change)
	require.Equal(suite.T(), escrowMinor, suite.vault.EscrowedMinor())
}

func (suite *OrderLifecycleTestSuite) TestBuyerCancelRefundsEscrowAndStock() {
	product := suite.listProduct()
	order := suite.createOrder(product.ID)

	cancelled, err := suite.engine.CancelOrder(buyerID, order.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusCancelled, cancelled.Status)

	// Полный возврат total+fee покупателю и восстановление остатка.
	require.Equal(suite.T(), escrowMinor, suite.vault.BalanceMinor(buyerID))
	require.Zero(suite.T(), suite.vault.EscrowedMinor())

	updated, err := suite.catalog.GetProduct(product.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), listedQty, updated.RemainingQuantity)

	suite.requireTimeline(order.ID, "order_created", "order_cancelled")
}

func (suite *OrderLifecycleTestSuite) TestDisputeResolvedForBuyer() {
	product := suite.listProduct()
	order := suite.createShippedOrder(product.ID)

	disputed, err := suite.engine.DisputeOrder(buyerID, order.ID, "half the crate arrived rotten")
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusDisputed, disputed.Status)
	require.Equal(suite.T(), escrowMinor, suite.vault.EscrowedMinor())

	resolved, err := suite.arbiter.ResolveDispute(operatorID, order.ID, true)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusDisputeRefunded, resolved.Status)
	// Терминальный статус спора отличим от обычной доставки в аудите.
	require.NotEqual(suite.T(), domain.OrderStatusDelivered, resolved.Status)

	require.Equal(suite.T(), escrowMinor, suite.vault.BalanceMinor(buyerID))
	require.Zero(suite.T(), suite.vault.BalanceMinor(producerID))
	require.Zero(suite.T(), suite.vault.EscrowedMinor())

	updated, err := suite.catalog.GetProduct(product.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), listedQty, updated.RemainingQuantity)

	events := suite.requireTimeline(order.ID,
		"order_created", "order_confirmed", "order_shipped", "order_disputed", "dispute_resolved")
	require.Equal(suite.T(), "favor_buyer", events[len(events)-1].Reason)
}

func (suite *OrderLifecycleTestSuite) TestDisputeResolvedForSeller() {
	product := suite.listProduct()
	order := suite.createShippedOrder(product.ID)

	_, err := suite.engine.DisputeOrder(producerID, order.ID, "buyer refuses pickup")
	require.NoError(suite.T(), err)

	resolved, err := suite.arbiter.ResolveDispute(operatorID, order.ID, false)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusDisputeReleased, resolved.Status)

	// Выплата как при доставке: total продавцу, fee платформе.
	require.Equal(suite.T(), totalMinor, suite.vault.BalanceMinor(producerID))
	require.Equal(suite.T(), feeMinor, suite.vault.BalanceMinor(platformID))
	require.Zero(suite.T(), suite.vault.BalanceMinor(buyerID))
	require.Zero(suite.T(), suite.vault.EscrowedMinor())

	// Резерв не восстанавливается: товар считается проданным.
	updated, err := suite.catalog.GetProduct(product.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), remainingQty, updated.RemainingQuantity)
}

func (suite *OrderLifecycleTestSuite) TestShipPendingOrderRejected() {
	product := suite.listProduct()
	order := suite.createOrder(product.ID)

	_, err := suite.engine.ShipOrder(producerID, order.ID, "TRK-1")
	require.ErrorIs(suite.T(), err, domain.ErrInvalidStateTransition)

	// Отказ не двигает ни средства, ни остатки.
	stored, err := suite.orders.Get(order.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusPending, stored.Status)
	require.Equal(suite.T(), escrowMinor, suite.vault.EscrowedMinor())
	require.Zero(suite.T(), suite.vault.BalanceMinor(producerID))

	updated, err := suite.catalog.GetProduct(product.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), remainingQty, updated.RemainingQuantity)
}

func (suite *OrderLifecycleTestSuite) TestUnauthorizedCallersRejected() {
	product := suite.listProduct()
	order := suite.createOrder(product.ID)

	// Подтверждает только продавец, отменяет только покупатель.
	_, err := suite.engine.ConfirmOrder(buyerID, order.ID)
	require.ErrorIs(suite.T(), err, domain.ErrUnauthorized)
	_, err = suite.engine.CancelOrder(producerID, order.ID)
	require.ErrorIs(suite.T(), err, domain.ErrUnauthorized)

	// Арбитраж доступен только оператору платформы.
	shipped := suite.createShippedOrder(product.ID)
	_, err = suite.engine.DisputeOrder(buyerID, shipped.ID, "wrong produce")
	require.NoError(suite.T(), err)
	_, err = suite.arbiter.ResolveDispute(buyerID, shipped.ID, true)
	require.ErrorIs(suite.T(), err, domain.ErrUnauthorized)

	require.Equal(suite.T(), escrowMinor*2, suite.vault.EscrowedMinor())
}

func (suite *OrderLifecycleTestSuite) TestInsufficientPaymentRejected() {
	product := suite.listProduct()

	_, _, err := suite.engine.CreateOrder(buyerID, ledger.CreateOrderInput{
		ProductID:       product.ID,
		Quantity:        orderQty,
		DeliveryAddress: "farm gate 1",
		PaymentMinor:    escrowMinor - 1,
	})
	require.ErrorIs(suite.T(), err, domain.ErrInsufficientFunds)

	require.Zero(suite.T(), suite.vault.EscrowedMinor())
	updated, err := suite.catalog.GetProduct(product.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), listedQty, updated.RemainingQuantity)
}

func (suite *OrderLifecycleTestSuite) TestCustodyReconciliation() {
	product := suite.listProduct()

	first := suite.createOrder(product.ID)
	second := suite.createShippedOrder(product.ID)

	escrowed, expected, err := suite.engine.ReconcileCustody()
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), escrowMinor*2, escrowed)
	require.Equal(suite.T(), expected, escrowed)

	// Закрываем оба заказа разными путями: инвариант держится.
	_, err = suite.engine.CancelOrder(buyerID, first.ID)
	require.NoError(suite.T(), err)
	_, err = suite.engine.ConfirmDelivery(buyerID, second.ID)
	require.NoError(suite.T(), err)

	escrowed, expected, err = suite.engine.ReconcileCustody()
	require.NoError(suite.T(), err)
	require.Zero(suite.T(), escrowed)
	require.Zero(suite.T(), expected)
}

// Вспомогательные методы

func (suite *OrderLifecycleTestSuite) listProduct() domain.Product {
	product, err := suite.catalog.ListProduct(producerID, catalog.ProductInput{
		Name:       "heirloom tomatoes",
		Category:   "vegetables",
		Location:   "valley farm",
		IsOrganic:  true,
		PriceMinor: priceMinor,
		Quantity:   listedQty,
	})
	require.NoError(suite.T(), err)
	return product
}

func (suite *OrderLifecycleTestSuite) createOrder(productID int64) domain.Order {
	order, change, err := suite.engine.CreateOrder(buyerID, ledger.CreateOrderInput{
		ProductID:       productID,
		Quantity:        orderQty,
		DeliveryAddress: "farm gate 1",
		PaymentMinor:    escrowMinor,
	})
	require.NoError(suite.T(), err)
	require.Zero(suite.T(), change)
	return order
}

func (suite *OrderLifecycleTestSuite) createShippedOrder(productID int64) domain.Order {
	order := suite.createOrder(productID)

	_, err := suite.engine.ConfirmOrder(producerID, order.ID)
	require.NoError(suite.T(), err)
	shipped, err := suite.engine.ShipOrder(producerID, order.ID, "TRK-200")
	require.NoError(suite.T(), err)
	return shipped
}

func (suite *OrderLifecycleTestSuite) requireTimeline(orderID int64, types ...string) []domain.TimelineEvent {
	events, err := suite.timeline.List(orderID)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), events, len(types))
	for i, eventType := range types {
		require.Equal(suite.T(), eventType, events[i].Type)
	}
	return events
}

func TestOrderLifecycle(t *testing.T) {
	suite.Run(t, new(OrderLifecycleTestSuite))
}
