package app

import (
	"github.com/vladislavdragonenkov/farmline/internal/service/catalog"
	"github.com/vladislavdragonenkov/farmline/internal/service/ledger"
)

// catalogProductInput возвращает валидный товар для тестов.
func catalogProductInput() catalog.ProductInput {
	return catalog.ProductInput{
		Name:       "Heirloom tomatoes",
		Category:   "vegetables",
		IsOrganic:  true,
		PriceMinor: 100,
		Quantity:   100,
	}
}

// orderInputFor возвращает валидный заказ на два юнита товара.
func orderInputFor(productID int64) ledger.CreateOrderInput {
	return ledger.CreateOrderInput{
		ProductID:       productID,
		Quantity:        2,
		DeliveryAddress: "12 Orchard Lane",
		PaymentMinor:    205,
	}
}
