// Package access содержит примитивы авторизации и защиты от reentrancy,
// которыми пользуется каждая мутирующая операция каталога и ledger-а.
package access

import "github.com/vladislavdragonenkov/farmline/internal/domain"

// Operation идентифицирует внешнюю операцию над каталогом или ledger-ом.
type Operation string

const (
	OpListProduct       Operation = "list_product"
	OpUpdateProduct     Operation = "update_product"
	OpDeactivateProduct Operation = "deactivate_product"
	OpCreateOrder       Operation = "create_order"
	OpConfirmOrder      Operation = "confirm_order"
	OpShipOrder         Operation = "ship_order"
	OpConfirmDelivery   Operation = "confirm_delivery"
	OpCancelOrder       Operation = "cancel_order"
	OpDisputeOrder      Operation = "dispute_order"
	OpResolveDispute    Operation = "resolve_dispute"
)

// Role — класс идентичности, допущенный к операции.
type Role string

const (
	// RoleAnyone — операцию может вызвать любая идентичность от своего имени.
	RoleAnyone Role = "anyone"
	// RoleProductOwner — только владелец записи товара.
	RoleProductOwner Role = "product_owner"
	// RoleOrderBuyer — только покупатель заказа.
	RoleOrderBuyer Role = "order_buyer"
	// RoleOrderSeller — только продавец заказа.
	RoleOrderSeller Role = "order_seller"
	// RoleOrderParty — покупатель или продавец заказа.
	RoleOrderParty Role = "order_party"
	// RoleOperator — оператор платформы.
	RoleOperator Role = "operator"
)

// policy — единая декларативная таблица {операция → требуемая роль}.
// Тесты перечисляют её независимо от бизнес-логики.
var policy = map[Operation]Role{
	OpListProduct:       RoleAnyone,
	OpUpdateProduct:     RoleProductOwner,
	OpDeactivateProduct: RoleProductOwner,
	OpCreateOrder:       RoleAnyone,
	OpConfirmOrder:      RoleOrderSeller,
	OpShipOrder:         RoleOrderSeller,
	OpConfirmDelivery:   RoleOrderParty,
	OpCancelOrder:       RoleOrderBuyer,
	OpDisputeOrder:      RoleOrderParty,
	OpResolveDispute:    RoleOperator,
}

// PolicyFor возвращает требуемую роль операции.
func PolicyFor(op Operation) (Role, bool) {
	role, ok := policy[op]
	return role, ok
}

// Operations возвращает все операции, известные таблице доступа.
func Operations() []Operation {
	ops := make([]Operation, 0, len(policy))
	for op := range policy {
		ops = append(ops, op)
	}
	return ops
}

// Parties описывает идентичности, относящиеся к операции.
// Незадействованные поля остаются пустыми.
type Parties struct {
	ProductOwner string
	Buyer        string
	Seller       string
	Operator     string
}

// Authorize проверяет, допущен ли caller к операции согласно таблице.
// Нарушение возвращает ErrUnauthorized; состояние при этом не меняется,
// поскольку проверка выполняется до любых эффектов.
func Authorize(op Operation, caller string, parties Parties) error {
	if caller == "" {
		return domain.ErrUnauthorized
	}
	role, ok := policy[op]
	if !ok {
		return domain.ErrUnauthorized
	}

	switch role {
	case RoleAnyone:
		return nil
	case RoleProductOwner:
		if caller == parties.ProductOwner && parties.ProductOwner != "" {
			return nil
		}
	case RoleOrderBuyer:
		if caller == parties.Buyer && parties.Buyer != "" {
			return nil
		}
	case RoleOrderSeller:
		if caller == parties.Seller && parties.Seller != "" {
			return nil
		}
	case RoleOrderParty:
		if (caller == parties.Buyer && parties.Buyer != "") ||
			(caller == parties.Seller && parties.Seller != "") {
			return nil
		}
	case RoleOperator:
		if caller == parties.Operator && parties.Operator != "" {
			return nil
		}
	}

	return domain.ErrUnauthorized
}
