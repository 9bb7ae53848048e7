package domain

// FeeRateDivisor — знаменатель ставки комиссии в базисных пунктах.
const FeeRateDivisor = 10_000

// ValidFeeRateBps проверяет, что ставка лежит в диапазоне [0, 10000].
func ValidFeeRateBps(rateBps int64) bool {
	return rateBps >= 0 && rateBps <= FeeRateDivisor
}

// SplitFee делит сумму на комиссию платформы и выплату продавцу.
// Комиссия округляется вниз целочисленным делением; та же функция
// используется и при создании заказа, и при settlement, поэтому
// зафиксированная и выплаченная комиссия всегда совпадают.
func SplitFee(amountMinor, rateBps int64) (fee, net int64) {
	if amountMinor <= 0 || rateBps <= 0 {
		return 0, amountMinor
	}
	fee = amountMinor * rateBps / FeeRateDivisor
	return fee, amountMinor - fee
}
