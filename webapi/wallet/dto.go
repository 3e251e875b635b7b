package wallet

// TopupRequest funds the fiat wallet from an approved external payment.
type TopupRequest struct {
	PaymentKey string `json:"paymentKey" validate:"required" example:"tviva20240101abcdef"`
	OrderID    string `json:"orderId" validate:"required" example:"ord_20240101_0001"`
	Amount     int64  `json:"amount" validate:"required,gt=0" example:"50000"`
	Provider   string `json:"provider" validate:"required" example:"toss"`
}

// PurchaseRequest buys KAUS tokens with an approved external payment.
type PurchaseRequest struct {
	PaymentKey string `json:"paymentKey" validate:"required" example:"5O190127TN364715T"`
	OrderID    string `json:"orderId" validate:"required" example:"ord_20240101_0002"`
	Amount     int64  `json:"amount" validate:"required,gt=0" example:"100000"`
	Provider   string `json:"provider" validate:"required" example:"paypal"`
}
