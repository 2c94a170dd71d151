package repository

import "errors"

var (
	ErrProductNotFound        = errors.New("product not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrReleaseExceedsReserved = errors.New("release exceeds reserved quantity")
	ErrStockBelowReserved     = errors.New("total stock below reserved quantity")
	ErrReservationNotFound    = errors.New("reservation not found")
	ErrInvalidQuantity        = errors.New("quantity must be positive")
)
