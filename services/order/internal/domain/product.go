package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	Title     string          `db:"title" json:"title"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Stock     int64           `db:"stock" json:"stock"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

type UpdateProductInput struct {
	Title *string          `json:"title" validate:"omitempty,min=3,max=255"`
	Price *decimal.Decimal `json:"price" validate:"omitempty,gte=0"`
	Stock *int64           `json:"stock" validate:"omitempty,gte=0"`
}

func (in UpdateProductInput) IsEmpty() bool {
	return in.Title == nil && in.Price == nil && in.Stock == nil
}

type CreateProductInput struct {
	Title string          `json:"title" validate:"required,min=3,max=255"`
	Price decimal.Decimal `json:"price" validate:"gte=0"`
	Stock int64           `json:"stock" validate:"gte=0"`
}
