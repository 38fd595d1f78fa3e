package api

import (
	"time"

	"github.com/shopspring/decimal"
)

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	CategoryID  string          `json:"category_id"`
	Cut         string          `json:"cut,omitempty"`
	Unit        string          `json:"unit"`
	Price       decimal.Decimal `json:"price"`
	InStock     bool            `json:"in_stock"`
	ImageURL    string          `json:"image_url,omitempty"`
	Rating      float64         `json:"rating,omitempty"`
}

// ProductQuery filters ListProducts. Zero fields are omitted.
type ProductQuery struct {
	Category string
	Search   string
	Page     int
	Limit    int
}

type PlaceOrderRequest struct {
	DeliveryAddress string    `json:"delivery_address"`
	DeliverySlot    time.Time `json:"delivery_slot"`
	Notes           string    `json:"notes,omitempty"`
}

type Subscription struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	Frequency string          `json:"frequency"` // weekly, biweekly, monthly
	Active    bool            `json:"active"`
	NextRunAt time.Time       `json:"next_run_at"`
}

type SubscriptionRequest struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	Frequency string          `json:"frequency"`
}

type Review struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	UserName  string    `json:"user_name"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ReviewRequest struct {
	ProductID string `json:"product_id"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment,omitempty"`
}

type Media struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}
