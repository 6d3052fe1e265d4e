package handlers

import (
	"github.com/pharmly/api/internal/services"
)

type productPayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Price      int64  `json:"price"`
	Stock      int64  `json:"stock"`
	Sold       int64  `json:"sold"`
	SKU        string `json:"sku,omitempty"`
	Category   string `json:"category,omitempty"`
	PharmacyID string `json:"pharmacyId,omitempty"`
	Image      string `json:"image,omitempty"`
	CreatedAt  string `json:"createdAt,omitempty"`
	UpdatedAt  string `json:"updatedAt,omitempty"`
}

func buildProductPayload(p services.Product) productPayload {
	return productPayload{
		ID:         p.ID,
		Name:       p.Name,
		Price:      p.Price,
		Stock:      p.Stock,
		Sold:       p.Sold,
		SKU:        p.SKU,
		Category:   p.Category,
		PharmacyID: p.PharmacyID,
		Image:      p.Image,
		CreatedAt:  formatTime(p.CreatedAt),
		UpdatedAt:  formatTime(p.UpdatedAt),
	}
}

type orderItemPayload struct {
	ProductID    string `json:"productId"`
	Name         string `json:"name"`
	PriceAtOrder int64  `json:"priceAtOrder"`
	Quantity     int64  `json:"quantity"`
	Subtotal     int64  `json:"subtotal"`
	ImageURL     string `json:"imageUrl,omitempty"`
}

type orderPayload struct {
	ID             string             `json:"id"`
	CustomerID     string             `json:"customerId"`
	PharmacyID     string             `json:"pharmacyId"`
	Items          []orderItemPayload `json:"items"`
	Total          int64              `json:"total"`
	Address        string             `json:"address"`
	Phone          string             `json:"phone"`
	PaymentMethod  string             `json:"paymentMethod"`
	PaymentRef     string             `json:"paymentRef,omitempty"`
	Paid           bool               `json:"paid"`
	Status         string             `json:"status"`
	StockProcessed bool               `json:"stockProcessed"`
	CreatedAt      string             `json:"createdAt,omitempty"`
	UpdatedAt      string             `json:"updatedAt,omitempty"`
}

func buildOrderPayload(o services.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(o.Items))
	for _, item := range o.Items {
		subtotal, _ := item.Subtotal()
		items = append(items, orderItemPayload{
			ProductID:    item.ProductID,
			Name:         item.Name,
			PriceAtOrder: item.PriceAtOrder,
			Quantity:     item.Quantity,
			Subtotal:     subtotal,
			ImageURL:     item.ImageURL,
		})
	}
	return orderPayload{
		ID:             o.ID,
		CustomerID:     o.CustomerID,
		PharmacyID:     o.PharmacyID,
		Items:          items,
		Total:          o.Total,
		Address:        o.Address,
		Phone:          o.Phone,
		PaymentMethod:  string(o.PaymentMethod),
		PaymentRef:     o.PaymentRef,
		Paid:           o.Paid,
		Status:         string(o.Status),
		StockProcessed: o.StockProcessed,
		CreatedAt:      formatTime(o.CreatedAt),
		UpdatedAt:      formatTime(o.UpdatedAt),
	}
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

func buildOrderList(items []services.Order, next string) orderListResponse {
	resp := orderListResponse{Items: make([]orderPayload, 0, len(items)), NextPageToken: next}
	for _, order := range items {
		resp.Items = append(resp.Items, buildOrderPayload(order))
	}
	return resp
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}
