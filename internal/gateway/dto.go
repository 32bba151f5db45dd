package gateway

import (
	"possync/internal/models"
)

// CreateOrderRequest is the body of POST /orders.
type CreateOrderRequest struct {
	GuestID     int64              `json:"guest_id"`
	TableID     int64              `json:"table_id"`
	OrderSource string             `json:"order_source"`
	Items       []OrderItemRequest `json:"items"`
	Notes       *string            `json:"notes,omitempty"`
}

type OrderItemRequest struct {
	MenuItemID          int64   `json:"menu_item_id"`
	Quantity            int     `json:"quantity"`
	SpecialInstructions *string `json:"special_instructions,omitempty"`
}

// OrderActionResponse is what the backend returns for order writes.
type OrderActionResponse struct {
	Message string             `json:"message"`
	Order   OrderSummaryDetail `json:"order"`
}

type OrderSummaryDetail struct {
	OrderID int64  `json:"order_id"`
	Status  string `json:"status,omitempty"`
}

type errorResponse struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

type tableListResponse struct {
	Tables []tableDTO `json:"tables"`
	Total  int        `json:"total"`
}

type tableDTO struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
	Location string `json:"location"`
	Status   string `json:"status"`
}

type menuListResponse struct {
	Items []menuItemDTO `json:"items"`
	Total int           `json:"total"`
}

type menuItemDTO struct {
	ID              int64        `json:"id"`
	Name            string       `json:"name"`
	Description     string       `json:"description"`
	Price           float64      `json:"price"`
	Category        *categoryDTO `json:"category"`
	PrepArea        string       `json:"prep_area"`
	PrepTimeMinutes int          `json:"prep_time_minutes"`
	Available       *bool        `json:"available"`
}

type categoryDTO struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type staffListResponse struct {
	Staff []staffDTO `json:"staff"`
}

type staffDTO struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Status string `json:"status"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// NewCreateOrderRequest builds the wire body for a stored order.
func NewCreateOrderRequest(order models.Order) CreateOrderRequest {
	source := order.Source
	if source == "" {
		source = models.OrderSourcePOS
	}
	items := make([]OrderItemRequest, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderItemRequest{
			MenuItemID:          item.MenuItemID,
			Quantity:            item.Quantity,
			SpecialInstructions: optional(item.Notes),
		})
	}
	return CreateOrderRequest{
		GuestID:     order.GuestID,
		TableID:     order.TableID,
		OrderSource: source,
		Items:       items,
		Notes:       optional(order.Notes),
	}
}

func (t tableDTO) toModel() models.Table {
	location := t.Location
	if location == "" {
		location = "indoor"
	}
	return models.Table{ID: t.ID, Name: t.Name, Location: location, Capacity: t.Capacity, Status: t.Status}
}

func (m menuItemDTO) toModel() models.MenuItem {
	item := models.MenuItem{
		ID:              m.ID,
		Name:            m.Name,
		Description:     m.Description,
		Price:           m.Price,
		PrepArea:        m.PrepArea,
		PreparationTime: m.PrepTimeMinutes,
		IsAvailable:     m.Available == nil || *m.Available,
	}
	if m.Category != nil {
		item.Category = m.Category.Name
		item.CategoryID = m.Category.ID
	}
	return item
}

func (s staffDTO) toModel() models.Staff {
	status := s.Status
	if status == "" {
		status = "active"
	}
	return models.Staff{ID: s.ID, Name: s.Name, Role: s.Role, Status: status}
}
