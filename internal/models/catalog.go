package models

import "time"

// Table is a dining table pulled from the backend.
type Table struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	Capacity  int       `json:"capacity"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MenuItem is a sellable item pulled from the backend.
type MenuItem struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	Category        string    `json:"category,omitempty"`
	CategoryID      int64     `json:"category_id,omitempty"`
	Price           float64   `json:"price"`
	PrepArea        string    `json:"prep_area,omitempty"`
	IsAvailable     bool      `json:"is_available"`
	PreparationTime int       `json:"preparation_time"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Staff is a staff member that may log in on the terminal.
type Staff struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}
