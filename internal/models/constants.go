package models

const (
	// OrderSourcePOS marks orders entered on the terminal.
	OrderSourcePOS = "pos"

	OrderStatusPending = "pending"

	// DefaultScheduleName is the identity of the periodic sync schedule.
	DefaultScheduleName = "sync_orders_work"

	// DefaultPurgeAfterDays matches the terminal's retention of synced orders.
	DefaultPurgeAfterDays = 30

	NetworkConnected   = "connected"
	NetworkNotRequired = "none"
)
