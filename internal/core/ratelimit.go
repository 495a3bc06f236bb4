package core

// RateGateStats is a point-in-time view of the global call throttle.
type RateGateStats struct {
	RequestsInWindow  int   `json:"requests_in_window"`
	MaxPerWindow      int   `json:"max_per_window"`
	QueueLength       int   `json:"queue_length"`
	RemainingCapacity int   `json:"remaining_capacity"`
	Admitted          int64 `json:"admitted"`
	Stalls            int64 `json:"stalls"`
}
