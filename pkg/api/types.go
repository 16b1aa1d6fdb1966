package api

import "github.com/uhyunpark/orderrelay/pkg/order"

// SubmitOrderResponse is the 200 body of POST /order.
type SubmitOrderResponse struct {
	Status  string      `json:"status"` // always "submitted"
	Message string      `json:"message"`
	Order   order.Event `json:"order"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"` // open WebSocket connections
	Registered  int    `json:"registered"`  // identified users
	Relay       string `json:"relay"`       // relay subscription state
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
