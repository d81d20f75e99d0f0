package dto

type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"` // validation, forbidden, not_found, conflict, upstream, internal
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

// WebhookAck is the only body webhook senders ever see on a verified delivery.
type WebhookAck struct {
	Received bool `json:"received"`
}

type ReleaseResponse struct {
	TransactionID string `json:"transaction_id"`
	Result        string `json:"result"`
}
