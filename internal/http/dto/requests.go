package dto

import "github.com/chris-briden/edc-exchange-sub000/internal/models"

type ShippingSelection struct {
	RateID      string `json:"rate_id"`
	CarrierCost string `json:"carrier_cost"` // decimal string, e.g. "18.40"
}

// IntentRequest is the body of POST /rental-intent and POST /purchase-intent.
// The buyer is the authenticated caller.
type IntentRequest struct {
	ListingID string             `json:"listing_id"`
	Shipping  *ShippingSelection `json:"shipping,omitempty"`
}

type PurchaseLabelRequest struct {
	ShipmentType        string         `json:"shipment_type"` // sale / rental_outbound / rental_return
	TransactionID       *string        `json:"transaction_id,omitempty"`
	OutboundShipmentID  *string        `json:"outbound_shipment_id,omitempty"`
	RateID              string         `json:"rate_id"`
	ShipmentID          string         `json:"shipment_id"` // provider shipment the rate came from
	CarrierCost         string         `json:"carrier_cost"`
	Carrier             string         `json:"carrier"`
	SenderID            string         `json:"sender_id"`
	RecipientID         string         `json:"recipient_id"`
	From                models.Address `json:"from"`
	To                  models.Address `json:"to"`
	Parcel              models.Parcel  `json:"parcel"`
	GenerateReturnLabel bool           `json:"generate_return_label"`
}

type VoidLabelRequest struct {
	ShipmentID string `json:"shipment_id"`
}
