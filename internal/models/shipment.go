package models

import (
	"time"

	"github.com/google/uuid"
)

// Shipment types
const (
	ShipmentTypeSale           = "sale"
	ShipmentTypeRentalOutbound = "rental_outbound"
	ShipmentTypeRentalReturn   = "rental_return"
)

// Who pays for a label
const (
	PayerBuyer    = "buyer"
	PayerSeller   = "seller"
	PayerPlatform = "platform"
)

// Shipment statuses
const (
	ShipmentStatusLabelCreated = "label_created"
	ShipmentStatusInTransit    = "in_transit"
	ShipmentStatusDelivered    = "delivered"
	ShipmentStatusReturned     = "returned"
	ShipmentStatusFailed       = "failed"
	ShipmentStatusCancelled    = "cancelled"
)

// Carriers report FAILURE for exceptions they later recover from, so failed
// is not terminal.
var ValidShipmentTransitions = map[string][]string{
	ShipmentStatusLabelCreated: {ShipmentStatusInTransit, ShipmentStatusDelivered, ShipmentStatusReturned, ShipmentStatusFailed, ShipmentStatusCancelled},
	ShipmentStatusInTransit:    {ShipmentStatusDelivered, ShipmentStatusReturned, ShipmentStatusFailed},
	ShipmentStatusFailed:       {ShipmentStatusInTransit, ShipmentStatusDelivered, ShipmentStatusReturned},
	ShipmentStatusDelivered:    {},
	ShipmentStatusReturned:     {},
	ShipmentStatusCancelled:    {},
}

func IsValidShipmentTransition(from, to string) bool {
	return containsTransition(ValidShipmentTransitions, from, to)
}

func ShipmentSourcesFor(to string) []string {
	return sourcesFor(ValidShipmentTransitions, to)
}

func IsValidShipmentType(t string) bool {
	switch t {
	case ShipmentTypeSale, ShipmentTypeRentalOutbound, ShipmentTypeRentalReturn:
		return true
	}
	return false
}

// PayerFor derives who pays a label from the shipment type.
func PayerFor(shipmentType string) string {
	if shipmentType == ShipmentTypeRentalReturn {
		return PayerSeller
	}
	return PayerBuyer
}

type Address struct {
	Name    string `json:"name"`
	Street1 string `json:"street1"`
	Street2 string `json:"street2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
}

type Parcel struct {
	Length       string `json:"length"`
	Width        string `json:"width"`
	Height       string `json:"height"`
	DistanceUnit string `json:"distance_unit"`
	Weight       string `json:"weight"`
	MassUnit     string `json:"mass_unit"`
}

type Shipment struct {
	ID                   uuid.UUID  `json:"id"`
	TransactionID        *uuid.UUID `json:"transaction_id,omitempty"`
	ShipmentType         string     `json:"shipment_type"`
	SenderID             uuid.UUID  `json:"sender_id"`
	RecipientID          uuid.UUID  `json:"recipient_id"`
	ExternalShipmentID   string     `json:"external_shipment_id"`
	ExternalRateID       string     `json:"external_rate_id"`
	ExternalLabelID      string     `json:"external_label_id"`
	Carrier              string     `json:"carrier"`
	TrackingNumber       string     `json:"tracking_number"`
	TrackingURL          string     `json:"tracking_url"`
	LabelURL             string     `json:"label_url"`
	FromAddress          Address    `json:"from_address"`
	ToAddress            Address    `json:"to_address"`
	Parcel               Parcel     `json:"parcel"`
	CarrierCostCents     int64      `json:"carrier_cost_cents"`
	PayerPriceCents      int64      `json:"payer_price_cents"`
	PlatformRevenueCents int64      `json:"platform_revenue_cents"`
	Payer                string     `json:"payer"`
	Status               string     `json:"status"`
	RefundStatus         *string    `json:"refund_status,omitempty"`
	PairedShipmentID     *uuid.UUID `json:"paired_shipment_id,omitempty"`
	ShippedAt            *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt          *time.Time `json:"delivered_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// ReturnAddresses swaps from/to so a return label ships back to the sender.
func (s *Shipment) ReturnAddresses() (from, to Address) {
	return s.ToAddress, s.FromAddress
}
