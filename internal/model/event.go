package model

import "strings"

// Entity is the closed set of upstream entity kinds the dispatcher understands.
type Entity string

const (
	EntityUnknown             Entity = "unknown"
	EntityItem                Entity = "item"
	EntityBill                Entity = "bill"
	EntityInventory           Entity = "inventory"
	EntityPackage             Entity = "package"
	EntitySalesOrder          Entity = "salesorder"
	EntitySalesReturn         Entity = "salesreturn"
	EntitySalesReturnReceive  Entity = "salesreturnreceive"
	EntityInventoryAdjustment Entity = "inventoryadjustment"
	EntityCreditNote          Entity = "creditnote"
	EntityInvoice             Entity = "invoice"
	EntityCategory            Entity = "category"
	EntityPriceList           Entity = "pricelist"
	EntityContact             Entity = "contact"
	EntityVendorPayment       Entity = "vendorpayment"
	EntityExpense             Entity = "expense"
)

// StockAffecting reports whether a change to this entity can move stock.
func (e Entity) StockAffecting() bool {
	switch e {
	case EntityItem, EntityBill, EntityInventory, EntityPackage, EntitySalesOrder,
		EntitySalesReturn, EntitySalesReturnReceive, EntityInventoryAdjustment,
		EntityCreditNote, EntityInvoice:
		return true
	}
	return false
}

// NormalizedEvent is the canonical form of a webhook delivery.
type NormalizedEvent struct {
	// EventType is the delivered type, or "{entity}.updated" when synthesized.
	EventType string
	// EntityName is the entity segment as delivered (before the first dot) or
	// the canonical name for raw-entity payloads.
	EntityName string
	// Entity is EntityName resolved against the known entity table.
	Entity Entity
	Data   map[string]any
	// Synthesized is set when the payload carried no verb.
	Synthesized bool
}

// Verb returns the part of EventType after the first dot.
func (e NormalizedEvent) Verb() string {
	if _, verb, ok := strings.Cut(e.EventType, "."); ok {
		return verb
	}
	return ""
}
