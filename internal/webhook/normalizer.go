// Package webhook turns ERP webhook deliveries into stock reconciliation,
// image sync and cache invalidation.
package webhook

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/Qmop1967/Clients-Console-sub001/internal/model"
)

// ErrInvalidPayload is returned for bodies that are not a JSON object.
var ErrInvalidPayload = errors.New("webhook payload must be a JSON object")

// entityKeys maps normalized payload keys to entities. Purchase orders move
// stock like bills, shipments like inventory.
var entityKeys = map[string]model.Entity{
	"item":                 model.EntityItem,
	"items":                model.EntityItem,
	"bill":                 model.EntityBill,
	"bills":                model.EntityBill,
	"purchaseorder":        model.EntityBill,
	"purchaseorders":       model.EntityBill,
	"inventory":            model.EntityInventory,
	"stock":                model.EntityInventory,
	"shipment":             model.EntityInventory,
	"shipments":            model.EntityInventory,
	"shipmentorder":        model.EntityInventory,
	"shipmentorders":       model.EntityInventory,
	"package":              model.EntityPackage,
	"packages":             model.EntityPackage,
	"salesorder":           model.EntitySalesOrder,
	"salesorders":          model.EntitySalesOrder,
	"salesreturn":          model.EntitySalesReturn,
	"salesreturns":         model.EntitySalesReturn,
	"salesreturnreceive":   model.EntitySalesReturnReceive,
	"salesreturnreceives":  model.EntitySalesReturnReceive,
	"inventoryadjustment":  model.EntityInventoryAdjustment,
	"inventoryadjustments": model.EntityInventoryAdjustment,
	"creditnote":           model.EntityCreditNote,
	"creditnotes":          model.EntityCreditNote,
	"invoice":              model.EntityInvoice,
	"invoices":             model.EntityInvoice,
	"category":             model.EntityCategory,
	"categories":           model.EntityCategory,
	"pricelist":            model.EntityPriceList,
	"pricelists":           model.EntityPriceList,
	"pricebook":            model.EntityPriceList,
	"pricebooks":           model.EntityPriceList,
	"contact":              model.EntityContact,
	"contacts":             model.EntityContact,
	"customer":             model.EntityContact,
	"customers":            model.EntityContact,
	"vendorpayment":        model.EntityVendorPayment,
	"vendorpayments":       model.EntityVendorPayment,
	"expense":              model.EntityExpense,
	"expenses":             model.EntityExpense,
}

func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)
}

// ResolveEntity maps an entity name in any of its delivered spellings to
// the closed entity set.
func ResolveEntity(name string) model.Entity {
	if e, ok := entityKeys[normalizeKey(name)]; ok {
		return e
	}
	return model.EntityUnknown
}

// Parse decodes a raw body and normalizes it.
func Parse(body []byte) (model.NormalizedEvent, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		return model.NormalizedEvent{}, ErrInvalidPayload
	}
	return Normalize(payload), nil
}

// Normalize maps a decoded payload onto a NormalizedEvent. Envelopes with
// an event_type win; otherwise the first known entity key (in sorted order)
// holding an object is used and the verb is synthesized as "updated".
func Normalize(payload map[string]any) model.NormalizedEvent {
	if eventType, ok := payload["event_type"].(string); ok && eventType != "" {
		name, _, _ := strings.Cut(eventType, ".")
		data, _ := payload["data"].(map[string]any)
		if data == nil {
			data = map[string]any{}
		}
		return model.NormalizedEvent{
			EventType:  eventType,
			EntityName: name,
			Entity:     ResolveEntity(name),
			Data:       data,
		}
	}

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		entity, ok := entityKeys[normalizeKey(k)]
		if !ok {
			continue
		}
		data, ok := payload[k].(map[string]any)
		if !ok {
			continue
		}
		return model.NormalizedEvent{
			EventType:   string(entity) + ".updated",
			EntityName:  string(entity),
			Entity:      entity,
			Data:        data,
			Synthesized: true,
		}
	}

	return model.NormalizedEvent{
		EventType:  string(model.EntityUnknown),
		EntityName: string(model.EntityUnknown),
		Entity:     model.EntityUnknown,
		Data:       payload,
	}
}
