package event

import (
	"bytes"
	"encoding/json"
)

// ReferencesCall reports whether an archived payload mentions the given tool
// call id, either through the decoded envelope fields or anywhere in the raw
// bytes (providers spread call ids across item_id, call_id and nested items).
func ReferencesCall(payload json.RawMessage, callID string) bool {
	if callID == "" || len(payload) == 0 {
		return false
	}
	var ev ProviderEvent
	if err := json.Unmarshal(payload, &ev); err == nil {
		if ev.CallID == callID || ev.ItemID == callID {
			return true
		}
		if ev.Item != nil && (ev.Item.CallID == callID || ev.Item.ID == callID) {
			return true
		}
	}
	return bytes.Contains(payload, []byte(`"`+callID+`"`))
}
