package mpesa

import "encoding/json"

// ParseCallback decodes the gateway's nested webhook envelope into a
// CallbackOutcome. Malformed bodies fail with CallbackParseError; the
// caller acknowledges them without touching the ledger.
func ParseCallback(body []byte) (CallbackOutcome, error) {
	var env callbackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return CallbackOutcome{}, &CallbackParseError{Reason: err.Error()}
	}
	cb := env.Body.STKCallback
	if cb == nil {
		return CallbackOutcome{}, &CallbackParseError{Reason: "missing Body.stkCallback"}
	}

	out := CallbackOutcome{
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
	}
	if cb.CallbackMetadata != nil {
		out.Metadata = make(map[string]any, len(cb.CallbackMetadata.Item))
		for _, item := range cb.CallbackMetadata.Item {
			if item.Name != "" {
				out.Metadata[item.Name] = item.Value
			}
		}
	}
	return out, nil
}
