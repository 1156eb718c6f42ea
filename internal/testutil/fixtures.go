package testutil

// SampleNotificationFrame is a notification frame as pushed by the backend.
const SampleNotificationFrame = `{"type":"notification","data":{"title":"BTC Spike","body":"+5% in 10m","timestamp":1700000000000}}`

// SampleSignalFrame is a NEW_SIGNAL notification.
const SampleSignalFrame = `{"type":"notification","data":{"title":"Nouveau Signal: AAPL","body":"Signal BUY détecté avec une confiance de 87%.","type":"NEW_SIGNAL","symbol":"AAPL","side":"BUY","confidence":0.87}}`

// SamplePaymentFrame is a PAYMENT_SUCCESS notification.
const SamplePaymentFrame = `{"type":"notification","data":{"title":"Paiement Réussi","body":"Votre dépôt de 50.00 USD via AIRTEL a été confirmé.","type":"PAYMENT_SUCCESS","amount":"50.00"}}`

// SampleTickerFrame is a non-notification frame.
const SampleTickerFrame = `{"type":"ticker","data":{"symbol":"BTCUSD","price":"64210.5"}}`

// MalformedFrames returns text frames that must be dropped, keyed by reason.
func MalformedFrames() map[string]string {
	return map[string]string{
		"not json":         `not json at all`,
		"truncated":        `{"type":"notification","data":{`,
		"array":            `[{"type":"notification"}]`,
		"missing type":     `{"data":{"title":"x"}}`,
		"numeric type":     `{"type":42,"data":{}}`,
		"empty type":       `{"type":"","data":{}}`,
		"empty":            ``,
		"json string":      `"notification"`,
		"trailing garbage": `{"type":"notification"} extra`,
	}
}
