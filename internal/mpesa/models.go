package mpesa

// PaymentRequest is the caller-facing input for an STK push. Amount is in
// whole currency units; fractional values are rounded before transmission.
type PaymentRequest struct {
	PhoneNumber      string  `json:"phone_number"`
	Amount           float64 `json:"amount"`
	AccountReference string  `json:"account_reference"`
	TransactionDesc  string  `json:"transaction_desc"`
}

// stkPushPayload is the signed request body for the payment-initiation
// endpoint. Request-scoped, never persisted.
type stkPushPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// GatewayAck is the gateway's synchronous acknowledgment of an STK push.
// ResponseCode "0" means the push was accepted for async processing; it is
// not a payment success signal.
type GatewayAck struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type callbackItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value,omitempty"`
}

type callbackMetadata struct {
	Item []callbackItem `json:"Item"`
}

type stkCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        int               `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *callbackMetadata `json:"CallbackMetadata,omitempty"`
}

type callbackEnvelope struct {
	Body struct {
		STKCallback *stkCallback `json:"stkCallback"`
	} `json:"Body"`
}

// CallbackOutcome is the flattened result of one gateway callback.
// ResultCode 0 means the end user completed the payment.
type CallbackOutcome struct {
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Metadata          map[string]any
}
