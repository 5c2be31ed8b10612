package bitget

import "encoding/json"

const (
	PublicWSURL  = "wss://ws.bitget.com/v2/ws/public"
	PrivateWSURL = "wss://ws.bitget.com/v2/ws/private"
	MainnetURL   = "https://api.bitget.com"

	productUSDTFutures = "USDT-FUTURES"
	successCode        = "00000"
)

// Error codes that mean the account cannot fund the order.
var insufficientMarginCodes = map[string]bool{
	"40762": true, // order amount exceeds balance
	"43012": true, // insufficient balance
}

type wsRequest struct {
	Op   string `json:"op"`
	Args []any  `json:"args"`
}

type subscribeArg struct {
	InstType string `json:"instType"`
	Channel  string `json:"channel"`
	InstId   string `json:"instId"`
}

type loginArg struct {
	APIKey     string `json:"apiKey"`
	Passphrase string `json:"passphrase"`
	Timestamp  string `json:"timestamp"`
	Sign       string `json:"sign"`
}

// wsEvent covers login, subscribe and error replies.
type wsEvent struct {
	Event string `json:"event"`
	Code  any    `json:"code"`
	Msg   string `json:"msg"`
}

type tickerResponse struct {
	Action string       `json:"action"`
	Arg    subscribeArg `json:"arg"`
	Data   []tickerData `json:"data"`
	Ts     int64        `json:"ts"`
}

type tickerData struct {
	InstId    string `json:"instId"`
	LastPr    string `json:"lastPr"`
	Volume24h string `json:"baseVolume"`
	Ts        string `json:"ts"`
}

type ordersResponse struct {
	Action string       `json:"action"`
	Arg    subscribeArg `json:"arg"`
	Data   []orderPush  `json:"data"`
}

// orderPush is one orders-channel message. baseVolume and fillPrice describe the latest
// execution only; accBaseVolume is cumulative.
type orderPush struct {
	InstId        string `json:"instId"`
	OrderId       string `json:"orderId"`
	ClientOid     string `json:"clientOid"`
	Side          string `json:"side"`
	Status        string `json:"status"`
	TradeId       string `json:"tradeId"`
	FillPrice     string `json:"fillPrice"`
	BaseVolume    string `json:"baseVolume"`
	AccBaseVolume string `json:"accBaseVolume"`
	FillFee       string `json:"fillFee"`
	FillFeeCoin   string `json:"fillFeeCoin"`
	FillTime      string `json:"fillTime"`
	UTime         string `json:"uTime"`
}

// apiResponse is the REST envelope.
type apiResponse struct {
	Code        string          `json:"code"`
	Msg         string          `json:"msg"`
	RequestTime int64           `json:"requestTime"`
	Data        json.RawMessage `json:"data"`
}

type placeOrderRequest struct {
	Symbol      string `json:"symbol"`
	ProductType string `json:"productType"`
	MarginMode  string `json:"marginMode"`
	MarginCoin  string `json:"marginCoin"`
	Size        string `json:"size"`
	Price       string `json:"price"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Force       string `json:"force"`
	ClientOid   string `json:"clientOid"`
	ReduceOnly  string `json:"reduceOnly"`
}

type orderIDs struct {
	OrderId   string `json:"orderId"`
	ClientOid string `json:"clientOid"`
}

type cancelOrderRequest struct {
	Symbol      string `json:"symbol"`
	ProductType string `json:"productType"`
	MarginCoin  string `json:"marginCoin"`
	ClientOid   string `json:"clientOid"`
}

type orderDetail struct {
	OrderId   string `json:"orderId"`
	ClientOid string `json:"clientOid"`
	State     string `json:"state"`
	BaseVol   string `json:"baseVolume"`
	PriceAvg  string `json:"priceAvg"`
	Fee       string `json:"fee"`
}

type accountData struct {
	MarginCoin string `json:"marginCoin"`
	Available  string `json:"available"`
	Equity     string `json:"accountEquity"`
}
