package upbit

import "encoding/json"

const (
	WSURL      = "wss://api.upbit.com/websocket/v1"
	MainnetURL = "https://api.upbit.com"
)

// tradeResponse is one Upbit trade print. Numbers stay json.Number until they are scaled.
type tradeResponse struct {
	Type           string      `json:"type"` // trade
	Code           string      `json:"code"` // KRW-BTC
	TradePrice     json.Number `json:"trade_price"`
	TradeVolume    json.Number `json:"trade_volume"`
	TradeTimestamp int64       `json:"trade_timestamp"`
	AskBid         string      `json:"ask_bid"`
	SequentialID   int64       `json:"sequential_id"`
	StreamType     string      `json:"stream_type"`
}

type account struct {
	Currency string `json:"currency"`
	Balance  string `json:"balance"`
	Locked   string `json:"locked"`
}

type orderTrade struct {
	Market string `json:"market"`
	UUID   string `json:"uuid"`
	Price  string `json:"price"`
	Volume string `json:"volume"`
	Funds  string `json:"funds"`
	Side   string `json:"side"`
}

type orderResponse struct {
	UUID           string       `json:"uuid"`
	Identifier     string       `json:"identifier"`
	Side           string       `json:"side"`
	OrdType        string       `json:"ord_type"`
	State          string       `json:"state"` // wait, watch, done, cancel
	Market         string       `json:"market"`
	ExecutedVolume string       `json:"executed_volume"`
	PaidFee        string       `json:"paid_fee"`
	TradesCount    int          `json:"trades_count"`
	Trades         []orderTrade `json:"trades"`
}

type errorResponse struct {
	Error struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}
