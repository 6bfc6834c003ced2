package kiwoom

// Real-time quote field codes carried in REAL.values. Prices are signed
// strings such as "+60700" or "-1200"; the sign is direction, not value.
const (
	fieldLastPrice  = "10"
	fieldChange     = "11"
	fieldChangeRate = "12"
	fieldVolume     = "13"
	fieldTradeTime  = "20"
)

// quoteType is the real-time feed for executed trades.
const quoteType = "0B"

// Message tags carried in the trnm field.
const (
	trnmLogin  = "LOGIN"
	trnmReg    = "REG"
	trnmRemove = "REMOVE"
	trnmPing   = "PING"
	trnmReal   = "REAL"
)

// REST api-id values.
const (
	apiIDBuy  = "kt10000"
	apiIDSell = "kt10001"
)
