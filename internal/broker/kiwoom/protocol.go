package kiwoom

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"daytrader/internal/types"
)

// returnCode accepts both 0 and "0".
type returnCode int

func (rc *returnCode) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*rc = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("return_code %s: %w", string(b), err)
	}
	*rc = returnCode(n)
	return nil
}

type envelope struct {
	Trnm       string     `json:"trnm"`
	ReturnCode returnCode `json:"return_code"`
	ReturnMsg  string     `json:"return_msg"`
}

type loginRequest struct {
	Trnm  string `json:"trnm"`
	Token string `json:"token"`
}

type regItem struct {
	Item []string `json:"item"`
	Type []string `json:"type"`
}

type regRequest struct {
	Trnm    string    `json:"trnm"`
	GrpNo   string    `json:"grp_no"`
	Refresh string    `json:"refresh"`
	Data    []regItem `json:"data"`
}

func newRegRequest(trnm, symbol string) regRequest {
	return regRequest{
		Trnm:    trnm,
		GrpNo:   "1",
		Refresh: "1",
		Data:    []regItem{{Item: []string{symbol}, Type: []string{quoteType}}},
	}
}

type realEntry struct {
	Type   string            `json:"type"`
	Name   string            `json:"name"`
	Item   string            `json:"item"`
	Values map[string]string `json:"values"`
}

type realMessage struct {
	Trnm string      `json:"trnm"`
	Data []realEntry `json:"data"`
}

func decodeEnvelope(raw []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", types.ErrDataParse, err)
	}
	if env.Trnm == "" {
		return envelope{}, fmt.Errorf("%w: message without trnm", types.ErrDataParse)
	}
	return env, nil
}

// decodeTicks parses every quote entry of a REAL message. Entries of other
// feed types are skipped; a malformed quote entry fails the whole message.
func decodeTicks(raw []byte, observedAt time.Time) ([]types.PriceTick, error) {
	var msg realMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrDataParse, err)
	}

	ticks := make([]types.PriceTick, 0, len(msg.Data))
	for _, e := range msg.Data {
		if e.Type != "" && e.Type != quoteType {
			continue
		}
		tick, err := parseTick(e, observedAt)
		if err != nil {
			return nil, err
		}
		ticks = append(ticks, tick)
	}
	return ticks, nil
}

func parseTick(e realEntry, observedAt time.Time) (types.PriceTick, error) {
	if e.Item == "" {
		return types.PriceTick{}, fmt.Errorf("%w: quote without item", types.ErrDataParse)
	}
	price, err := parseSigned(e.Values[fieldLastPrice])
	if err != nil {
		return types.PriceTick{}, fmt.Errorf("%w: %s last price: %v", types.ErrDataParse, e.Item, err)
	}
	price = abs(price)
	if price == 0 {
		return types.PriceTick{}, fmt.Errorf("%w: %s zero last price", types.ErrDataParse, e.Item)
	}

	tick := types.PriceTick{
		StockCode:  e.Item,
		Price:      price,
		TradeTime:  e.Values[fieldTradeTime],
		ObservedAt: observedAt,
	}
	// Auxiliary fields are informational; a bad value leaves them zero.
	if v, err := parseSigned(e.Values[fieldChange]); err == nil {
		tick.Change = v
	}
	if v, err := strconv.ParseFloat(strings.TrimPrefix(strings.TrimSpace(e.Values[fieldChangeRate]), "+"), 64); err == nil {
		tick.ChangeRate = v
	}
	if v, err := parseSigned(e.Values[fieldVolume]); err == nil {
		tick.Volume = abs(v)
	}
	return tick, nil
}

// parseSigned reads "+60700", "-1,200" or "60700".
func parseSigned(s string) (int64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	s = strings.TrimPrefix(s, "+")
	return strconv.ParseInt(s, 10, 64)
}

func abs(v int64) int64 {
	if v < 0 {
		if v == math.MinInt64 {
			return math.MaxInt64
		}
		return -v
	}
	return v
}
