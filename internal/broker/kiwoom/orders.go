package kiwoom

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"daytrader/internal/api"
	"daytrader/internal/interfaces"
	"daytrader/internal/types"
)

const orderPath = "/api/dostk/ordr"

// trde_tp code for a market order.
const tradeTypeMarket = "3"

type orderRequest struct {
	Exchange  string `json:"dmst_stex_tp"`
	StockCode string `json:"stk_cd"`
	Quantity  string `json:"ord_qty"`
	UnitPrice string `json:"ord_uv"`
	TradeType string `json:"trde_tp"`
	CondPrice string `json:"cond_uv"`
}

type orderResponse struct {
	OrderNo    string     `json:"ord_no"`
	Exchange   string     `json:"dmst_stex_tp"`
	ReturnCode returnCode `json:"return_code"`
	ReturnMsg  string     `json:"return_msg"`
}

// OrderClient places cash orders through the REST order endpoint. Each call
// is one HTTP request; nothing is retried.
type OrderClient struct {
	client *api.Client
	tokens TokenProvider
}

var _ interfaces.OrderExecutor = (*OrderClient)(nil)

func NewOrderClient(client *api.Client, tokens TokenProvider) *OrderClient {
	return &OrderClient{client: client, tokens: tokens}
}

func (oc *OrderClient) Execute(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	apiID, err := apiIDFor(req.Side)
	if err != nil {
		return rejected(err.Error()), fmt.Errorf("%w: %v", types.ErrOrderRejected, err)
	}
	if req.Quantity <= 0 {
		msg := fmt.Sprintf("invalid quantity %d", req.Quantity)
		return rejected(msg), fmt.Errorf("%w: %s", types.ErrOrderRejected, msg)
	}
	if req.OrderType != "" && req.OrderType != types.OrderTypeMarket {
		msg := fmt.Sprintf("unsupported order type %s", req.OrderType)
		return rejected(msg), fmt.Errorf("%w: %s", types.ErrOrderRejected, msg)
	}

	token, err := oc.tokens.Token(ctx)
	if err != nil {
		return types.OrderResult{ErrorKind: types.ErrorKindAuth, Message: err.Error()}, err
	}

	body := orderRequest{
		Exchange:  "KRX",
		StockCode: req.Code,
		Quantity:  strconv.FormatInt(req.Quantity, 10),
		UnitPrice: "",
		TradeType: tradeTypeMarket,
		CondPrice: "",
	}
	httpReq := api.NewRequest(http.MethodPost, orderPath).
		WithContext(ctx).
		WithBody(body).
		WithHeader("authorization", "Bearer "+token).
		WithHeader("api-id", apiID).
		WithHeader("cont-yn", "N").
		WithHeader("next-key", "")

	resp, err := oc.client.Do(httpReq)
	if err != nil {
		var httpErr *api.HTTPError
		if errors.As(err, &httpErr) && (httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden) {
			oc.tokens.Invalidate()
			return types.OrderResult{ErrorKind: types.ErrorKindAuth, Message: err.Error()},
				fmt.Errorf("%w: %v", types.ErrAuthentication, err)
		}
		if errors.As(err, &httpErr) {
			return rejected(httpErr.Body), fmt.Errorf("%w: %v", types.ErrOrderRejected, err)
		}
		// The order may or may not have reached the broker.
		return types.OrderResult{ErrorKind: types.ErrorKindTransport, Message: err.Error()},
			fmt.Errorf("%w: %v", types.ErrConnectionLost, err)
	}

	var or orderResponse
	if err := resp.ParseJSON(&or); err != nil {
		return types.OrderResult{ErrorKind: types.ErrorKindTransport, Message: err.Error()},
			fmt.Errorf("%w: %v", types.ErrDataParse, err)
	}
	if or.OrderNo == "" || or.ReturnCode != 0 {
		msg := fmt.Sprintf("code %d: %s", or.ReturnCode, or.ReturnMsg)
		return rejected(msg), fmt.Errorf("%w: %s", types.ErrOrderRejected, msg)
	}

	return types.OrderResult{
		Success: true,
		OrderID: or.OrderNo,
		Message: or.ReturnMsg,
	}, nil
}

func apiIDFor(side types.Side) (string, error) {
	switch side {
	case types.SideBuy:
		return apiIDBuy, nil
	case types.SideSell:
		return apiIDSell, nil
	default:
		return "", fmt.Errorf("unknown side %q", side)
	}
}

func rejected(msg string) types.OrderResult {
	return types.OrderResult{ErrorKind: types.ErrorKindRejected, Message: msg}
}
