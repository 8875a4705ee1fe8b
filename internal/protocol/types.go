package protocol

import (
	"sort"

	"github.com/marketpulse/simulator/pkg/models"
)

// Client -> server message types
const (
	TypeBuy       = "BUY"
	TypeSell      = "SELL"
	TypeSubscribe = "SUBSCRIBE"
	TypeSetAlert  = "SET_ALERT"

	ActionAdd    = "ADD"
	ActionRemove = "REMOVE"
)

// Server -> client message types
const (
	TypeInit            = "INIT"
	TypePortfolioUpdate = "PORTFOLIO_UPDATE"
	TypeAlertSetSuccess = "ALERT_SET_SUCCESS"
	TypeAlertTriggered  = "ALERT_TRIGGERED"
	TypePriceUpdate     = "PRICE_UPDATE"
	TypeError           = "ERROR"
)

// ClientRequest is the tagged record every inbound websocket message decodes to.
type ClientRequest struct {
	Type      string  `json:"type"`
	Ticker    string  `json:"ticker,omitempty"`
	Quantity  int64   `json:"quantity,omitempty"`
	Action    string  `json:"action,omitempty"`    // ADD / REMOVE, for SUBSCRIBE
	Threshold float64 `json:"threshold,omitempty"` // for SET_ALERT
}

// ServerMessage is the envelope for every outbound message.
type ServerMessage struct {
	Type    string      `json:"type"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// HoldingView is a display-ready holding: position plus its current market value.
type HoldingView struct {
	Ticker      string  `json:"ticker"`
	Quantity    int64   `json:"quantity"`
	AvgPrice    float64 `json:"avg_price"`
	MarketValue float64 `json:"market_value"`
}

type RiskMetrics struct {
	Diversification float64 `json:"diversification"`
	Beta            float64 `json:"beta"`
}

type InitData struct {
	Email         string               `json:"email"`
	Cash          float64              `json:"cash"`
	Holdings      []HoldingView        `json:"holdings"`
	Prices        map[string]float64   `json:"prices"`
	Subscriptions []string             `json:"subscriptions"`
	Alerts        map[string]float64   `json:"alerts"`
	Risk          RiskMetrics          `json:"risk"`
	Transactions  []models.Transaction `json:"transactions"` // newest first
}

type PortfolioData struct {
	Cash     float64       `json:"cash"`
	Holdings []HoldingView `json:"holdings"`
}

type AlertSetData struct {
	Alerts map[string]float64 `json:"alerts"`
}

type AlertTriggeredData struct {
	Ticker    string             `json:"ticker"`
	Price     float64            `json:"price"`
	Threshold float64            `json:"threshold"`
	Alerts    map[string]float64 `json:"alerts"` // remaining after the fire
}

type PriceUpdateData struct {
	Prices   map[string]float64 `json:"prices"`
	Cash     float64            `json:"cash"`
	Holdings []HoldingView      `json:"holdings"`
	Alerts   map[string]float64 `json:"alerts"`
	Risk     RiskMetrics        `json:"risk"`
}

// HoldingViews formats a holdings set against current prices, sorted by ticker
// for stable output.
func HoldingViews(holdings []models.Holding, prices map[string]float64) []HoldingView {
	views := make([]HoldingView, 0, len(holdings))
	for _, h := range holdings {
		views = append(views, HoldingView{
			Ticker:      h.Ticker,
			Quantity:    h.Quantity,
			AvgPrice:    h.AvgPrice,
			MarketValue: float64(h.Quantity) * prices[h.Ticker],
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Ticker < views[j].Ticker })
	return views
}
