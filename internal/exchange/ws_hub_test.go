package exchange_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ssa-exchange/settlement-engine/internal/exchange"
	"github.com/ssa-exchange/settlement-engine/internal/ledger"
	"github.com/ssa-exchange/settlement-engine/internal/reconcile"
	"github.com/ssa-exchange/settlement-engine/internal/sizing"
	"github.com/ssa-exchange/settlement-engine/internal/store"
	"github.com/ssa-exchange/settlement-engine/internal/symbol"
)

const msgSync = "sync"

// dialHub connects a client and returns once the hub is delivering to it.
func dialHub(t *testing.T, hub *exchange.WSHub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	stop := make(chan struct{})
	go func() {
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				hub.Broadcast(exchange.WSMessage{Type: msgSync})
			}
		}
	}()
	defer close(stop)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg exchange.WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == msgSync {
			return conn
		}
	}
}

// next reads the next message that is not a sync message.
func next(t *testing.T, conn *websocket.Conn) exchange.WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg exchange.WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type != msgSync {
			return msg
		}
	}
}

func TestWSHub_Broadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := exchange.NewWSHub(zap.NewNop())
	go hub.Run(ctx)

	conn := dialHub(t, hub)
	hub.Broadcast(exchange.WSMessage{Type: exchange.MsgSupplyChanged, Symbol: "INR", Side: "MINT", Quantity: "5", TxHash: "0x1"})

	msg := next(t, conn)
	assert.Equal(t, exchange.MsgSupplyChanged, msg.Type)
	assert.Equal(t, "0x1", msg.TxHash)
}

func TestWSHub_TradeIsPublished(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := exchange.NewWSHub(zap.NewNop())
	go hub.Run(ctx)

	led, err := ledger.OpenSimulated("", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { led.Close() })
	quotes := &staticQuotes{prices: map[string]decimal.Decimal{}}
	quotes.set("AAPL", "100")
	svc := exchange.NewService(exchange.Config{
		Fees:      sizing.FeeSchedule{Rate: d("0.001")},
		FeeWallet: feeWallet,
		Queue:     reconcile.NewMemoryQueue(),
		Hub:       hub,
	}, store.NewMemoryStore(), led, quotes, zap.NewNop())

	_, err = svc.Mint(ctx, exchange.SupplyRequest{Currency: "INR", UserAddress: alice, Amount: d("500")})
	require.NoError(t, err)

	conn := dialHub(t, hub)
	res, err := svc.Buy(ctx, symbol.MarketPublic, exchange.TradeRequest{
		UserAddress: alice, Stock: "AAPL", Amount: d("500"),
	})
	require.NoError(t, err)

	msg := next(t, conn)
	assert.Equal(t, exchange.MsgTradeExecuted, msg.Type)
	assert.Equal(t, "AAPL", msg.Symbol)
	assert.Equal(t, "4", msg.Quantity)
	assert.Equal(t, "100", msg.Price)
	assert.Equal(t, res.TxHash, msg.TxHash)
}
