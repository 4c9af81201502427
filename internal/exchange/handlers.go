package exchange

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ssa-exchange/settlement-engine/internal/api"
	"github.com/ssa-exchange/settlement-engine/internal/oracle"
	"github.com/ssa-exchange/settlement-engine/internal/symbol"
)

// RegisterRoutes mounts the trading, private-market and currency endpoints.
func (s *Service) RegisterRoutes(r chi.Router) {
	r.Get("/exchange/stocks", s.listStocks(symbol.MarketPublic))
	r.Get("/exchange/price/{stock}", s.getPrice(symbol.MarketPublic))
	r.Post("/exchange/buy", s.buy(symbol.MarketPublic))
	r.Post("/exchange/sell", s.sell(symbol.MarketPublic))

	r.Get("/private/stocks", s.listStocks(symbol.MarketPrivate))
	r.Get("/private/price/{stock}", s.getPrice(symbol.MarketPrivate))
	r.Get("/private/balance/{address}/{stock}", s.GetPrivateBalance)
	r.Post("/private/buy", s.buy(symbol.MarketPrivate))
	r.Post("/private/sell", s.sell(symbol.MarketPrivate))

	r.Post("/currency/mint", s.MintCurrency)
	r.Post("/currency/burn", s.BurnCurrency)
	r.Get("/currency/balance/{currency}/{address}", s.GetCurrencyBalance)
	r.Get("/currency/balances/{address}", s.GetCurrencyBalances)
}

func (s *Service) buy(market symbol.Market) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TradeRequest
		if err := api.Decode(r, &req); err != nil {
			api.WriteError(w, err)
			return
		}
		res, err := s.Buy(r.Context(), market, req)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, res)
	}
}

func (s *Service) sell(market symbol.Market) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TradeRequest
		if err := api.Decode(r, &req); err != nil {
			api.WriteError(w, err)
			return
		}
		res, err := s.Sell(r.Context(), market, req)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, res)
	}
}

type stockView struct {
	symbol.Symbol
	Quote oracle.Quote `json:"quote"`
}

// listStocks lists a market's symbols with a current quote in the
// market's default currency.
func (s *Service) listStocks(market symbol.Market) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		syms := symbol.OnMarket(market)
		out := make([]stockView, 0, len(syms))
		for _, sym := range syms {
			q, err := s.quotes.Price(r.Context(), sym.Ticker, r.URL.Query().Get("currency"))
			if err != nil {
				s.fail(w, r, err)
				return
			}
			out = append(out, stockView{Symbol: sym, Quote: q})
		}
		api.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "market": market, "stocks": out})
	}
}

func (s *Service) getPrice(market symbol.Market) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sym, err := symbol.LookupIn(market, chi.URLParam(r, "stock"))
		if err != nil {
			api.WriteError(w, err)
			return
		}
		q, err := s.quotes.Price(r.Context(), sym.Ticker, r.URL.Query().Get("currency"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "quote": q})
	}
}

// GetPrivateBalance handles GET /private/balance/{address}/{stock}.
func (s *Service) GetPrivateBalance(w http.ResponseWriter, r *http.Request) {
	sym, err := symbol.LookupIn(symbol.MarketPrivate, chi.URLParam(r, "stock"))
	if err != nil {
		api.WriteError(w, err)
		return
	}
	b, err := s.Balance(r.Context(), chi.URLParam(r, "address"), sym.Ticker)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "balance": b})
}

// MintCurrency handles POST /currency/mint.
func (s *Service) MintCurrency(w http.ResponseWriter, r *http.Request) {
	var req SupplyRequest
	if err := api.Decode(r, &req); err != nil {
		api.WriteError(w, err)
		return
	}
	res, err := s.Mint(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, res)
}

// BurnCurrency handles POST /currency/burn.
func (s *Service) BurnCurrency(w http.ResponseWriter, r *http.Request) {
	var req SupplyRequest
	if err := api.Decode(r, &req); err != nil {
		api.WriteError(w, err)
		return
	}
	res, err := s.Burn(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, res)
}

// GetCurrencyBalance handles GET /currency/balance/{currency}/{address}.
func (s *Service) GetCurrencyBalance(w http.ResponseWriter, r *http.Request) {
	cur, err := symbol.LookupCurrency(chi.URLParam(r, "currency"))
	if err != nil {
		api.WriteError(w, err)
		return
	}
	b, err := s.Balance(r.Context(), chi.URLParam(r, "address"), cur.Code)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "balance": b})
}

// GetCurrencyBalances handles GET /currency/balances/{address}.
func (s *Service) GetCurrencyBalances(w http.ResponseWriter, r *http.Request) {
	bs, err := s.Balances(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "balances": bs})
}

func (s *Service) fail(w http.ResponseWriter, r *http.Request, err error) {
	if api.StatusFor(err) >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	api.WriteError(w, err)
}
