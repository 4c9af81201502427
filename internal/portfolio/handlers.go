package portfolio

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ssa-exchange/settlement-engine/internal/api"
	"github.com/ssa-exchange/settlement-engine/internal/model"
	"github.com/ssa-exchange/settlement-engine/internal/symbol"
)

// RegisterRoutes mounts the read-only portfolio endpoints.
func (s *Service) RegisterRoutes(r chi.Router) {
	r.Get("/portfolio/{address}", s.getPortfolio(symbol.MarketPublic))
	r.Get("/portfolio/{address}/stock/{stock}", s.GetStockDetail)
	r.Get("/portfolio/{address}/transactions", s.listTransactions(""))
	r.Get("/portfolio/{address}/user-info", s.GetUserInfo)

	r.Get("/private/portfolio/{address}", s.getPortfolio(symbol.MarketPrivate))
	r.Get("/private/transactions/{address}", s.listTransactions(symbol.MarketPrivate))
}

func (s *Service) getPortfolio(market symbol.Market) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := s.Valuate(r.Context(), chi.URLParam(r, "address"), market)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, struct {
			Success bool `json:"success"`
			*model.Portfolio
		}{true, p})
	}
}

// GetStockDetail handles GET /portfolio/{address}/stock/{stock}.
func (s *Service) GetStockDetail(w http.ResponseWriter, r *http.Request) {
	d, err := s.StockDetail(r.Context(), chi.URLParam(r, "address"), chi.URLParam(r, "stock"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*model.StockDetail
	}{true, d})
}

func (s *Service) listTransactions(market symbol.Market) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		address := chi.URLParam(r, "address")
		txs, err := s.Transactions(r.Context(), address, market, limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, map[string]any{
			"success":      true,
			"address":      address,
			"transactions": txs,
		})
	}
}

// GetUserInfo handles GET /portfolio/{address}/user-info.
func (s *Service) GetUserInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.UserInfo(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*UserInfo
	}{true, info})
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
