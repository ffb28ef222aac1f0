package app

import (
	"encoding/json"
	"net/http"
	"time"

	"bfx-trade-bot/internal/ledger"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type orderView struct {
	ID          int64               `json:"id"`
	Symbol      string              `json:"symbol"`
	Side        string              `json:"side"`
	Type        string              `json:"type"`
	Price       decimal.NullDecimal `json:"price"`
	Amount      decimal.Decimal     `json:"amount"`
	Remaining   decimal.Decimal     `json:"remaining"`
	PairedWith  int64               `json:"paired_with,omitempty"`
	PlacedAt    time.Time           `json:"placed_at"`
	IsCancelled bool                `json:"is_cancelled"`
}

// newRouter serves the ops endpoints. metrics and watched may be nil.
func newRouter(metrics http.Handler, watched func() *ledger.Ledger, log *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(requestLogging(log))
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	if metrics != nil {
		router.Handle("/metrics", metrics).Methods(http.MethodGet)
	}
	if watched != nil {
		api := router.PathPrefix("/api/v1").Subrouter()
		api.HandleFunc("/orders", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, orderViews(watched()))
		}).Methods(http.MethodGet)
	}
	return router
}

func orderViews(l *ledger.Ledger) []orderView {
	orders := l.All()
	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		view := orderView{
			ID:          o.ID,
			Symbol:      o.Symbol,
			Side:        string(o.Side),
			Type:        string(o.Type),
			Price:       o.Price,
			Amount:      o.OriginalAmount,
			Remaining:   o.RemainingAmount,
			PlacedAt:    o.Timestamp,
			IsCancelled: o.IsCancelled,
		}
		if sibling, ok := l.PairedWith(o.ID); ok {
			view.PairedWith = sibling
		}
		out = append(out, view)
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func requestLogging(log *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
