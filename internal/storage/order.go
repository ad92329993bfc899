package storage

import (
	"sort"

	"greenmarket/internal/domain"
)

// SortTransactions orders newest first; equal dates fall back to id descending.
func SortTransactions(ts []domain.Transaction) {
	sort.SliceStable(ts, func(i, j int) bool {
		if !ts[i].Date.Equal(ts[j].Date) {
			return ts[i].Date.After(ts[j].Date)
		}
		return ts[i].ID > ts[j].ID
	})
}

// SortMarketSessions orders by date ascending, then id ascending.
func SortMarketSessions(ms []domain.MarketSession) {
	sort.SliceStable(ms, func(i, j int) bool {
		if !ms[i].Date.Equal(ms[j].Date) {
			return ms[i].Date.Before(ms[j].Date)
		}
		return ms[i].ID < ms[j].ID
	})
}
