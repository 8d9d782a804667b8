package daemon

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/developingchet/leroy/internal/journal"
)

// metricsHandler returns the Prometheus HTTP handler.
func metricsHandler() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// BanView is the JSON form of a journal entry.
type BanView struct {
	Key        string    `json:"key"`
	Family     string    `json:"family"`
	Recidivism uint32    `json:"recidivism"`
	Duration   string    `json:"duration"`
	BannedAt   time.Time `json:"banned_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type statusView struct {
	Version   string `json:"version"`
	Ingesting bool   `json:"ingesting"`
	Uptime    string `json:"uptime"`
	Journal   bool   `json:"journal"`
}

func (d *Daemon) healthHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !d.ingesting.Load() {
			http.Error(w, "not ready: input not being read", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, statusView{
			Version:   Version,
			Ingesting: d.ingesting.Load(),
			Uptime:    time.Since(d.started).Truncate(time.Second).String(),
			Journal:   d.journal != nil,
		})
	})
	r.Get("/bans", d.listBans)
	return r
}

// listBans serves the journal's unexpired bans, soonest expiry first.
func (d *Daemon) listBans(w http.ResponseWriter, _ *http.Request) {
	if d.journal == nil {
		http.Error(w, "ban journal disabled", http.StatusNotFound)
		return
	}
	entries, err := d.journal.List()
	if err != nil {
		d.log.Warn().Err(err).Msg("list journal failed")
		http.Error(w, "list journal: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, ActiveBans(entries, time.Now()))
}

// ActiveBans returns the entries still in force at now, soonest expiry
// first.
func ActiveBans(entries map[string]journal.Entry, now time.Time) []BanView {
	out := make([]BanView, 0, len(entries))
	for _, e := range entries {
		if !e.ExpiresAt.After(now) {
			continue
		}
		out = append(out, BanView{
			Key:        e.Key,
			Family:     e.Family,
			Recidivism: e.Recidivism,
			Duration:   e.Duration.String(),
			BannedAt:   e.BannedAt,
			ExpiresAt:  e.ExpiresAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
