package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ncsr-ingest/internal/monitoring"
	"github.com/sells-group/ncsr-ingest/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only ops API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		collector := monitoring.NewCollector(st)
		alerter := monitoring.NewAlerter(cfg.Monitor)
		go monitoring.NewChecker(collector, alerter, cfg.Monitor).Run(ctx)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newServeMux(st),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(cmd.Context())
		}()

		zap.L().Info("starting ops API", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return infraErr(eris.Wrap(err, "server listen"))
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newServeMux wires the read-only ops endpoints over the store.
func newServeMux(st store.Store) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /api/metrics/daily", func(w http.ResponseWriter, r *http.Request) {
		date := time.Now().UTC().Truncate(24 * time.Hour)
		if q := r.URL.Query().Get("date"); q != "" {
			parsed, err := time.Parse("2006-01-02", q)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "date must be YYYY-MM-DD"})
				return
			}
			date = parsed
		}
		m, err := st.DailyMetrics(r.Context(), date)
		if err != nil {
			serveError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	})

	mux.HandleFunc("GET /api/filings/{accession}", func(w http.ResponseWriter, r *http.Request) {
		f, err := st.GetByAccession(r.Context(), r.PathValue("accession"))
		if err != nil {
			serveError(w, err)
			return
		}
		if f == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "filing not found"})
			return
		}
		writeJSON(w, http.StatusOK, f)
	})

	mux.HandleFunc("GET /api/dlq", func(w http.ResponseWriter, r *http.Request) {
		entries, err := st.ListDLQ(r.Context(), 100)
		if err != nil {
			serveError(w, err)
			return
		}
		depth, err := st.DLQDepth(r.Context())
		if err != nil {
			serveError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"depth":   depth,
			"entries": entries,
		})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func serveError(w http.ResponseWriter, err error) {
	zap.L().Error("ops API query failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
