package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clearstage/enhance/internal/model"
	"github.com/clearstage/enhance/internal/staging"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP facade for batch submission and resolution",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		mux := http.NewServeMux()

		mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		mux.HandleFunc("POST /batches", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				TenantID string               `json:"tenant_id"`
				Records  []model.ImportRecord `json:"records"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if len(req.Records) == 0 {
				writeError(w, http.StatusBadRequest, "records are required")
				return
			}
			if req.TenantID == "" {
				req.TenantID = "default"
			}

			batchID, err := e.manager.SubmitBatch(r.Context(), req.TenantID, req.Records)
			if err != nil {
				zap.L().Error("submit failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "submit failed")
				return
			}

			// Processing runs against the server's lifetime, not the
			// request's.
			go func() {
				if err := e.manager.Process(ctx, batchID); err != nil {
					zap.L().Error("batch processing failed",
						zap.String("batch", batchID),
						zap.Error(err),
					)
				}
			}()

			writeJSON(w, http.StatusAccepted, map[string]string{"batch_id": batchID})
		})

		mux.HandleFunc("GET /batches/{id}", func(w http.ResponseWriter, r *http.Request) {
			batch, err := e.manager.GetBatchStatus(r.Context(), r.PathValue("id"))
			if err != nil {
				if eris.Is(err, model.ErrBatchNotFound) {
					writeError(w, http.StatusNotFound, "batch not found")
					return
				}
				zap.L().Error("status failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "status failed")
				return
			}
			writeJSON(w, http.StatusOK, batch)
		})

		mux.HandleFunc("POST /batches/{id}/resolve", func(w http.ResponseWriter, r *http.Request) {
			var decisions staging.Decisions
			if err := json.NewDecoder(r.Body).Decode(&decisions); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			batchID := r.PathValue("id")
			if err := e.manager.ResolvePending(r.Context(), batchID, decisions); err != nil {
				switch {
				case eris.Is(err, model.ErrBatchNotFound):
					writeError(w, http.StatusNotFound, "batch not found")
				case eris.Is(err, model.ErrInvalidTransition):
					writeError(w, http.StatusConflict, "batch is not held for approval")
				default:
					zap.L().Error("resolve failed", zap.String("batch", batchID), zap.Error(err))
					writeError(w, http.StatusInternalServerError, "resolve failed")
				}
				return
			}
			batch, err := e.manager.GetBatchStatus(r.Context(), batchID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "status failed")
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"state": string(batch.State)})
		})

		mux.HandleFunc("POST /batches/{id}/revert", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				RowIndex int    `json:"row_index"`
				Field    string `json:"field"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Field == "" {
				writeError(w, http.StatusBadRequest, "row_index and field are required")
				return
			}
			batchID := r.PathValue("id")
			if err := e.manager.RevertImputation(r.Context(), batchID, req.RowIndex, req.Field); err != nil {
				switch {
				case eris.Is(err, model.ErrBatchNotFound):
					writeError(w, http.StatusNotFound, "batch not found")
				case eris.Is(err, model.ErrInvalidTransition):
					writeError(w, http.StatusConflict, "batch is terminal")
				default:
					writeError(w, http.StatusUnprocessableEntity, err.Error())
				}
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "reverted"})
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
