package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/stratafs/strata/internal/store"
)

// HealthChecker provides health check endpoints
type HealthChecker struct {
	recordStore store.RecordStore
	journalDir  string
	logger      *zap.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp int64             `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(recordStore store.RecordStore, journalDir string, logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		recordStore: recordStore,
		journalDir:  journalDir,
		logger:      logger,
	}
}

// LivenessHandler handles liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    "alive",
		Timestamp: time.Now().Unix(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(status)
}

// ReadinessHandler handles readiness probe requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if err := h.checkRecordStore(ctx); err != nil {
		h.logger.Error("Record store health check failed", zap.Error(err))
		checks["record_store"] = "unhealthy: " + err.Error()
		allHealthy = false
	} else {
		checks["record_store"] = "healthy"
	}

	if err := h.checkJournal(); err != nil {
		h.logger.Error("Journal health check failed", zap.Error(err))
		checks["journal"] = "unhealthy: " + err.Error()
		allHealthy = false
	} else {
		checks["journal"] = "healthy"
	}

	status := HealthStatus{
		Timestamp: time.Now().Unix(),
		Checks:    checks,
	}

	w.Header().Set("Content-Type", "application/json")

	if allHealthy {
		status.Status = "ready"
		w.WriteHeader(http.StatusOK)
	} else {
		status.Status = "not_ready"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(status)
}

// checkRecordStore checks if the record store is healthy
func (h *HealthChecker) checkRecordStore(ctx context.Context) error {
	if h.recordStore == nil {
		return nil // Skip if not initialized
	}
	return h.recordStore.Ping(ctx)
}

// checkJournal verifies the journal directory is writable, since an
// unwritable journal fails every append
func (h *HealthChecker) checkJournal() error {
	if h.journalDir == "" {
		return nil // Skip if not initialized
	}

	probe := filepath.Join(h.journalDir, ".health-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return fmt.Errorf("journal directory not writable: %w", err)
	}
	return os.Remove(probe)
}

// StartHealthServer starts the health check HTTP server
func StartHealthServer(hc *HealthChecker, port int, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", hc.LivenessHandler)
	mux.HandleFunc("/health/ready", hc.ReadinessHandler)

	addr := fmt.Sprintf(":%d", port)
	logger.Info("Starting health check server", zap.String("address", addr))

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
