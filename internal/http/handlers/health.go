// Package handlers provides HTTP API handlers for vodarr.
package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"gorm.io/gorm"

	"github.com/jmylchreest/vodarr/internal/streaming"
)

const bytesPerMB = 1024 * 1024

// slowPingThreshold marks database response times as slow.
const slowPingThreshold = 100 * time.Millisecond

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        *gorm.DB
	svc       StreamingService
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB sets the database connection for health checks.
func (h *HealthHandler) WithDB(db *gorm.DB) *HealthHandler {
	h.db = db
	return h
}

// WithStreaming sets the streaming service whose gauges are reported.
func (h *HealthHandler) WithStreaming(svc StreamingService) *HealthHandler {
	h.svc = svc
	return h
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns service health with host load, encoder process memory, database and streaming gauges",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "getLivez",
		Method:      "GET",
		Path:        "/livez",
		Summary:     "Liveness probe",
		Tags:        []string{"System"},
	}, h.GetLivez)

	huma.Register(api, huma.Operation{
		OperationID: "getReadyz",
		Method:      "GET",
		Path:        "/readyz",
		Summary:     "Readiness probe",
		Description: "Fails with 503 while the database is unreachable",
		Tags:        []string{"System"},
	}, h.GetReadyz)
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string          `json:"status"`
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	Uptime        string          `json:"uptime"`
	UptimeSeconds float64         `json:"uptime_seconds"`
	CPUInfo       CPUInfo         `json:"cpu_info"`
	Memory        MemoryInfo      `json:"memory"`
	Database      DatabaseHealth  `json:"database"`
	Streaming     StreamingHealth `json:"streaming"`
}

// CPUInfo contains host load averages.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo contains host and process tree memory usage. Encode processes
// are children of the server, so the child figures are the encoders.
type MemoryInfo struct {
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	UsedMemoryMB      float64 `json:"used_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	MainProcessMB     float64 `json:"main_process_mb"`
	ChildProcessCount int     `json:"child_process_count"`
	ChildProcessesMB  float64 `json:"child_processes_mb"`
}

// DatabaseHealth contains database connectivity information.
type DatabaseHealth struct {
	Status             string  `json:"status"`
	ResponseTimeMS     float64 `json:"response_time_ms"`
	ResponseTimeStatus string  `json:"response_time_status"`
	OpenConnections    int     `json:"open_connections"`
	InUse              int     `json:"in_use"`
}

// StreamingHealth contains session and admission gauges.
type StreamingHealth struct {
	Status    string                    `json:"status"`
	Sessions  int                       `json:"sessions"`
	Admission streaming.AdmissionStats  `json:"admission"`
	Encoder   *streaming.EncoderProfile `json:"encoder,omitempty"`
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	db := h.getDatabaseHealth(ctx)
	status := "healthy"
	if db.Status == "error" {
		status = "degraded"
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:        status,
			Timestamp:     now.UTC().Format(time.RFC3339),
			Version:       h.version,
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			CPUInfo:       h.getCPUInfo(ctx),
			Memory:        h.getMemoryInfo(ctx),
			Database:      db,
			Streaming:     h.getStreamingHealth(),
		},
	}, nil
}

// LivezInput is the input for the liveness probe.
type LivezInput struct{}

// ProbeOutput is the output of the liveness and readiness probes.
type ProbeOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// GetLivez reports that the process is serving requests.
func (h *HealthHandler) GetLivez(_ context.Context, _ *LivezInput) (*ProbeOutput, error) {
	out := &ProbeOutput{}
	out.Body.Status = "ok"
	return out, nil
}

// ReadyzInput is the input for the readiness probe.
type ReadyzInput struct{}

// GetReadyz reports whether the service can accept sessions.
func (h *HealthHandler) GetReadyz(ctx context.Context, _ *ReadyzInput) (*ProbeOutput, error) {
	if db := h.getDatabaseHealth(ctx); db.Status == "error" {
		return nil, huma.Error503ServiceUnavailable("database unreachable")
	}
	out := &ProbeOutput{}
	out.Body.Status = "ready"
	return out, nil
}

func (h *HealthHandler) getCPUInfo(ctx context.Context) CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}

	avg, err := load.AvgWithContext(ctx)
	if err != nil || avg == nil {
		return info
	}
	info.Load1Min = avg.Load1
	info.Load5Min = avg.Load5
	info.Load15Min = avg.Load15
	if info.Cores > 0 {
		info.LoadPercentage1Min = avg.Load1 / float64(info.Cores) * 100
	}
	return info
}

func (h *HealthHandler) getMemoryInfo(ctx context.Context) MemoryInfo {
	info := MemoryInfo{}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm != nil {
		info.TotalMemoryMB = float64(vm.Total) / bytesPerMB
		info.UsedMemoryMB = float64(vm.Used) / bytesPerMB
		info.AvailableMemoryMB = float64(vm.Available) / bytesPerMB
	}

	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())) //nolint:gosec // pids fit in int32
	if err != nil {
		return info
	}
	if rss, err := proc.MemoryInfoWithContext(ctx); err == nil && rss != nil {
		info.MainProcessMB = float64(rss.RSS) / bytesPerMB
	}
	children, err := proc.ChildrenWithContext(ctx)
	if err != nil {
		return info
	}
	info.ChildProcessCount = len(children)
	for _, child := range children {
		if rss, err := child.MemoryInfoWithContext(ctx); err == nil && rss != nil {
			info.ChildProcessesMB += float64(rss.RSS) / bytesPerMB
		}
	}
	return info
}

func (h *HealthHandler) getDatabaseHealth(ctx context.Context) DatabaseHealth {
	health := DatabaseHealth{Status: "ok", ResponseTimeStatus: "healthy"}
	if h.db == nil {
		health.Status = "unknown"
		return health
	}

	sqlDB, err := h.db.DB()
	if err != nil {
		health.Status = "error"
		return health
	}
	stats := sqlDB.Stats()
	health.OpenConnections = stats.OpenConnections
	health.InUse = stats.InUse

	start := time.Now()
	err = sqlDB.PingContext(ctx)
	elapsed := time.Since(start)
	health.ResponseTimeMS = float64(elapsed.Microseconds()) / 1000

	switch {
	case err != nil:
		health.Status = "error"
		health.ResponseTimeStatus = "error"
	case elapsed > slowPingThreshold:
		health.ResponseTimeStatus = "slow"
	}
	return health
}

func (h *HealthHandler) getStreamingHealth() StreamingHealth {
	if h.svc == nil {
		return StreamingHealth{Status: "unknown"}
	}
	profile := h.svc.Profile()
	return StreamingHealth{
		Status:    "ok",
		Sessions:  h.svc.SessionCount(),
		Admission: h.svc.AdmissionStats(),
		Encoder:   &profile,
	}
}
