package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fxnlabs/gpurt/internal/kernels"
	"github.com/fxnlabs/gpurt/internal/runtime"
)

type errorResponse struct {
	Error string `json:"error"`
}

type deviceResponse struct {
	ID              string                   `json:"id"`
	Info            runtime.DeviceInfo       `json:"info"`
	AllocationTypes []runtime.AllocationType `json:"allocationTypes"`
}

type engineResponse struct {
	ID                string                 `json:"id"`
	Backend           string                 `json:"backend"`
	Runtime           runtime.RuntimeType    `json:"runtime"`
	Device            runtime.DeviceInfo     `json:"device"`
	QueueType         string                 `json:"queueType"`
	SyncMethod        string                 `json:"syncMethod"`
	Profiling         bool                   `json:"profiling"`
	UnifiedShared     bool                   `json:"useUnifiedSharedMemory"`
	DefaultAllocation runtime.AllocationType `json:"defaultAllocation"`
	Pool              runtime.PoolStats      `json:"pool"`
}

func (s *Server) handleBackends(c *gin.Context) {
	types := runtime.CompiledBackends()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	c.JSON(http.StatusOK, gin.H{"backends": names})
}

func (s *Server) handleDevices(c *gin.Context) {
	q, err := runtime.NewDeviceQuery(s.engine.Type(), s.engine.RuntimeType(), s.opts, s.log)
	if err != nil {
		s.log.Warn("device query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	devices := q.AvailableDevices()
	resp := make([]deviceResponse, 0, len(devices))
	for _, id := range q.Keys() {
		dev := devices[id]
		resp = append(resp, deviceResponse{
			ID:              id,
			Info:            dev.Info(),
			AllocationTypes: dev.MemoryCapabilities().Types(),
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleEngine(c *gin.Context) {
	cfg := s.engine.Configuration()
	c.JSON(http.StatusOK, engineResponse{
		ID:                s.engine.ID(),
		Backend:           s.engine.Type().String(),
		Runtime:           s.engine.RuntimeType(),
		Device:            s.engine.DeviceInfo(),
		QueueType:         cfg.QueueType.String(),
		SyncMethod:        s.engine.ProgramStream().SyncMethod().String(),
		Profiling:         cfg.EnableProfiling,
		UnifiedShared:     s.engine.UseUnifiedSharedMemory(),
		DefaultAllocation: s.engine.DefaultAllocationType(),
		Pool:              s.engine.MemoryPool().Stats(),
	})
}

func (s *Server) handleSelfTest(c *gin.Context) {
	report, err := kernels.SelfTest(s.engine, s.log)
	if err != nil {
		s.log.Error("self-test failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	status := http.StatusOK
	if !report.Passed() {
		status = http.StatusInternalServerError
	}
	c.JSON(status, report)
}
