package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/allbin/busscan"
)

// deviceRequest addresses one device. Port defaults to 9600 8N2.
type deviceRequest struct {
	Port       *busscan.PortConfig `json:"port"`
	DeviceType string              `json:"device_type"`
	SlaveID    int                 `json:"slave_id" binding:"required,min=1,max=247"`
}

func (r deviceRequest) line() busscan.PortConfig {
	if r.Port == nil {
		return busscan.DefaultPortConfig()
	}
	return *r.Port
}

type setConfigRequest struct {
	deviceRequest
	Parameters map[string]int `json:"parameters"`
	Channels   map[string]int `json:"channels"`
}

type setBaudRateRequest struct {
	Device   busscan.Device `json:"device"`
	BaudRate int            `json:"baud_rate" binding:"required"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now()})
}

func (s *Server) ports(c *gin.Context) {
	infos, err := s.listPorts()
	if err != nil {
		s.logger.Error("Failed to list ports", zap.Error(err))
		errorResponse(c, http.StatusInternalServerError, "Failed to list ports", err)
		return
	}
	successResponse(c, http.StatusOK, "Ports listed", gin.H{
		"count": len(infos),
		"ports": infos,
	})
}

func (s *Server) scan(c *gin.Context) {
	devices, err := s.svc.Scan(c.Request.Context(), nil)
	if err != nil {
		s.logger.Error("Failed to scan bus", zap.Error(err), zap.Int("found", len(devices)))
		errorResponse(c, statusFor(err), "Failed to scan bus", err)
		return
	}
	successResponse(c, http.StatusOK, "Scan completed", gin.H{
		"devices_found": len(devices),
		"devices":       devices,
	})
}

func (s *Server) loadConfig(c *gin.Context) {
	var req deviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	values, err := s.svc.LoadConfig(c.Request.Context(), busscan.LoadConfigCommand{
		Port:       req.line(),
		DeviceType: req.DeviceType,
		SlaveID:    req.SlaveID,
	})
	if err != nil {
		s.logger.Error("Failed to load device config",
			zap.Int("slave_id", req.SlaveID),
			zap.Error(err),
		)
		errorResponse(c, statusFor(err), "Failed to load device config", err)
		return
	}
	successResponse(c, http.StatusOK, "Device config loaded", values)
}

func (s *Server) setConfig(c *gin.Context) {
	var req setConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Parameters) == 0 && len(req.Channels) == 0 {
		errorResponse(c, http.StatusBadRequest, "Nothing to write", nil)
		return
	}

	values, err := s.svc.SetConfig(c.Request.Context(), busscan.SetConfigCommand{
		Port:       req.line(),
		DeviceType: req.DeviceType,
		SlaveID:    req.SlaveID,
		Parameters: req.Parameters,
		Channels:   req.Channels,
	})
	if err != nil {
		s.logger.Error("Failed to set device config",
			zap.Int("slave_id", req.SlaveID),
			zap.Error(err),
		)
		errorResponse(c, statusFor(err), "Failed to set device config", err)
		return
	}
	successResponse(c, http.StatusOK, "Device config written", values)
}

func (s *Server) setBaudRate(c *gin.Context) {
	var req setBaudRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	dev := req.Device
	if err := s.svc.SetBaudRate(c.Request.Context(), &dev, req.BaudRate); err != nil {
		s.logger.Error("Failed to set baud rate",
			zap.Int("slave_id", dev.Config.SlaveID),
			zap.Int("baud_rate", req.BaudRate),
			zap.Error(err),
		)
		errorResponse(c, statusFor(err), "Failed to set baud rate", err)
		return
	}
	successResponse(c, http.StatusOK, "Baud rate changed", dev)
}
