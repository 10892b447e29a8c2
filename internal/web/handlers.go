package web

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/FortunoMaxime/tri-dechet-yolo/internal/ai"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/camera"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/detection"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/pipeline"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/video"
)

// statusFor maps a domain error to its HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, ai.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, detection.ErrInvalidInput),
		errors.Is(err, ai.ErrInvalidConfidence),
		errors.Is(err, pipeline.ErrNotActive):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrNoFrameYet),
		errors.Is(err, detection.ErrVideoNotFound):
		return http.StatusNotFound
	case errors.Is(err, video.ErrFFmpegNotFound):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the structured failure body
func (s *Server) respondError(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.LogError("Request failed", err, "path", c.Request.URL.Path)
	}
	c.JSON(code, gin.H{
		"success": false,
		"error":   err.Error(),
	})
}

// confidence reads the "confidence" query or form value
func (s *Server) confidence(c *gin.Context) (float64, error) {
	raw := c.Query("confidence")
	if raw == "" {
		raw = c.PostForm("confidence")
	}
	if raw == "" {
		return s.cfg.DefaultConfidence, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: confidence %q is not a number", detection.ErrInvalidInput, raw)
	}
	if v < 0 || v > 1 {
		return 0, fmt.Errorf("%w: %v", ai.ErrInvalidConfidence, v)
	}
	return v, nil
}

// handleIndex lists the API endpoints
func (s *Server) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Waste Classification Mobile API",
		"endpoints": gin.H{
			"health":        "/api/health",
			"model_info":    "/api/model/info",
			"detect_image":  "/api/detect/image",
			"detect_upload": "/api/detect/upload",
			"webcam_start":  "/api/webcam/start",
			"webcam_stop":   "/api/webcam/stop",
			"webcam_status": "/api/webcam/status",
			"webcam_stream": "/api/webcam/stream",
			"webcam_ws":     "/api/webcam/ws",
			"webcam_frame":  "/api/webcam/frame",
			"devices":       "/api/webcam/devices",
			"videos":        "/api/videos/list",
			"detect_video":  "/api/videos/detect/{name}",
		},
	})
}

// handleHealth reports model and capture state
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"model_loaded":  s.deps.Detector.Ready(),
		"camera_active": s.deps.Pipeline.Active(),
		"uptime":        time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleModelInfo describes the loaded model
func (s *Server) handleModelInfo(c *gin.Context) {
	info, err := s.deps.Detector.Info()
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

type detectImageRequest struct {
	Confidence *float64 `json:"confidence" binding:"omitempty,gte=0,lte=1"`
	Image      string   `json:"image"`
}

// handleDetectImage runs detection on an inline base64 image
func (s *Server) handleDetectImage(c *gin.Context) {
	var req detectImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, fmt.Errorf("%w: %v", detection.ErrInvalidInput, err))
		return
	}

	confidence := s.cfg.DefaultConfidence
	if req.Confidence != nil {
		confidence = *req.Confidence
	}

	result, err := s.deps.Detection.DetectBase64(c.Request.Context(), req.Image, confidence)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleDetectUpload runs detection on a multipart "file" upload
func (s *Server) handleDetectUpload(c *gin.Context) {
	if c.Request.ContentLength > s.cfg.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "error": "file too large"})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)

	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "error": "file too large"})
			return
		}
		s.respondError(c, fmt.Errorf("%w: missing file: %v", detection.ErrInvalidInput, err))
		return
	}
	if err := detection.CheckContentType(file.Header.Get("Content-Type")); err != nil {
		s.respondError(c, err)
		return
	}

	confidence, err := s.confidence(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	f, err := file.Open()
	if err != nil {
		s.respondError(c, fmt.Errorf("%w: %v", detection.ErrInvalidInput, err))
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		s.respondError(c, fmt.Errorf("%w: %v", detection.ErrInvalidInput, err))
		return
	}

	result, err := s.deps.Detection.DetectBytes(c.Request.Context(), data, confidence)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleWebcamStart starts the capture loop
func (s *Server) handleWebcamStart(c *gin.Context) {
	confidence, err := s.confidence(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	err = s.deps.Pipeline.StartCapture(confidence)
	if errors.Is(err, pipeline.ErrAlreadyRunning) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "already_active",
			"message": "Webcam déjà active",
		})
		return
	}
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "started",
		"message":    "Webcam démarrée",
		"confidence": confidence,
	})
}

// handleWebcamStop requests the capture loop to stop
func (s *Server) handleWebcamStop(c *gin.Context) {
	s.deps.Pipeline.StopCapture()
	c.JSON(http.StatusOK, gin.H{
		"status":  "stopped",
		"message": "Webcam arrêtée",
	})
}

// handleWebcamStatus reports the pipeline state
func (s *Server) handleWebcamStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Pipeline.Status())
}

// handleWebcamFrame returns the latest annotated frame
func (s *Server) handleWebcamFrame(c *gin.Context) {
	frame, err := s.deps.Pipeline.Frame()
	if err != nil {
		s.respondError(c, err)
		return
	}
	data, err := frame.JPEG()
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"image":      base64.StdEncoding.EncodeToString(data),
		"timestamp":  frame.CapturedAt.Format(time.RFC3339Nano),
		"generation": frame.Generation,
		"count":      frame.Detections,
	})
}

// handleListDevices lists capture devices; ?refresh=true rescans
func (s *Server) handleListDevices(c *gin.Context) {
	devices := []camera.Device{}
	if s.deps.Devices != nil {
		if c.Query("refresh") == "true" {
			scanned, err := s.deps.Devices.Scan(c.Request.Context())
			if err != nil {
				s.respondError(c, err)
				return
			}
			devices = scanned
		} else {
			devices = s.deps.Devices.Devices()
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleListVideos lists the stored videos that exist on disk
func (s *Server) handleListVideos(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"videos": s.deps.Detection.ListVideos(),
	})
}

// handleDetectVideo runs detection on the first frame of a stored video
func (s *Server) handleDetectVideo(c *gin.Context) {
	confidence, err := s.confidence(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	result, err := s.deps.Detection.DetectVideo(c.Request.Context(), c.Param("name"), confidence)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
