package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/datastore"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
)

func (s *Server) initClipRoutes(g *echo.Group) {
	g.GET("/clips/:id", s.getClip)
	g.PUT("/clips/:id/excluded", s.setClipExcluded)
	g.POST("/clips/:id/excluded/toggle", s.toggleClipExcluded)
	g.PUT("/clips/:id/detections/excluded", s.setClipDetectionsExcluded)

	g.GET("/detections/:id", s.getDetection)
	g.PUT("/detections/:id/excluded", s.setDetectionExcluded)
	g.POST("/detections/:id/excluded/toggle", s.toggleDetectionExcluded)
}

// ClipResponse is a clip with its line groups
type ClipResponse struct {
	datastore.Clip
	Detections []datastore.Detection `json:"detections"`
}

func idParam(c echo.Context) (uint, error) {
	raw := c.Param("id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, errors.Newf("invalid id %q", raw).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return uint(id), nil
}

func (s *Server) clipResponse(c echo.Context, clip *datastore.Clip) error {
	detections, err := s.store.Detections.ListByClip(c.Request().Context(), clip.ID)
	if err != nil {
		return s.HandleError(c, err, "Failed to list detections", 0)
	}
	if detections == nil {
		detections = []datastore.Detection{}
	}
	return c.JSON(http.StatusOK, ClipResponse{Clip: *clip, Detections: detections})
}

func (s *Server) getClip(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return s.HandleError(c, err, "Invalid clip id", 0)
	}
	clip, err := s.store.Clips.GetClipByID(c.Request().Context(), id)
	if err != nil {
		return s.HandleError(c, err, "Clip not found", 0)
	}
	return s.clipResponse(c, clip)
}

func (s *Server) setClipExcluded(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return s.HandleError(c, err, "Invalid clip id", 0)
	}
	var req ExcludedRequest
	if err := c.Bind(&req); err != nil {
		return s.HandleError(c, err, "Invalid request body", http.StatusBadRequest)
	}

	ctx := c.Request().Context()
	if err := s.store.Clips.SetClipExcluded(ctx, id, req.Excluded); err != nil {
		return s.HandleError(c, err, "Failed to update clip", 0)
	}
	clip, err := s.store.Clips.GetClipByID(ctx, id)
	if err != nil {
		return s.HandleError(c, err, "Clip not found", 0)
	}
	return s.clipResponse(c, clip)
}

func (s *Server) toggleClipExcluded(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return s.HandleError(c, err, "Invalid clip id", 0)
	}
	clip, err := s.store.Clips.ToggleClipExcluded(c.Request().Context(), id)
	if err != nil {
		return s.HandleError(c, err, "Failed to toggle clip", 0)
	}
	return s.clipResponse(c, clip)
}

// setClipDetectionsExcluded updates every line group of one clip
func (s *Server) setClipDetectionsExcluded(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return s.HandleError(c, err, "Invalid clip id", 0)
	}
	var req ExcludedRequest
	if err := c.Bind(&req); err != nil {
		return s.HandleError(c, err, "Invalid request body", http.StatusBadRequest)
	}

	ctx := c.Request().Context()
	clip, err := s.store.Clips.GetClipByID(ctx, id)
	if err != nil {
		return s.HandleError(c, err, "Clip not found", 0)
	}
	if err := s.store.Detections.SetAllExcluded(ctx, id, req.Excluded); err != nil {
		return s.HandleError(c, err, "Failed to update detections", 0)
	}
	return s.clipResponse(c, clip)
}

func (s *Server) getDetection(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return s.HandleError(c, err, "Invalid detection id", 0)
	}
	detection, err := s.store.Detections.GetDetection(c.Request().Context(), id)
	if err != nil {
		return s.HandleError(c, err, "Detection not found", 0)
	}
	return c.JSON(http.StatusOK, detection)
}

func (s *Server) setDetectionExcluded(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return s.HandleError(c, err, "Invalid detection id", 0)
	}
	var req ExcludedRequest
	if err := c.Bind(&req); err != nil {
		return s.HandleError(c, err, "Invalid request body", http.StatusBadRequest)
	}

	ctx := c.Request().Context()
	if err := s.store.Detections.SetExcluded(ctx, id, req.Excluded); err != nil {
		return s.HandleError(c, err, "Failed to update detection", 0)
	}
	detection, err := s.store.Detections.GetDetection(ctx, id)
	if err != nil {
		return s.HandleError(c, err, "Detection not found", 0)
	}
	return c.JSON(http.StatusOK, detection)
}

func (s *Server) toggleDetectionExcluded(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return s.HandleError(c, err, "Invalid detection id", 0)
	}
	detection, err := s.store.Detections.ToggleExcluded(c.Request().Context(), id)
	if err != nil {
		return s.HandleError(c, err, "Failed to toggle detection", 0)
	}
	return c.JSON(http.StatusOK, detection)
}
