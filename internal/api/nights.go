package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/datastore"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/schedule"
)

func (s *Server) initNightRoutes(g *echo.Group) {
	g.GET("/nights", s.listNights)
	g.GET("/nights/:date", s.getNight)
	g.GET("/nights/:date/clips", s.listNightClips)
	g.PUT("/nights/:date/hidden", s.setNightHidden)
	g.POST("/nights/:date/hidden/toggle", s.toggleNightHidden)
	g.PUT("/nights/:date/detections/excluded", s.setNightDetectionsExcluded)
}

// NightsResponse lists nights together with the number of hidden ones
type NightsResponse struct {
	Nights      []datastore.NightOutput `json:"nights"`
	HiddenCount int                     `json:"hidden_count"`
}

// NightResponse is one night with its clips
type NightResponse struct {
	Date         string                       `json:"date"`
	Output       *datastore.NightOutput       `json:"output,omitempty"`
	Clips        []datastore.Clip             `json:"clips"`
	StatusCounts map[datastore.ClipStatus]int `json:"status_counts"`
}

// ExcludedRequest is the body of exclusion updates
type ExcludedRequest struct {
	Excluded bool `json:"excluded"`
}

// HiddenRequest is the body of night visibility updates
type HiddenRequest struct {
	Hidden bool `json:"hidden"`
}

// dateParam validates the :date path parameter
func dateParam(c echo.Context) (string, error) {
	date := c.Param("date")
	if _, err := schedule.ParseDate(date, time.UTC); err != nil {
		return "", errors.Newf("invalid date %q, expected YYYYMMDD", date).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return date, nil
}

// listNights returns visible nights, or all of them with ?all=true
func (s *Server) listNights(c echo.Context) error {
	ctx := c.Request().Context()
	all, _ := strconv.ParseBool(c.QueryParam("all"))

	var (
		nights []datastore.NightOutput
		err    error
	)
	if all {
		nights, err = s.store.Nights.ListNights(ctx)
	} else {
		nights, err = s.store.Nights.ListVisibleNights(ctx)
	}
	if err != nil {
		return s.HandleError(c, err, "Failed to list nights", 0)
	}

	hidden, err := s.store.Nights.CountHidden(ctx)
	if err != nil {
		return s.HandleError(c, err, "Failed to count hidden nights", 0)
	}
	if nights == nil {
		nights = []datastore.NightOutput{}
	}
	return c.JSON(http.StatusOK, NightsResponse{Nights: nights, HiddenCount: hidden})
}

func (s *Server) getNight(c echo.Context) error {
	date, err := dateParam(c)
	if err != nil {
		return s.HandleError(c, err, "Invalid date", 0)
	}
	ctx := c.Request().Context()

	resp := NightResponse{Date: date}
	output, err := s.store.Nights.GetOutput(ctx, date)
	switch {
	case err == nil:
		resp.Output = output
	case !errors.Is(err, datastore.ErrNightNotFound):
		return s.HandleError(c, err, "Failed to load night", 0)
	}

	clips, err := s.store.Clips.ListClipsByDate(ctx, date)
	if err != nil {
		return s.HandleError(c, err, "Failed to list clips", 0)
	}
	if resp.Output == nil && len(clips) == 0 {
		return s.HandleError(c, datastore.ErrNightNotFound, "Night not found", http.StatusNotFound)
	}
	resp.Clips = clips

	counts, err := s.store.Clips.CountByStatus(ctx, date)
	if err != nil {
		return s.HandleError(c, err, "Failed to count clips", 0)
	}
	resp.StatusCounts = counts

	return c.JSON(http.StatusOK, resp)
}

// listNightClips returns the night's clips; ?status=detected filters by status
func (s *Server) listNightClips(c echo.Context) error {
	date, err := dateParam(c)
	if err != nil {
		return s.HandleError(c, err, "Invalid date", 0)
	}
	clips, err := s.store.Clips.ListClipsByDate(c.Request().Context(), date)
	if err != nil {
		return s.HandleError(c, err, "Failed to list clips", 0)
	}

	if status := c.QueryParam("status"); status != "" {
		filtered := clips[:0]
		for i := range clips {
			if string(clips[i].Status) == status {
				filtered = append(filtered, clips[i])
			}
		}
		clips = filtered
	}
	if clips == nil {
		clips = []datastore.Clip{}
	}
	return c.JSON(http.StatusOK, clips)
}

func (s *Server) setNightHidden(c echo.Context) error {
	date, err := dateParam(c)
	if err != nil {
		return s.HandleError(c, err, "Invalid date", 0)
	}
	var req HiddenRequest
	if err := c.Bind(&req); err != nil {
		return s.HandleError(c, err, "Invalid request body", http.StatusBadRequest)
	}

	ctx := c.Request().Context()
	if err := s.store.Nights.SetHidden(ctx, date, req.Hidden); err != nil {
		return s.HandleError(c, err, "Failed to update night", 0)
	}
	output, err := s.store.Nights.GetOutput(ctx, date)
	if err != nil {
		return s.HandleError(c, err, "Failed to load night", 0)
	}
	return c.JSON(http.StatusOK, output)
}

func (s *Server) toggleNightHidden(c echo.Context) error {
	date, err := dateParam(c)
	if err != nil {
		return s.HandleError(c, err, "Invalid date", 0)
	}
	output, err := s.store.Nights.ToggleHidden(c.Request().Context(), date)
	if err != nil {
		return s.HandleError(c, err, "Failed to toggle night visibility", 0)
	}
	return c.JSON(http.StatusOK, output)
}

// setNightDetectionsExcluded updates every detection of the night at once
func (s *Server) setNightDetectionsExcluded(c echo.Context) error {
	date, err := dateParam(c)
	if err != nil {
		return s.HandleError(c, err, "Invalid date", 0)
	}
	var req ExcludedRequest
	if err := c.Bind(&req); err != nil {
		return s.HandleError(c, err, "Invalid request body", http.StatusBadRequest)
	}
	if err := s.store.Detections.SetAllExcludedByDate(c.Request().Context(), date, req.Excluded); err != nil {
		return s.HandleError(c, err, "Failed to update detections", 0)
	}
	return c.JSON(http.StatusOK, map[string]any{"date": date, "excluded": req.Excluded})
}
