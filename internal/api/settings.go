package api

import (
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/conf"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/logger"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/schedule"
)

func (s *Server) initSettingsRoutes(g *echo.Group) {
	g.GET("/settings", s.getSettings)
	g.PUT("/settings", s.updateSettings)
	g.DELETE("/settings/detection", s.resetDetection)
}

// SettingsResponse shows the stored overrides and the effective values
type SettingsResponse struct {
	Overrides map[string]string `json:"overrides"`
	Detection map[string]string `json:"detection"`
	Schedule  *ScheduleView     `json:"schedule,omitempty"`
}

// ScheduleView is the resolved schedule of the current observation night
type ScheduleView struct {
	schedule.Plan
	Start string `json:"start"`
	End   string `json:"end"`
}

func (s *Server) getSettings(c echo.Context) error {
	ctx := c.Request().Context()
	overrides, err := s.store.Settings.GetAll(ctx)
	if err != nil {
		return s.HandleError(c, err, "Failed to read settings", 0)
	}

	resp := SettingsResponse{
		Overrides: overrides,
		Detection: schedule.CurrentDetection(ctx, s.store.Settings, &s.settings.Detection),
	}
	if s.resolver != nil {
		obs := schedule.ObservationDate(s.now().In(s.resolver.Location()))
		plan, err := s.resolver.Resolve(ctx, obs)
		if err != nil {
			return s.HandleError(c, err, "Failed to resolve schedule", 0)
		}
		resp.Schedule = &ScheduleView{Plan: plan, Start: plan.Window.Start.String(), End: plan.Window.End.String()}
	}
	return c.JSON(http.StatusOK, resp)
}

// updateSettings stores overrides after validating every key and value.
// An empty value removes the override.
func (s *Server) updateSettings(c echo.Context) error {
	var req map[string]string
	if err := c.Bind(&req); err != nil {
		return s.HandleError(c, err, "Invalid request body", http.StatusBadRequest)
	}
	if len(req) == 0 {
		return s.HandleError(c, nil, "No settings given", http.StatusBadRequest)
	}

	ctx := c.Request().Context()
	current, err := s.store.Settings.GetAll(ctx)
	if err != nil {
		return s.HandleError(c, err, "Failed to read settings", 0)
	}

	merged := make(map[string]string, len(current)+len(req))
	for k, v := range current {
		merged[k] = v
	}
	detectionChanged := false
	for key, value := range req {
		value = strings.TrimSpace(value)
		if err := validateSetting(key, value); err != nil {
			return s.HandleError(c, err, "Invalid setting", 0)
		}
		req[key] = value
		merged[key] = value
		if strings.HasPrefix(key, schedule.DetectionKeyPrefix) {
			detectionChanged = true
		}
	}
	if detectionChanged {
		if _, err := schedule.ApplyDetectionOverrides(merged, &s.settings.Detection); err != nil {
			return s.HandleError(c, settingError(err, "detection"), "Invalid detection settings", 0)
		}
	}

	if err := s.store.Settings.SetMany(ctx, req); err != nil {
		return s.HandleError(c, err, "Failed to save settings", 0)
	}
	s.log.Info("settings updated", logger.Int("keys", len(req)))
	return s.getSettings(c)
}

func (s *Server) resetDetection(c echo.Context) error {
	n, err := s.store.Settings.DeleteByPrefix(c.Request().Context(), schedule.DetectionKeyPrefix)
	if err != nil {
		return s.HandleError(c, err, "Failed to reset detection settings", 0)
	}
	s.log.Info("detection overrides reset", logger.Int64("removed", n))
	return s.getSettings(c)
}

func settingError(err error, key string) error {
	return errors.New(err).
		Component("api").
		Category(errors.CategoryValidation).
		Context("key", key).
		Build()
}

// validateSetting checks one override; an empty value is always accepted
func validateSetting(key, value string) error {
	if value == "" {
		if isKnownKey(key) {
			return nil
		}
		return settingError(fmt.Errorf("unknown setting %q", key), key)
	}

	var err error
	switch key {
	case schedule.KeyEnabled:
		_, err = strconv.ParseBool(value)
	case schedule.KeyIntervalMinutes:
		err = intInRange(value, 1, 24*60)
	case schedule.KeyStartMode, schedule.KeyEndMode:
		if !slices.Contains([]string{conf.ModeFixed, conf.ModeTwilight, conf.ModeTwilightOffset}, value) {
			err = fmt.Errorf("unknown mode %q", value)
		}
	case schedule.KeyStartTime, schedule.KeyEndTime:
		_, err = conf.ParseClock(value)
	case schedule.KeyStartOffsetMinutes, schedule.KeyEndOffsetMinutes:
		err = intInRange(value, -12*60, 12*60)
	case schedule.KeyLocationMode:
		if value != schedule.LocationConfig && value != schedule.LocationCustom {
			err = fmt.Errorf("unknown location mode %q", value)
		}
	case schedule.KeyLatitude:
		err = floatInRange(value, -90, 90)
	case schedule.KeyLongitude:
		err = floatInRange(value, -180, 180)
	default:
		name, ok := strings.CutPrefix(key, schedule.DetectionKeyPrefix)
		if !ok || !slices.Contains(schedule.DetectionKeys, name) {
			return settingError(fmt.Errorf("unknown setting %q", key), key)
		}
		if name == "min_line_brightness" || name == "exclude_bottom_pct" {
			_, err = strconv.ParseFloat(value, 64)
		} else {
			_, err = strconv.Atoi(value)
		}
	}
	if err != nil {
		return settingError(fmt.Errorf("%s: %w", key, err), key)
	}
	return nil
}

func isKnownKey(key string) bool {
	if name, ok := strings.CutPrefix(key, schedule.DetectionKeyPrefix); ok {
		return slices.Contains(schedule.DetectionKeys, name)
	}
	return slices.Contains(schedule.Keys, key)
}

func intInRange(value string, lo, hi int) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	if n < lo || n > hi {
		return fmt.Errorf("%d out of range [%d, %d]", n, lo, hi)
	}
	return nil
}

func floatInRange(value string, lo, hi float64) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return err
	}
	if f < lo || f > hi {
		return fmt.Errorf("%g out of range [%g, %g]", f, lo, hi)
	}
	return nil
}
