package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"dyson2mqtt/internal/core/domain"
	"dyson2mqtt/pkg/dyson"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/devices", s.ListDevicesHandler)
	e.GET("/devices/:serial/state", s.DeviceStateHandler)
	e.POST("/devices/:serial/command", s.DeviceCommandHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

type deviceJSON struct {
	Serial string `json:"serial"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

func (s *Server) ListDevicesHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ListDevicesRequest{}, 5*time.Second).Result()
	if err != nil {
		return c.JSON(http.StatusGatewayTimeout, errorJSON(err))
	}
	response, ok := res.(domain.ListDevicesResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorJSON(errors.New("unexpected response")))
	}
	devices := make([]deviceJSON, 0, len(response.Devices))
	for _, d := range response.Devices {
		devices = append(devices, deviceJSON{
			Serial: d.Serial,
			Type:   string(d.Type),
			Status: d.Status.String(),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"devices": devices})
}

type deviceStateJSON struct {
	Serial      string                 `json:"serial"`
	Type        string                 `json:"type"`
	Status      string                 `json:"status"`
	LastUpdated *time.Time             `json:"last_updated,omitempty"`
	State       map[string]dyson.Value `json:"state"`
}

func (s *Server) DeviceStateHandler(c echo.Context) error {
	serial := strings.ToUpper(c.Param("serial"))
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetDeviceStateRequest{Serial: serial}, 5*time.Second).Result()
	if err != nil {
		return c.JSON(http.StatusGatewayTimeout, errorJSON(err))
	}
	response, ok := res.(domain.GetDeviceStateResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorJSON(errors.New("unexpected response")))
	}
	if response.HasResponseError() {
		return c.JSON(errorStatus(response.GetResponseError()), errorJSON(response.GetResponseError()))
	}
	state := make(map[string]dyson.Value, response.Snapshot.Len())
	for flag, value := range response.Snapshot.Fields() {
		state[string(flag)] = value
	}
	body := deviceStateJSON{
		Serial: response.Serial,
		Type:   string(response.Type),
		Status: response.Status.String(),
		State:  state,
	}
	if !response.Snapshot.LastUpdated().IsZero() {
		updated := response.Snapshot.LastUpdated()
		body.LastUpdated = &updated
	}
	return c.JSON(http.StatusOK, body)
}

type commandJSON struct {
	Feature string `json:"feature"`
	Value   string `json:"value"`
}

func (s *Server) DeviceCommandHandler(c echo.Context) error {
	serial := strings.ToUpper(c.Param("serial"))
	var cmd commandJSON
	if err := c.Bind(&cmd); err != nil {
		return c.JSON(http.StatusBadRequest, errorJSON(err))
	}
	profile, ok := s.profileFor(serial)
	if !ok {
		return c.JSON(http.StatusNotFound, errorJSON(dyson.ErrUnknownDeviceType))
	}
	flag := dyson.FeatureFlag(cmd.Feature)
	spec, ok := profile.Features[flag]
	if !ok {
		return c.JSON(http.StatusBadRequest, errorJSON(dyson.ErrUnsupportedFeature))
	}
	value, err := dyson.ParseValue(spec, cmd.Value)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorJSON(err))
	}

	res, err := s.rootContext.RequestFuture(s.masterActor, domain.DeviceCommandRequest{
		Serial:  serial,
		Feature: flag,
		Value:   value,
	}, 10*time.Second).Result()
	if err != nil {
		return c.JSON(http.StatusGatewayTimeout, errorJSON(err))
	}
	response, ok := res.(domain.DeviceCommandResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorJSON(errors.New("unexpected response")))
	}
	if response.HasResponseError() {
		return c.JSON(errorStatus(response.GetResponseError()), errorJSON(response.GetResponseError()))
	}
	return c.JSON(http.StatusOK, map[string]string{
		"serial":  response.Serial,
		"feature": string(response.Feature),
		"result":  "accepted",
	})
}

func errorJSON(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, dyson.ErrUnknownDeviceType), errors.Is(err, dyson.ErrUnsupportedDeviceType):
		return http.StatusNotFound
	case errors.Is(err, dyson.ErrUnsupportedFeature), errors.Is(err, dyson.ErrValueOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, dyson.ErrNotConnected), errors.Is(err, dyson.ErrAuthRejected):
		return http.StatusConflict
	case errors.Is(err, dyson.ErrTimeout), errors.Is(err, dyson.ErrUnreachable):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
