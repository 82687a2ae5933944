// Package pump implements the actuator contracts the dosing engine
// drives: a live HTTP actuator backed by the pump service and a dry-run
// actuator for rigs without hardware.
package pump

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/simcoreservers/nutetra/pkg/logx"
)

// HTTPConfig points the live actuator at the pump service.
type HTTPConfig struct {
	BaseURL string        `json:"base_url"`
	Timeout time.Duration `json:"timeout"`
}

// HTTPActuator dispenses through the pump service's REST endpoint.
type HTTPActuator struct {
	client *resty.Client
}

// NewHTTPActuator builds an actuator against cfg.BaseURL.
//
// The request timeout is a transport-level guard only; the engine's
// watchdog is what bounds a dosing cycle end to end.
func NewHTTPActuator(cfg HTTPConfig) *HTTPActuator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout)
	return &HTTPActuator{client: client}
}

type dispenseRequest struct {
	Pump     string  `json:"pump"`
	Amount   float64 `json:"amount"`
	FlowRate float64 `json:"flowRate"`
}

type dispenseResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// Dispense runs one fixed-volume actuation. Any transport failure,
// non-2xx answer or non-success body counts as an actuator fault.
func (a *HTTPActuator) Dispense(ctx context.Context, pumpID string, amountMl, flowRateMlPerSec float64) error {
	var out dispenseResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(dispenseRequest{Pump: pumpID, Amount: amountMl, FlowRate: flowRateMlPerSec}).
		SetResult(&out).
		SetError(&out).
		Post("/api/pumps/dispense")
	if err != nil {
		return fmt.Errorf("pump endpoint: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("pump endpoint: status %s", resp.Status())
	}
	if out.Status != "" && out.Status != "success" {
		if out.Error != "" {
			return fmt.Errorf("pump service: %s", out.Error)
		}
		return fmt.Errorf("pump service: status %q", out.Status)
	}
	return nil
}

// DryRun logs dispenses instead of performing them. Used with the
// sensor simulator on development rigs.
type DryRun struct {
	Log logx.Logger
}

func (d DryRun) Dispense(ctx context.Context, pumpID string, amountMl, flowRateMlPerSec float64) error {
	_ = ctx
	d.Log.Info("dry-run dispense",
		logx.String("pump", pumpID),
		logx.Float64("amount_ml", amountMl),
		logx.Float64("flow_rate", flowRateMlPerSec))
	return nil
}
