package sensor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jonboulle/clockwork"

	"github.com/simcoreservers/nutetra/internal/dosing"
)

// HTTPConfig points the live source at the sensor service.
type HTTPConfig struct {
	BaseURL string        `json:"base_url"`
	Timeout time.Duration `json:"timeout"`
}

// HTTPSource reads telemetry from the sensor service's REST endpoint.
// The service answers either a plain reading or the enveloped form
// {"status":"success","data":{...}}; both are accepted.
type HTTPSource struct {
	client *resty.Client
	clock  clockwork.Clock
}

// NewHTTPSource builds a source against cfg.BaseURL.
func NewHTTPSource(cfg HTTPConfig, clock clockwork.Clock) *HTTPSource {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout)
	return &HTTPSource{client: client, clock: clock}
}

type sensorEnvelope struct {
	Status string          `json:"status"`
	Error  string          `json:"error"`
	Data   json.RawMessage `json:"data"`

	// Direct-form fields.
	PH        *float64 `json:"ph"`
	EC        *float64 `json:"ec"`
	WaterTemp *float64 `json:"waterTemp"`
}

// Read fetches one sample. Transport failures and non-2xx answers are
// reported as source-unavailable; the engine's fault handler takes it
// from there.
func (h *HTTPSource) Read(ctx context.Context) (dosing.RawReading, error) {
	var env sensorEnvelope
	resp, err := h.client.R().
		SetContext(ctx).
		SetResult(&env).
		Get("/api/sensors")
	if err != nil {
		return dosing.RawReading{}, fmt.Errorf("sensor endpoint: %w", err)
	}
	if resp.IsError() {
		return dosing.RawReading{}, fmt.Errorf("sensor endpoint: status %s", resp.Status())
	}

	raw := dosing.RawReading{At: h.clock.Now()}

	if len(env.Data) > 0 && env.Status == "success" {
		var body struct {
			PH        *float64 `json:"ph"`
			EC        *float64 `json:"ec"`
			WaterTemp *float64 `json:"waterTemp"`
		}
		if err := json.Unmarshal(env.Data, &body); err != nil {
			return dosing.RawReading{}, fmt.Errorf("sensor payload: %w", err)
		}
		raw.PH, raw.EC, raw.WaterTemp = body.PH, body.EC, body.WaterTemp
		return raw, nil
	}
	if env.Status != "" && env.Status != "success" {
		return dosing.RawReading{}, fmt.Errorf("sensor endpoint: %s", orUnknown(env.Error))
	}

	raw.PH, raw.EC, raw.WaterTemp = env.PH, env.EC, env.WaterTemp
	return raw, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown error"
	}
	return s
}
