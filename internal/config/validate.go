package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate runs structural validation plus the checks struct tags
// cannot express (duration strings, cross-field requirements).
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	for _, f := range []struct{ path, raw string }{
		{"sensor.http.timeout", cfg.Sensor.HTTP.Timeout},
		{"pump.http.timeout", cfg.Pump.HTTP.Timeout},
		{"driver.watchdog_timeout", cfg.Driver.WatchdogTimeout},
		{"driver.sweep_interval", cfg.Driver.SweepInterval},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if cfg.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
		if _, err := ParseDurationField("storage.retain_readings", cfg.Storage.RetainReadings); err != nil {
			return err
		}
		driver := strings.TrimSpace(cfg.Storage.Driver)
		if driver != "" && driver != "none" && strings.TrimSpace(cfg.Storage.Path) == "" {
			return errors.New("storage.path is required when storage is enabled")
		}
	}

	if strings.TrimSpace(cfg.Sensor.Source) == "http" && strings.TrimSpace(cfg.Sensor.HTTP.BaseURL) == "" {
		return errors.New("sensor.http.base_url is required for the http source")
	}
	if strings.TrimSpace(cfg.Pump.Actuator) == "http" && strings.TrimSpace(cfg.Pump.HTTP.BaseURL) == "" {
		return errors.New("pump.http.base_url is required for the http actuator")
	}
	return nil
}
