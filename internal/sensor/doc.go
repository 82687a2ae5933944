// Package sensor provides the reading sources the dosing engine
// consumes: a live HTTP source backed by the sensor service and a
// simulator for development rigs without probes attached.
//
// Sources only produce raw samples; all range validation happens in the
// engine's validator, identically for both.
package sensor
