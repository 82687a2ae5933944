// Package logx is a thin structured-logging layer over zerolog.
//
// It exposes a Field-based API (logx.String, logx.Float64, logx.Err, ...)
// so call sites stay free of zerolog types, a Service that can re-apply
// sink/level configuration at runtime, and a Throttle helper for warning
// paths that would otherwise fire every controller cycle.
package logx
