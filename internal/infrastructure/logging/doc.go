// Package logging provides structured logging for Atag One Core.
//
// It wraps log/slog so every component logs with the same handler and the
// same default fields (service, version).
//
// Configuration comes from the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// A *Logger satisfies the atagone.Logger interface, so it can be handed
// straight to the device core:
//
//	logger := logging.New(cfg.Logging, version)
//	dev, err := atagone.New(ctx, atagone.Options{Logger: logger.With("component", "device")})
//
// Never log secrets. The MQTT password, InfluxDB token and HomeKit pin stay
// out of log fields.
package logging
