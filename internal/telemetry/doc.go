// Package telemetry sets up OpenTelemetry tracing for opsloop.
//
// The knowledge injector and the directive dispatcher start spans through
// the global tracer provider. New installs an SDK provider exporting over
// OTLP when tracing is enabled; otherwise the global no-op provider stays
// in place.
//
// # Usage
//
//	tel, err := telemetry.New(ctx, cfg.Telemetry, version)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc        # or http/protobuf
//	  insecure: true
//	  sample_rate: 0.25
//
// # Error Handling
//
// Exporter failures do not stop the daemon. The instance reports itself
// degraded and spans go to the no-op provider.
package telemetry
