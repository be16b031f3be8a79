package otel

import (
	"go.opentelemetry.io/otel/attribute"
)

type Config struct {
	ServiceName    string
	ServiceVersion string
	// EndpointURL selects the exporter: grpc://host:port for OTLP/gRPC, http(s):// for OTLP/HTTP.
	EndpointURL string
	Enabled     bool
	SampleRatio float64
	Insecure    bool
	// Headers are sent with every export, e.g. collector auth.
	Headers            map[string]string
	ResourceAttributes map[string]string
}

func (c Config) toResourceAttributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(c.ResourceAttributes)+2)
	attrs = append(attrs, attribute.String("service.name", c.ServiceName))
	if c.ServiceVersion != "" {
		attrs = append(attrs, attribute.String("service.version", c.ServiceVersion))
	}

	for k, v := range c.ResourceAttributes {
		attrs = append(attrs, attribute.String(k, v))
	}

	return attrs
}
