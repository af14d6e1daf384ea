package tracing

import (
	"os"
	"strconv"

	"go.opentelemetry.io/otel/sdk/trace"
)

// newSampler 根据配置创建采样器，OTEL_TRACES_SAMPLER 优先
func newSampler(cfg *Config) trace.Sampler {
	switch os.Getenv("OTEL_TRACES_SAMPLER") {
	case "always_on":
		return trace.AlwaysSample()
	case "always_off":
		return trace.NeverSample()
	case "traceidratio":
		return trace.TraceIDRatioBased(samplingRatioFromEnv(cfg.SamplingRate))
	case "parentbased_traceidratio":
		return trace.ParentBased(trace.TraceIDRatioBased(samplingRatioFromEnv(cfg.SamplingRate)))
	}
	return trace.ParentBased(trace.TraceIDRatioBased(cfg.SamplingRate))
}

func samplingRatioFromEnv(fallback float64) float64 {
	ratio, err := strconv.ParseFloat(os.Getenv("OTEL_TRACES_SAMPLER_ARG"), 64)
	if err != nil || ratio < 0 || ratio > 1 {
		return fallback
	}
	return ratio
}
