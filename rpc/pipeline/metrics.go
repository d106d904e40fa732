package pipeline

import (
	"github.com/VictoriaMetrics/metrics"
)

var (
	framesIn    = metrics.NewCounter(`hdlwire_pipeline_frames_in_total`)
	framesOut   = metrics.NewCounter(`hdlwire_pipeline_frames_out_total`)
	bytesIn     = metrics.NewCounter(`hdlwire_pipeline_bytes_in_total`)
	bytesOut    = metrics.NewCounter(`hdlwire_pipeline_bytes_out_total`)
	requestsIn  = metrics.NewCounter(`hdlwire_pipeline_requests_in_total`)
	responsesIn = metrics.NewCounter(`hdlwire_pipeline_responses_in_total`)
	malformed   = metrics.NewCounter(`hdlwire_pipeline_malformed_total`)
)

// violation counters by the stage that discarded the message
func violationCounter(stage string) *metrics.Counter {
	return metrics.GetOrCreateCounter(`hdlwire_pipeline_violations_total{stage="` + stage + `"}`)
}
