package telemetry

import (
	dto "github.com/prometheus/client_model/go"
)

// Value returns the current value of a counter or the sample count of a
// histogram named name (without the namespace prefix). With labelValues it
// sums only series whose label values contain all of them; without, it sums
// every series. A missing family reads as zero.
func (m *Metrics) Value(name string, labelValues ...string) float64 {
	if m == nil {
		return 0
	}
	families, err := m.registry.Gather()
	if err != nil {
		return 0
	}
	full := namespace + "_" + name
	var total float64
	for _, mf := range families {
		if mf.GetName() != full {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if !hasLabelValues(metric, labelValues) {
				continue
			}
			switch {
			case metric.GetCounter() != nil:
				total += metric.GetCounter().GetValue()
			case metric.GetHistogram() != nil:
				total += float64(metric.GetHistogram().GetSampleCount())
			case metric.GetGauge() != nil:
				total += metric.GetGauge().GetValue()
			}
		}
	}
	return total
}

func hasLabelValues(metric *dto.Metric, want []string) bool {
	for _, w := range want {
		found := false
		for _, lp := range metric.GetLabel() {
			if lp.GetValue() == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
