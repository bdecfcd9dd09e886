package metrics

import (
	"slices"
	"time"

	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/pmetric"
)

// ScopeName is the instrumentation scope snapshots are reported under.
const ScopeName = "github.com/deepaksharma/apm-agent-core/metrics"

// ToMetrics converts a snapshot into one gauge per key, sorted by name, all
// stamped with ts. resource, when not nil, populates the resource.
func ToMetrics(s Snapshot, ts time.Time, resource func(pcommon.Resource)) pmetric.Metrics {
	md := pmetric.NewMetrics()
	rm := md.ResourceMetrics().AppendEmpty()
	if resource != nil {
		resource(rm.Resource())
	}

	sm := rm.ScopeMetrics().AppendEmpty()
	sm.Scope().SetName(ScopeName)

	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	slices.Sort(names)

	stamp := pcommon.NewTimestampFromTime(ts)
	for _, name := range names {
		m := sm.Metrics().AppendEmpty()
		m.SetName(name)
		dp := m.SetEmptyGauge().DataPoints().AppendEmpty()
		dp.SetTimestamp(stamp)
		dp.SetDoubleValue(s[name])
	}
	return md
}
