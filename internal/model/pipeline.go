package model

// Pipeline versions stamped on derived rows. Bump one whenever its recompute
// logic changes incompatibly.
const (
	PipelineEntrySignals     = "entrySignals_v1"
	PipelineThemeSeries      = "themeSeries_v1"
	PipelineConnectionsGraph = "connectionsGraph_v1"
	PipelineCycles           = "cycles_v1"
	PipelineSnapshot         = "snapshot_v1"
)

// PipelineVersion returns the pipeline version of a derived kind.
func PipelineVersion(kind DerivedKind) string {
	switch kind {
	case KindThemeSeries:
		return PipelineThemeSeries
	case KindConnections:
		return PipelineConnectionsGraph
	case KindCycles:
		return PipelineCycles
	case KindSnapshot:
		return PipelineSnapshot
	}
	return ""
}
