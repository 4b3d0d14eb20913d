package pipeline

// Canonical stage names. The pipeline is a strict total order with no
// branching; the order is fixed here and never configurable.
const (
	StagePlan      = "plan"
	StageCode      = "code"
	StageIntegrate = "integrate"
	StageVerify    = "verify"
	StageReport    = "report"
	StageGate      = "gate"
)

// StageOrder is the execution order of the pipeline.
var StageOrder = []string{
	StagePlan,
	StageCode,
	StageIntegrate,
	StageVerify,
	StageReport,
	StageGate,
}

// commandStages are the stages driven by an external tool invocation.
// verify runs its configured checks; report and gate are synthesized
// internally from verify output.
var commandStages = map[string]bool{
	StagePlan:      true,
	StageCode:      true,
	StageIntegrate: true,
}

// IsStage reports whether name is a known stage.
func IsStage(name string) bool {
	for _, s := range StageOrder {
		if s == name {
			return true
		}
	}
	return false
}

// IsCommandStage reports whether the stage runs an external command template.
func IsCommandStage(name string) bool {
	return commandStages[name]
}

// NextStage returns the stage after the given one, or "" if it is the last.
func NextStage(current string) string {
	for i, s := range StageOrder {
		if s == current && i+1 < len(StageOrder) {
			return StageOrder[i+1]
		}
	}
	return ""
}
