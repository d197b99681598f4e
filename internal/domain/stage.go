package domain

// StageName identifies one node of the ticket pipeline.
type StageName string

const (
	StageIntake     StageName = "INTAKE"
	StageUnderstand StageName = "UNDERSTAND"
	StagePrepare    StageName = "PREPARE"
	StageAsk        StageName = "ASK"
	StageWait       StageName = "WAIT"
	StageRetrieve   StageName = "RETRIEVE"
	StageDecide     StageName = "DECIDE"
	StageUpdate     StageName = "UPDATE"
	StageCreate     StageName = "CREATE"
	StageDo         StageName = "DO"
	StageComplete   StageName = "COMPLETE"
)

// StageOrder is the execution order of the default pipeline.
var StageOrder = []StageName{
	StageIntake,
	StageUnderstand,
	StagePrepare,
	StageAsk,
	StageWait,
	StageRetrieve,
	StageDecide,
	StageUpdate,
	StageCreate,
	StageDo,
	StageComplete,
}
