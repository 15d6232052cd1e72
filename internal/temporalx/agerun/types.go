package agerun

const (
	WorkflowName = "age_progression"
	ActivityRun  = "age_progression_run"

	// WorkflowIDPrefix precedes the scan UUID in the workflow ID.
	WorkflowIDPrefix = "age-progression-"
)
