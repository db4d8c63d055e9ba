package ir

// Version constants for the record schema and engine.
const (
	// SchemaVersion is the version of the six-table layout.
	SchemaVersion = "1"

	// EngineVersion is the HERA engine version.
	EngineVersion = "0.1.0"
)
