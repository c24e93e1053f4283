package main

// Exit codes
const (
	ExitSuccess        = 0 // Success
	ExitError          = 1 // General error (invalid arguments, runtime failure)
	ExitConfigError    = 2 // Configuration error (unreadable config, invalid values)
	ExitDataError      = 3 // Data error (malformed input, unknown identifier)
	ExitBatchExhausted = 4 // Batch stopped with documents still unresolved
)
