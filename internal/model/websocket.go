package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypePhase    = "phase"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage carries a progress snapshot for a batch
type WSProgressMessage struct {
	Type     string         `json:"type"`
	BatchID  string         `json:"batchId"`
	Progress *BatchProgress `json:"progress"`
}

// WSPhaseMessage announces a phase transition
type WSPhaseMessage struct {
	Type    string     `json:"type"`
	BatchID string     `json:"batchId"`
	Phase   BatchPhase `json:"phase"`
}

// WSCompleteMessage announces batch completion with the final snapshot
type WSCompleteMessage struct {
	Type    string         `json:"type"`
	BatchID string         `json:"batchId"`
	Result  *BatchProgress `json:"result"`
}

// WSErrorMessage carries a recorded batch error
type WSErrorMessage struct {
	Type    string  `json:"type"`
	BatchID string  `json:"batchId"`
	Error   WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
