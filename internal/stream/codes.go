package stream

// Error codes carried by ErrorData.Code. Clients use these to route the user
// to the right remedial action: network codes mean "retry now", auth and
// validation codes mean "fix configuration and retry".
const (
	CodeValidation          = "validation"
	CodeAuthRequired        = "auth_required"
	CodeAuthConfigFailed    = "auth_config_failed"
	CodeNetworkConnectivity = "network_connectivity_failed"
	CodeClientNotReady      = "client_not_initialized"
	CodeStreamError         = "stream_error"
	CodeEngineError         = "engine_error"
	CodeToolCallNotFound    = "tool_call_not_found"
	CodeToolInvalidOutcome  = "tool_invalid_outcome"
	CodeInternal            = "internal_error"
)
