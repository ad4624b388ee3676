package types

// Error codes used across the REST surface. Clients branch on these, not
// on messages.
const (
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeInvalidCredentials  = "INVALID_CREDENTIALS"
	CodeMachineUnreachable  = "MACHINE_UNREACHABLE"
	CodeNoStatus            = "NO_STATUS"
	CodeDiagnosticsBusy     = "DIAGNOSTICS_BUSY"
	CodeCommandRejected     = "COMMAND_REJECTED"
	CodePersistenceDisabled = "PERSISTENCE_DISABLED"
	CodeReportNotFound      = "REPORT_NOT_FOUND"
	CodeStorageError        = "STORAGE_ERROR"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
