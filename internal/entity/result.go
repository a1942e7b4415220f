package entity

// Result codes shared with the client. Success* are returned with data,
// Warning* are business rule failures, Fail* mean the operation did not take effect.
const (
	CodeCreateSuccess = "Success0001"
	CodeReadSuccess   = "Success0002"
	CodeUpdateSuccess = "Success0003"
	CodeAssignSuccess = "Success0004"
	CodeAllowReserve  = "Success0005"
	CodeAssignQueued  = "Success0006"

	CodeInvalidInput          = "Warning0001"
	CodeNotFound              = "Warning0002"
	CodeForbidden             = "Warning0003"
	CodeUnauthorized          = "Warning0004"
	CodeReserveNotNeeded      = "Warning0010"
	CodeNoLibraryCard         = "Warning0011"
	CodeAlreadyReserved       = "Warning0012"
	CodeAlreadyBorrowing      = "Warning0013"
	CodeAlreadyRequested      = "Warning0014"
	CodeQuotaExceeded         = "Warning0015"
	CodeNotAssignable         = "Warning0016"
	CodeInstanceNotOutOfShelf = "Warning0017"
	CodeInstanceMismatch      = "Warning0018"
	CodeInvalidStatus         = "Warning0019"

	CodeAssignFailed         = "Fail0001"
	CodeCodeGenerationFailed = "Fail0002"
	CodeInternal             = "Fail0099"
)

// Result is the uniform response envelope.
type Result struct {
	ResultCode string      `json:"result_code"`
	Message    string      `json:"message"`
	Data       interface{} `json:"data,omitempty"`
}

func NewResult(code, message string, data interface{}) *Result {
	return &Result{ResultCode: code, Message: message, Data: data}
}
