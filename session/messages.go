package session

// Push-channel message types.
const (
	TypeInit          = "init"
	TypeImageEdit     = "imageEdit"
	TypeReset         = "reset"
	TypePreviewUpdate = "previewUpdate"
	TypeError         = "error"
)

// PreviewUpdate tells the client a new preview is ready.
type PreviewUpdate struct {
	Type       string `json:"type"`
	PreviewURL string `json:"previewUrl"`
}

// ErrorMessage reports a failed edit to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewPreviewUpdate builds a previewUpdate message.
func NewPreviewUpdate(url string) PreviewUpdate {
	return PreviewUpdate{Type: TypePreviewUpdate, PreviewURL: url}
}

// NewErrorMessage builds an error message.
func NewErrorMessage(msg string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: msg}
}
