package entity

// PayloadError reports client-supplied JSON that failed validation.
// Handlers surface it as a 400 with the message as the reason.
type PayloadError struct {
	Message string
}

func (e *PayloadError) Error() string {
	return e.Message
}
