package internal

// ErrorKind identifies one of the protocol failure classes reported to the
// originating connection. None of these terminate the connection or the process.
type ErrorKind string

const (
	KindBadEnvelope        ErrorKind = "bad_envelope"
	KindNotLoggedIn        ErrorKind = "not_logged_in"
	KindTooManyAttempts    ErrorKind = "too_many_attempts"
	KindRateLimitExceeded  ErrorKind = "rate_limit_exceeded"
	KindUsernameTaken      ErrorKind = "username_taken"
	KindRoomNameTaken      ErrorKind = "room_name_taken"
	KindInvalidCredentials ErrorKind = "invalid_credentials"
	KindIncorrectPassword  ErrorKind = "incorrect_password"
	KindRoomNotFound       ErrorKind = "room_not_found"
	KindInvalidUploadID    ErrorKind = "invalid_upload_id"
	KindSizeMismatch       ErrorKind = "size_mismatch"
	KindInternal           ErrorKind = "internal"
)

// ProtocolError carries a taxonomy kind plus the human-readable message that
// goes out in the error envelope.
type ProtocolError struct {
	Kind    ErrorKind
	Message string
}

func (e *ProtocolError) Error() string {
	return e.Message
}

func protoErr(kind ErrorKind, message string) *ProtocolError {
	return &ProtocolError{Kind: kind, Message: message}
}

var (
	errBadEnvelope        = protoErr(KindBadEnvelope, "malformed message")
	errNotLoggedIn        = protoErr(KindNotLoggedIn, "Please log in first")
	errTooManyAttempts    = protoErr(KindTooManyAttempts, "Too many attempts, please try again later")
	errRateLimitExceeded  = protoErr(KindRateLimitExceeded, "Message rate limit exceeded, please wait")
	errUsernameTaken      = protoErr(KindUsernameTaken, "Error: Username taken")
	errRoomNameTaken      = protoErr(KindRoomNameTaken, "Error: Room name taken")
	errInvalidCredentials = protoErr(KindInvalidCredentials, "Invalid credentials")
	errIncorrectPassword  = protoErr(KindIncorrectPassword, "Incorrect room password")
	errRoomNotFound       = protoErr(KindRoomNotFound, "Room not found")
	errInvalidUploadID    = protoErr(KindInvalidUploadID, "Unknown upload id")
	errSizeMismatch       = protoErr(KindSizeMismatch, "Assembled file size does not match declared size")
)
