package irc

// Error is an immutable error string satisfying the error interface,
// the same workaround the teacher's own errors.go uses.
type Error string

func (err Error) Error() string  { return string(err) }
func (err Error) String() string { return string(err) }

// Protocol-level sentinel errors: these describe malformed wire input,
// not semantic refusals (engine.Rejection covers those).
const (
	ErrMessageTooShort Error = "line too short to be a valid message"
	ErrMessageTooLong  Error = "line exceeds the maximum message length"
	ErrWhitespace      Error = "line was empty or all whitespace"
	ErrPrefixed        Error = "clients may not send a prefixed message"
	ErrTooManyParams   Error = "too many parameters"
	ErrInvalidCapCmd   Error = "invalid CAP subcommand"
	ErrMissingParams   Error = "missing parameters"
	ErrNotRegistered   Error = "you must register first"
	ErrAlreadyRegistered Error = "you have already registered"
	ErrNoNickGiven     Error = "no nickname given"
	ErrSASLFailed      Error = "SASL authentication failed"
)
