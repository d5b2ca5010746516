package engine

import "fmt"

// sentinelError is an immutable error string satisfying the error
// interface, the same workaround the line adapter's own error table
// uses for its protocol-level sentinels.
type sentinelError string

func (err sentinelError) Error() string { return string(err) }

const (
	ErrUnknownServer    sentinelError = "unknown server"
	ErrUnknownChannel   sentinelError = "unknown channel"
	ErrNotAMember       sentinelError = "not in channel"
	ErrChannelExists    sentinelError = "channel already exists"
	ErrNicknameTaken    sentinelError = "nickname in use"
	ErrRateLimited      sentinelError = "rate limit exceeded"
	ErrUnknownRecipient sentinelError = "no such nick"
	ErrNoPersistence    sentinelError = "no persistence configured"
)

// Rejection is the "refused for a semantic reason" error kind from the
// error handling design: validation, permission, not-a-member,
// rate-limit, or unknown-entity. It always carries the operation name
// so the line adapter (or any other caller) can decide which numeric
// reply or JSON error frame to map it to without string-matching the
// reason text. cause, when set, lets errors.Is match against one of
// the sentinels above without the caller needing to parse Reason.
type Rejection struct {
	Op     string
	Reason string

	cause error
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Op, r.Reason)
}

func (r *Rejection) Unwrap() error { return r.cause }

func reject(op string, reason error) *Rejection {
	return &Rejection{Op: op, Reason: reason.Error(), cause: reason}
}

// rejectf builds a Rejection from a format string. If the single
// argument is an error, it is kept as the Unwrap cause so
// errors.Is(err, ErrSomeSentinel) still works on the formatted result.
func rejectf(op, format string, args ...any) *Rejection {
	r := &Rejection{Op: op, Reason: fmt.Sprintf(format, args...)}
	if len(args) == 1 {
		if err, ok := args[0].(error); ok {
			r.cause = err
		}
	}
	return r
}
