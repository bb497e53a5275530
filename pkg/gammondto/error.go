package gammondto

// ErrorKind classifies a core rejection so the transport layer can map it to a
// response without inspecting messages.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindForbidden  ErrorKind = "forbidden"
	KindNotFound   ErrorKind = "not_found"
	KindConflict   ErrorKind = "conflict"
	KindInvariant  ErrorKind = "invariant_violation"
)

type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	// Meta carries machine-readable detail, e.g. next_bonus_at for an
	// already-claimed daily bonus.
	Meta map[string]any
}

func (e *Error) Error() string {
	if e == nil {
		return "gammon service error"
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return string(e.Kind)
}

func NewError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) WithMeta(key string, val any) *Error {
	if e.Meta == nil {
		e.Meta = map[string]any{}
	}
	e.Meta[key] = val
	return e
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	de, ok := err.(*Error)
	return ok && de.Kind == kind
}
