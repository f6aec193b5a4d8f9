package rpcerror

// Kind selects one of the five reserved protocol errors.
type Kind int

const (
	ParseError Kind = iota
	InvalidRequest
	MethodNotFound
	InvalidParams
	InternalError
)

var standardErrors = [...]Error{
	ParseError:     {Code: CodeParseError, Message: "Parse error"},
	InvalidRequest: {Code: CodeInvalidRequest, Message: "Invalid Request"},
	MethodNotFound: {Code: CodeMethodNotFound, Message: "Method not found"},
	InvalidParams:  {Code: CodeInvalidParams, Message: "Invalid params"},
	InternalError:  {Code: CodeInternalError, Message: "Internal error"},
}

// Standard returns a fresh copy of a reserved protocol error. The code is never
// clamped and the copy carries no data, so callers may not mutate the shared table.
func Standard(k Kind) *Error {
	if k < 0 || int(k) >= len(standardErrors) {
		k = InternalError
	}
	e := standardErrors[k]
	return &e
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(standardErrors) {
		return "unknown"
	}
	return standardErrors[k].Message
}
