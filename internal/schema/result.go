package schema

// Status tags the outcome of turning a completion-service response into a
// typed value.
type Status int

const (
	// StatusFound means a value was extracted.
	StatusFound Status = iota
	// StatusNotFound means the service explicitly reported nothing to extract.
	StatusNotFound
	// StatusMalformed means the response could not be decoded or failed validation.
	StatusMalformed
	// StatusServiceError means the completion call itself failed.
	StatusServiceError
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusNotFound:
		return "not_found"
	case StatusMalformed:
		return "malformed"
	case StatusServiceError:
		return "service_error"
	default:
		return "unknown"
	}
}

// Result is a tagged extraction result. Value is only meaningful when
// Status is StatusFound; Err is set for StatusMalformed and
// StatusServiceError.
type Result[T any] struct {
	Status Status
	Value  T
	Err    error
}

func Found[T any](v T) Result[T] {
	return Result[T]{Status: StatusFound, Value: v}
}

func NotFound[T any]() Result[T] {
	return Result[T]{Status: StatusNotFound}
}

func Malformed[T any](err error) Result[T] {
	return Result[T]{Status: StatusMalformed, Err: err}
}

func ServiceError[T any](err error) Result[T] {
	return Result[T]{Status: StatusServiceError, Err: err}
}

func (r Result[T]) IsFound() bool {
	return r.Status == StatusFound
}
