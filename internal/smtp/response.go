package smtp

// Response is one logical server reply. A multi-line reply is folded into a
// single Response once its terminating line arrives.
type Response struct {
	StatusCode int
	// EnhancedStatus is the RFC 3463 code (e.g. "5.1.1") of the final line,
	// empty when the server did not send one.
	EnhancedStatus string
	// Data holds the reply text of every line joined by "\n".
	Data string
	// Line holds the raw wire lines joined by "\n".
	Line    string
	Success bool
}

func newResponse(code int, enhanced string, data, line string) Response {
	return Response{
		StatusCode:     code,
		EnhancedStatus: enhanced,
		Data:           data,
		Line:           line,
		Success:        code >= 200 && code < 300,
	}
}

// Temporary reports a 4xx transient failure.
func (r Response) Temporary() bool {
	return r.StatusCode >= 400 && r.StatusCode < 500
}

// Permanent reports a 5xx permanent failure.
func (r Response) Permanent() bool {
	return r.StatusCode >= 500 && r.StatusCode < 600
}
