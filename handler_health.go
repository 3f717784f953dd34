package frontproxy

// HealthCheckHandler always answers 200 with a fixed body. No side effects,
// no config.
type HealthCheckHandler struct{}

func (HealthCheckHandler) Handle(r *Request) *Response {
	return NewResponse(200, []byte("I'm Healthy!"))
}
