package sentinel

var _ error = Error("")

// Error is a sentinel error declared as a string constant.
//
//	const ErrLaunch = sentinel.Error("launch language server")
type Error string

// Error implements the error interface.
func (e Error) Error() string {
	return string(e)
}
