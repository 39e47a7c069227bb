package uploader

import "fmt"

// NetworkError covers connect, DNS and timeout failures.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("upload network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// HTTPError is a response outside the 2xx range.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upload rejected: HTTP %d", e.Status)
	}
	return fmt.Sprintf("upload rejected: HTTP %d: %s", e.Status, e.Body)
}

// IOError is returned when the archive cannot be read.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("read archive %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
