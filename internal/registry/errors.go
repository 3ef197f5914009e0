package registry

import "fmt"

// TabNotFoundError reports an operation against a tab ID the registry is
// not tracking.
type TabNotFoundError struct {
	ID string
}

func (e *TabNotFoundError) Error() string {
	return fmt.Sprintf("tab not found: %s", e.ID)
}

// BrowserError reports a failure launching or driving a browser process.
type BrowserError struct {
	Op  string
	Err error
}

func (e *BrowserError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *BrowserError) Unwrap() error { return e.Err }

func browserErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &BrowserError{Op: op, Err: err}
}
