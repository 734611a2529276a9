package table

import "fmt"

// DataError 数据集无法加载或解析
type DataError struct {
	Path   string
	Reason string
	Err    error
}

func (e *DataError) Error() string {
	msg := "data error"
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DataError) Unwrap() error { return e.Err }
