package connector

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration 构造连接器时参数非法（没有适配器或适配器为空）
	ErrConfiguration = errors.New("连接器配置错误")
	// ErrNotConnected 连接器尚未连接
	ErrNotConnected = errors.New("连接器未连接")
	// ErrAlreadyConnected 连接器已连接
	ErrAlreadyConnected = errors.New("连接器已连接")
)

// Error 连接器 I/O 失败，由 Connect/Disconnect/Write/Trigger 返回
type Error struct {
	Op        string
	Connector string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("连接器 %s %s 失败: %v", e.Connector, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op, connector string, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) && ce.Op == op {
		return err
	}
	return &Error{Op: op, Connector: connector, Err: err}
}
