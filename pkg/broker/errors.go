package broker

import "github.com/tokmz/stsrt/pkg/errors"

// 错误定义
var (
	ErrInvalidConfig = errors.New(3401, 500, "broker: invalid config", nil)
	ErrClosed        = errors.ErrTransport.Derive(5401, "broker: closed")
	ErrConnect       = errors.ErrTransport.Derive(5402, "broker: connect failed")
	ErrPublish       = errors.ErrTransport.Derive(5403, "broker: publish failed")
	ErrSubscribe     = errors.ErrTransport.Derive(5404, "broker: subscribe failed")
	ErrEncode        = errors.ErrUsage.Derive(4401, "broker: encode event failed")
)

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
