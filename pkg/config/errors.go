package config

import "github.com/tokmz/stsrt/pkg/errors"

// 配置包专用错误定义
var (
	// ErrConfigNotFound 配置文件未找到
	ErrConfigNotFound = errors.New(3001, 500, "配置文件未找到", nil)
	// ErrConfigReadFailed 配置读取失败
	ErrConfigReadFailed = errors.New(3003, 500, "配置读取失败", nil)
	// ErrConfigInvalid 配置校验失败
	ErrConfigInvalid = errors.New(3004, 500, "配置校验失败", nil)
)
