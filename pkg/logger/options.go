package logger

// Option 配置选项函数
type Option func(*Config)

// WithLevel 设置日志级别
func WithLevel(level Level) Option {
	return func(c *Config) {
		c.Level = level
	}
}

// WithLevelName 按名称设置日志级别，无法识别的名称回退到 info
// 配置文件与热更新都以字符串给出级别
func WithLevelName(name string) Option {
	return func(c *Config) {
		c.Level, _ = ParseLevel(name)
	}
}

// WithFormat 设置日志格式
func WithFormat(format Format) Option {
	return func(c *Config) {
		c.Format = format
	}
}

// WithConsoleOutput 启用控制台输出
func WithConsoleOutput() Option {
	return func(c *Config) {
		c.Console = true
	}
}

// WithRotateOutput 设置文件轮转输出，Filename 为空时不写文件
func WithRotateOutput(config *RotateConfig) Option {
	return func(c *Config) {
		if config == nil || config.Filename == "" {
			c.Rotate = nil
			return
		}
		c.Rotate = config
	}
}

// WithSampling 设置采样配置，字段为 0 时使用默认值
func WithSampling(config *SamplingConfig) Option {
	return func(c *Config) {
		c.Sampling = config
	}
}

// WithCaller 设置是否记录调用位置
func WithCaller(enable bool) Option {
	return func(c *Config) {
		c.EnableCaller = enable
	}
}

// WithStacktrace 设置是否记录堆栈
func WithStacktrace(enable bool) Option {
	return func(c *Config) {
		c.EnableStacktrace = enable
	}
}

// WithHook 添加 Hook，连接断开等事件可借此转发到告警
func WithHook(hook Hook) Option {
	return func(c *Config) {
		c.Hooks = append(c.Hooks, hook)
	}
}
