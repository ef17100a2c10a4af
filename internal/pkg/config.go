package pkg

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/viper"
)

// LogConfig 日志相关配置
type LogConfig struct {
	LogPath    string `mapstructure:"log_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	Level      string `mapstructure:"level"`
}

// AdapterConfig 描述一个协议适配器
type AdapterConfig struct {
	Type            string   `mapstructure:"type"`            // passthrough|string|csv|json|expr|frame
	OutputChannel   string   `mapstructure:"outputChannel"`   // 输出通道名，channel 选择器按它建立索引
	InputChannel    string   `mapstructure:"inputChannel"`    // 写入时使用的通道名
	Separator       string   `mapstructure:"separator"`       // csv 分隔符，默认 ","
	Fields          []string `mapstructure:"fields"`          // csv 字段名，为空时输出切片
	Expression      string   `mapstructure:"expression"`      // expr 输出表达式
	InputExpression string   `mapstructure:"inputExpression"` // expr 输入表达式
	// Sections frame 适配器的帧结构，每一项是一个 section 或 skip
	Sections []map[string]any `mapstructure:"sections"`
	// Globals frame 表达式中可以读取的全局变量
	Globals map[string]any `mapstructure:"globals"`
}

// IdentityConfig 身份令牌配置
type IdentityConfig struct {
	Endpoint string `mapstructure:"endpoint"` // 为空表示任意端点
	Type     string `mapstructure:"type"`     // anonymous|username|issued
	User     string `mapstructure:"user"`
	Token    string `mapstructure:"token"`
}

// ConnectorConfig 连接器配置，时间均以毫秒计
type ConnectorConfig struct {
	Type                 string                 `mapstructure:"type"`
	Host                 string                 `mapstructure:"host"`
	Port                 int                    `mapstructure:"port"`
	Schema               string                 `mapstructure:"schema"`
	EndpointPath         string                 `mapstructure:"endpointPath"`
	RequestTimeout       *int                   `mapstructure:"requestTimeout"`
	NotificationInterval *int                   `mapstructure:"notificationInterval"`
	KeepAlive            *int                   `mapstructure:"keepAlive"`
	ApplicationID        string                 `mapstructure:"applicationId"`
	KeyAlias             string                 `mapstructure:"keyAlias"`
	HostnameVerification bool                   `mapstructure:"hostnameVerification"`
	CacheMode            string                 `mapstructure:"cacheMode"`
	CacheKeys            int                    `mapstructure:"cacheKeys"`
	Selector             string                 `mapstructure:"selector"`
	Identities           []IdentityConfig       `mapstructure:"identities"`
	Adapters             []AdapterConfig        `mapstructure:"adapters"`
	Settings             map[string]interface{} `mapstructure:"settings"`
}

// AdminConfig 管理接口配置
type AdminConfig struct {
	Enable bool   `mapstructure:"enable"`
	Addr   string `mapstructure:"addr"`
}

type Config struct {
	Version   string          `mapstructure:"version"`
	Log       LogConfig       `mapstructure:"log"`
	Connector ConnectorConfig `mapstructure:"connector"`
	// Sink 可选的下游连接器，源连接器输出的值会写入它
	Sink  *ConnectorConfig `mapstructure:"sink"`
	Admin AdminConfig      `mapstructure:"admin"`
}

type configKey struct{}

// WithConfig 将配置挂载到 context 上
func WithConfig(ctx context.Context, config *Config) context.Context {
	return context.WithValue(ctx, configKey{}, config)
}

// ConfigFromContext 从 context 中提取配置指针，没有时返回空配置
func ConfigFromContext(ctx context.Context) *Config {
	if config, ok := ctx.Value(configKey{}).(*Config); ok {
		return config
	}
	return &Config{}
}

// InitCommon 用于初始化全局配置
func InitCommon(configDir string) (*Config, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("::")) // 设置 key 分隔符为 ::，因为默认的 . 会和 IP 地址冲突
	v.AddConfigPath(configDir)
	v.AutomaticEnv() // 读取环境变量
	// 遍历配置目录及其子目录中的所有文件
	err := filepath.WalkDir(configDir, func(filePath string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("访问路径 %s 失败: %w", filePath, err)
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(filePath)
		// 只处理 .yaml 或 .yml 文件
		if ext == ".yaml" || ext == ".yml" {
			v.SetConfigFile(filePath)
			// 读取并合并配置文件 (会覆盖之前的配置)
			if err := v.MergeInConfig(); err != nil {
				return fmt.Errorf("读取配置文件失败 %s: %w", filePath, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	var common Config
	if err := v.Unmarshal(&common); err != nil {
		return nil, fmt.Errorf("反序列化配置失败: %w", err)
	}
	return &common, nil
}
