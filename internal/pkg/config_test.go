package pkg

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestInitCommon 测试 InitCommon 函数
func TestInitCommon(t *testing.T) {
	// 创建一个临时的配置文件目录
	tempDir := t.TempDir()

	configFilePath := filepath.Join(tempDir, "test_config.yaml")
	configContent := `
version: "1.0.0"
log:
  log_path: ./logs
  # MaxSize：在进行切割之前，日志文件的最大大小（以MB为单位）
  max_size: 512
  max_backups: 1000
  max_age: 365
  compress: true
  level: debug
# 连接器相关配置
connector:
  type: file
  host: 127.0.0.1
  port: 1883
  notificationInterval: 500
  cacheMode: hash
  selector: channel
  adapters:
    - type: csv
      outputChannel: a.csv
      fields: [x, y]
    - type: json
  settings:
    READ_FILES: "./data/a.csv"
sink:
  type: mqtt
  host: 127.0.0.1
  port: 1883
  adapters:
    - type: frame
      sections:
        - size: 2
          fields:
            kind: "Bytes[0]"
        - skip: 1
admin:
  enable: true
  addr: ":9090"
`
	if err := os.WriteFile(configFilePath, []byte(configContent), 0644); err != nil {
		t.Fatalf("创建配置文件失败: %v", err)
	}

	config, err := InitCommon(tempDir)
	if err != nil {
		t.Fatalf("InitCommon 函数调用失败: %v", err)
	}

	if config.Connector.Type != "file" {
		t.Errorf("期望连接器类型为 'file'，但得到的是 %s", config.Connector.Type)
	}
	if config.Connector.NotificationInterval == nil || *config.Connector.NotificationInterval != 500 {
		t.Errorf("期望轮询间隔为 500，但得到的是 %v", config.Connector.NotificationInterval)
	}
	if config.Connector.RequestTimeout != nil {
		t.Errorf("未配置的请求超时应为 nil")
	}
	if len(config.Connector.Adapters) != 2 || config.Connector.Adapters[0].OutputChannel != "a.csv" {
		t.Errorf("适配器配置解析错误: %+v", config.Connector.Adapters)
	}
	if config.Log.MaxSize != 512 {
		t.Errorf("期望日志文件大小为 512 MB，但得到的是 %d", config.Log.MaxSize)
	}
	if config.Log.Level != "debug" {
		t.Errorf("期望日志级别为 'debug'，但得到的是 %s", config.Log.Level)
	}
	if !config.Admin.Enable || config.Admin.Addr != ":9090" {
		t.Errorf("管理接口配置解析错误: %+v", config.Admin)
	}
	if config.Sink == nil || config.Sink.Type != "mqtt" {
		t.Fatalf("下游连接器配置解析错误: %+v", config.Sink)
	}
	if sections := config.Sink.Adapters[0].Sections; len(sections) != 2 || sections[1]["skip"] != 1 {
		t.Errorf("frame sections 解析错误: %+v", sections)
	}
	// viper 会把 key 统一转为小写
	if config.Connector.Settings["read_files"] != "./data/a.csv" {
		t.Errorf("期望 settings 中包含 read_files，但得到的是 %v", config.Connector.Settings)
	}
}

// TestWithConfigAndConfigFromContext 测试 WithConfig 和 ConfigFromContext 函数
func TestWithConfigAndConfigFromContext(t *testing.T) {
	testConfig := &Config{
		Version: "1.0.0",
		Connector: ConnectorConfig{
			Type: "udp",
		},
	}

	ctxWithConfig := WithConfig(context.Background(), testConfig)
	extractedConfig := ConfigFromContext(ctxWithConfig)

	if extractedConfig.Version != "1.0.0" {
		t.Errorf("期望提取到的配置版本为 '1.0.0'，但得到的是 %s", extractedConfig.Version)
	}
	if extractedConfig.Connector.Type != "udp" {
		t.Errorf("期望连接器类型为 'udp'，但得到的是 %s", extractedConfig.Connector.Type)
	}
}

// TestInitCommonConfigFileNotFound 测试 InitCommon 函数当配置目录不存在时的错误处理
func TestInitCommonConfigFileNotFound(t *testing.T) {
	_, err := InitCommon("/invalid/path")
	if err == nil {
		t.Fatal("期望出现错误，但未得到错误")
	}

	expectedErrPrefix := "访问路径 /invalid/path"
	if !strings.HasPrefix(err.Error(), expectedErrPrefix) {
		t.Errorf("期望错误信息以 '%s' 开头，但得到的是 '%s'", expectedErrPrefix, err.Error())
	}
}

func TestUnmarshalConfig(t *testing.T) {
	tempDir := t.TempDir()

	configFilePath := filepath.Join(tempDir, "invalid_config.yaml")
	invalidConfigContent := `
connector:
  type: "mqtt"
log:
  log_path: "/var/log/test.log"
  max_size: 10
  max_age: "not_a_number"
` // 无效的数据类型
	if err := os.WriteFile(configFilePath, []byte(invalidConfigContent), 0644); err != nil {
		t.Fatalf("创建配置文件失败: %v", err)
	}

	_, err := InitCommon(tempDir)
	if err == nil {
		t.Fatal("期望出现错误，但未得到错误")
	}

	expectedErr := "反序列化配置失败"
	if !strings.HasPrefix(err.Error(), expectedErr) {
		t.Errorf("期望错误信息为 '%s'，但得到的是 '%s'", expectedErr, err.Error())
	}
}

// TestInitCommonInvalidConfigFormat 测试 InitCommon 函数当配置文件格式错误时的处理
func TestInitCommonInvalidConfigFormat(t *testing.T) {
	tempDir := t.TempDir()

	configFilePath := filepath.Join(tempDir, "invalid_config.yaml")
	invalidConfigContent := `
connector
  type: "mqtt"
  host: "localhost"
` // 缺少冒号
	if err := os.WriteFile(configFilePath, []byte(invalidConfigContent), 0644); err != nil {
		t.Fatalf("创建配置文件失败: %v", err)
	}

	_, err := InitCommon(tempDir)
	if err == nil {
		t.Fatal("期望出现错误，但未得到错误")
	}

	expectedErr := "读取配置文件失败"
	if !strings.HasPrefix(err.Error(), expectedErr) {
		t.Errorf("期望错误信息为 '%s'，但得到的是 '%s'", expectedErr, err.Error())
	}
}

// TestConfigFromContextWithoutConfig 测试在上下文中没有配置时的情况
func TestConfigFromContextWithoutConfig(t *testing.T) {
	extractedConfig := ConfigFromContext(context.Background())

	if extractedConfig.Version != "" {
		t.Errorf("期望提取到的版本为空字符串，但得到的是 %s", extractedConfig.Version)
	}
	if extractedConfig.Connector.Type != "" {
		t.Errorf("期望连接器类型为空字符串，但得到的是 %s", extractedConfig.Connector.Type)
	}
}
