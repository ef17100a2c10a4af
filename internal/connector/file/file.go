package file

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"linkgate/internal/connector"
	"linkgate/internal/parser"
	"linkgate/internal/pkg"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	// Name 连接器名称
	Name = "File"
	// SettingReadFiles 读取的文件，';' 或 ':' 分隔，可以是文件、目录或父目录下的正则
	SettingReadFiles = "READ_FILES"
	// SettingWriteFiles 写入的文件或目录
	SettingWriteFiles = "WRITE_FILES"
	// SettingDataTimeDiff 推送模式下两行之间的间隔，单位毫秒
	SettingDataTimeDiff = "DATA_TIMEDIFF"

	OutNamePrefix = "FileConnector_"
	OutNameSuffix = ".txt"
)

func init() {
	connector.Register(connector.Descriptor{
		ID:   "file",
		Name: Name,
		Capabilities: connector.Capabilities{
			SupportsEvents:             true,
			SupportsDataTimeDifference: true,
			SpecificSettings:           []string{SettingReadFiles, SettingWriteFiles, SettingDataTimeDiff},
		},
		Factory: NewFromContext,
	})
}

// Settings 文件连接器的专有配置
type Settings struct {
	ReadFiles    string `mapstructure:"READ_FILES"`
	WriteFiles   string `mapstructure:"WRITE_FILES"`
	DataTimeDiff int    `mapstructure:"DATA_TIMEDIFF"`
}

type line struct {
	channel string
	data    []byte
}

// Connector 按行读取文件，每个文件是一个通道（文件名）；写入时每个通道一个输出文件
// 轮询间隔 > 0 时每次轮询交出一行，否则由连接器自行推送
type Connector struct {
	*connector.Base[[]byte, []byte, any, any]

	settings       Settings
	readFiles      []string
	requestTimeout time.Duration
	lines          chan line

	cancel context.CancelFunc
	stop   <-chan struct{}
	done   chan struct{}

	mu        sync.Mutex
	out       map[string]*os.File
	outFailed bool
	seq       int
}

// New 创建文件连接器
func New(adapters []parser.Adapter, selector parser.Selector, opts ...connector.Option) (*Connector, error) {
	c := &Connector{out: make(map[string]*os.File)}
	base, err := connector.NewBase[[]byte, []byte, any, any](c, selector, adapters, append([]connector.Option{connector.WithName(Name)}, opts...)...)
	if err != nil {
		return nil, err
	}
	c.Base = base
	return c, nil
}

// NewFromContext 使用 context 中的配置创建文件连接器
func NewFromContext(ctx context.Context) (connector.Instance, error) {
	cfg := pkg.ConfigFromContext(ctx).Connector
	adapters, selector, err := parser.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	c, err := New(adapters, selector, connector.OptionsFromConfig(cfg)...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Connector) ConnectImpl(ctx context.Context, params *connector.Parameter) error {
	var s Settings
	if err := params.DecodeSettings(&s); err != nil {
		return err
	}
	logger := pkg.LoggerFromContext(ctx)
	c.settings = s
	c.requestTimeout = params.RequestTimeout()
	c.readFiles = resolveReadFiles(s.ReadFiles, logger)
	if s.ReadFiles == "" {
		logger.Warn("未配置 READ_FILES")
	}
	c.mu.Lock()
	c.outFailed = false
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.stop = runCtx.Done()
	c.done = make(chan struct{})
	c.lines = make(chan line)
	go c.readData(runCtx, params.NotificationInterval() > 0)

	logger.Info("文件连接器已连接", zap.Strings("readFiles", c.readFiles), zap.String("writeFiles", s.WriteFiles))
	return nil
}

// resolveReadFiles 解析读取列表：文件直接使用，目录取其中全部文件，其余按正则匹配父目录下的文件
func resolveReadFiles(setting string, logger *zap.Logger) []string {
	var files []string
	tokens := strings.FieldsFunc(setting, func(r rune) bool { return r == ';' || r == ':' })
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		info, err := os.Stat(token)
		switch {
		case err == nil && !info.IsDir():
			files = append(files, token)
		case err == nil && info.IsDir():
			entries, err := os.ReadDir(token)
			if err != nil {
				logger.Warn("读取目录失败", zap.String("dir", token), zap.Error(err))
				continue
			}
			for _, e := range entries {
				if !e.IsDir() {
					files = append(files, filepath.Join(token, e.Name()))
				}
			}
		default:
			matched := matchPattern(token, logger)
			if len(matched) == 0 {
				// 可能只是一个尚不存在的文件，打开时再报错
				matched = []string{token}
			}
			files = append(files, matched...)
		}
	}
	sort.Slice(files, func(i, j int) bool {
		return absPath(files[i]) < absPath(files[j])
	})
	return files
}

func matchPattern(token string, logger *zap.Logger) []string {
	re, err := regexp.Compile("^(?:" + token + ")$")
	if err != nil {
		logger.Warn("不是合法的正则表达式，按文件处理", zap.String("pattern", token))
		return nil
	}
	dir, sep := "", ""
	if pos := strings.LastIndexAny(token, `/\`); pos > 0 {
		dir, sep = token[:pos], token[pos:pos+1]
	}
	listDir := dir
	if listDir == "" {
		listDir = "."
	}
	entries, err := os.ReadDir(listDir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if re.MatchString(dir + sep + e.Name()) {
			out = append(out, filepath.Join(listDir, e.Name()))
		}
	}
	return out
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func (c *Connector) readData(ctx context.Context, polling bool) {
	defer close(c.done)
	for _, f := range c.readFiles {
		if err := c.readFile(ctx, f, polling); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.Logger().Error("读取文件失败", zap.String("file", f), zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}
	}
	c.Logger().Debug("全部文件已读取完毕")
}

func (c *Connector) readFile(ctx context.Context, path string, polling bool) error {
	fh, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fh.Close()

	buf := pkg.BytesPoolInstance.Get()
	defer pkg.BytesPoolInstance.Put(buf)
	scanner := bufio.NewScanner(fh)
	scanner.Buffer(*buf, bufio.MaxScanTokenSize*16)

	channel := filepath.Base(path)
	interval := time.Duration(c.settings.DataTimeDiff) * time.Millisecond
	for scanner.Scan() {
		data := pkg.CopyOf(scanner.Bytes())
		if polling {
			select {
			case c.lines <- line{channel: channel, data: data}:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		if _, err := c.Received(ctx, channel, data, true); err != nil {
			c.Logger().Error("接收数据失败", zap.String("channel", channel), zap.Error(err))
		}
		if interval > 0 {
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return scanner.Err()
}

// ReadChannel 等待下一行，最多等待请求超时时间
func (c *Connector) ReadChannel(ctx context.Context) (string, []byte, bool, error) {
	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()
	select {
	case l := <-c.lines:
		return l.channel, l.data, true, nil
	case <-timer.C:
		return "", nil, false, nil
	case <-c.stop:
		return "", nil, false, nil
	case <-ctx.Done():
		return "", nil, false, nil
	}
}

func (c *Connector) Read(ctx context.Context) ([]byte, bool, error) {
	_, data, ok, err := c.ReadChannel(ctx)
	return data, ok, err
}

func (c *Connector) DisconnectImpl(context.Context) error {
	if c.cancel != nil {
		c.cancel()
		<-c.done
		c.cancel = nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	closed := make(map[*os.File]bool)
	for ch, f := range c.out {
		if !closed[f] {
			err = multierr.Append(err, f.Close())
			closed[f] = true
		}
		delete(c.out, ch)
	}
	return err
}

// WriteImpl 每个通道写入各自的文件，WRITE_FILES 为目录时文件名为 FileConnector_<毫秒>_<序号>.txt
func (c *Connector) WriteImpl(_ context.Context, data []byte, channel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, err := c.output(channel)
	if err != nil {
		return err
	}
	if _, err := out.Write(data); err != nil {
		return err
	}
	_, err = out.Write([]byte{'\n'})
	return err
}

func (c *Connector) output(channel string) (*os.File, error) {
	if out, ok := c.out[channel]; ok {
		return out, nil
	}
	target := c.settings.WriteFiles
	if target == "" {
		return nil, fmt.Errorf("未配置 %s", SettingWriteFiles)
	}
	if c.outFailed {
		return nil, fmt.Errorf("输出文件不可用: %s", target)
	}
	if isDir(target) {
		if err := os.MkdirAll(target, 0o755); err != nil {
			c.outFailed = true
			return nil, err
		}
		c.seq++
		target = filepath.Join(target, fmt.Sprintf("%s%d_%d%s", OutNamePrefix, time.Now().UnixMilli(), c.seq, OutNameSuffix))
	} else {
		// 单个输出文件由所有通道共享
		for _, f := range c.out {
			c.out[channel] = f
			return f, nil
		}
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		c.outFailed = true
		return nil, err
	}
	c.out[channel] = f
	return f, nil
}

func isDir(path string) bool {
	if strings.HasSuffix(path, "/") || strings.HasSuffix(path, string(os.PathSeparator)) {
		return true
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// IsOutputFile 判断文件名是否为连接器生成的输出文件
func IsOutputFile(name string) bool {
	return strings.HasPrefix(name, OutNamePrefix) && strings.HasSuffix(name, OutNameSuffix)
}
