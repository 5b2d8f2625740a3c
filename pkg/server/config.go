package server

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type config struct {
	Addr          string   // 设备连接监听地址，默认 ":27183"
	APIAddr       string   // HTTP状态接口地址，为空则不启用
	ReadBufSize   int      // 连接读数据缓冲区大小(默认65536字节)
	MaxPacketSize uint32   // 单个packet负载上限(默认16MiB)
	MaxSessions   int      // 同时处理的设备连接数(默认64)
	Codecs        []string // 允许协商的编码, 为空表示全部

	// 日志配置
	Log log

	Sinks sinks

	// pprof debug开关
	EnablePprof bool
}

type log struct {
	Path         string // 为空时输出到stderr
	Level        string
	RotationTime time.Duration
	Age          int
}

type sinks struct {
	Probe    probeConfig
	Recorder recorderConfig
	Metrics  metricsConfig
	Relay    relayConfig
}

type probeConfig struct {
	Enable bool
	Strict bool
}

type recorderConfig struct {
	Enable       bool
	Dir          string
	Format       string // ts, flv, raw
	AudioFormat  string
	WaitKeyFrame bool
}

type metricsConfig struct {
	Enable bool
}

type relayConfig struct {
	Enable  bool
	URL     string // nats地址
	Subject string
}

func (s *Server) loadConfig(configPath string) error {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigName("config")
	v.AddConfigPath(configPath)

	if err := v.ReadInConfig(); err != nil {
		return errors.Wrap(err, "read in config")
	}

	if s.config == nil {
		s.config = new(config)
	}

	if err := v.Unmarshal(s.config); err != nil {
		return errors.Wrap(err, "Unmarshal config")
	}

	return nil
}

func (c *config) setDefaults() {
	if c.Addr == "" {
		c.Addr = ":27183"
	}

	if c.ReadBufSize <= 0 {
		c.ReadBufSize = 64 * 1024
	}

	if c.MaxPacketSize == 0 {
		c.MaxPacketSize = 16 << 20
	}

	if c.MaxSessions <= 0 {
		c.MaxSessions = 64
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Sinks.Recorder.Dir == "" {
		c.Sinks.Recorder.Dir = "records"
	}

	if c.Sinks.Relay.Subject == "" {
		c.Sinks.Relay.Subject = "screenlive"
	}
}

func getAbsConfigPath() (string, error) {
	binPath, err := filepath.Abs(filepath.Dir(os.Args[0]))
	if err != nil {
		return "", err
	}

	configPath := filepath.Join(filepath.Dir(binPath), "config")
	return configPath, nil
}
