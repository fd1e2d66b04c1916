package logger

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLogger = zap.NewNop()
	once         sync.Once
)

// LogLevel 定义日志级别
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

// Config 定义日志配置
type Config struct {
	Level      LogLevel
	OutputPath string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch LogLevel(strings.ToLower(string(l))) {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// InitLogger 初始化日志系统，只生效一次
func InitLogger(config Config) {
	once.Do(func() {
		level := config.Level.zapLevel()

		encoderConfig := zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.RFC3339TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		}

		cores := []zapcore.Core{
			zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(os.Stdout), level),
		}

		if config.OutputPath != "" {
			if err := os.MkdirAll(filepath.Dir(config.OutputPath), 0755); err != nil {
				panic(err)
			}
			// lumberjack 负责日志轮转
			fileWriter := zapcore.AddSync(&lumberjack.Logger{
				Filename:   config.OutputPath,
				MaxSize:    config.MaxSize,
				MaxBackups: config.MaxBackups,
				MaxAge:     config.MaxAge,
				Compress:   config.Compress,
			})
			cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), fileWriter, level))
		}

		globalLogger = zap.New(zapcore.NewTee(cores...),
			zap.AddCaller(),
			zap.AddCallerSkip(1),
			zap.AddStacktrace(zapcore.ErrorLevel),
		)
	})
}

// L returns the process logger; a no-op logger before InitLogger.
func L() *zap.Logger { return globalLogger }

// Named returns a child logger tagged with a component name.
func Named(name string) *zap.Logger { return globalLogger.WithOptions(zap.AddCallerSkip(-1)).Named(name) }

// Sync flushes buffered entries.
func Sync() { _ = globalLogger.Sync() }

// Debug 输出调试级别日志
func Debug(msg string, fields ...zap.Field) { globalLogger.Debug(msg, fields...) }

// Info 输出信息级别日志
func Info(msg string, fields ...zap.Field) { globalLogger.Info(msg, fields...) }

// Warn 输出警告级别日志
func Warn(msg string, fields ...zap.Field) { globalLogger.Warn(msg, fields...) }

// Error 输出错误级别日志
func Error(msg string, fields ...zap.Field) { globalLogger.Error(msg, fields...) }

// Fatal 输出致命错误级别日志并退出程序
func Fatal(msg string, fields ...zap.Field) { globalLogger.Fatal(msg, fields...) }

// 辅助函数，用于创建字段
func String(key string, val string) zap.Field { return zap.String(key, val) }

func Strings(key string, val []string) zap.Field { return zap.Strings(key, val) }

func Int(key string, val int) zap.Field { return zap.Int(key, val) }

func Int64(key string, val int64) zap.Field { return zap.Int64(key, val) }

func Float64(key string, val float64) zap.Field { return zap.Float64(key, val) }

func Bool(key string, val bool) zap.Field { return zap.Bool(key, val) }

// ErrorField 创建错误字段
func ErrorField(err error) zap.Field { return zap.Error(err) }

func Any(key string, val interface{}) zap.Field { return zap.Any(key, val) }

// Duration 创建持续时间字段
func Duration(key string, val time.Duration) zap.Field { return zap.Duration(key, val) }
