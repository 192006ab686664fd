package diag

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 为结构化日志器：zap JSON 编码，单行事件写入轮转文件。
// 事件字段：corr_id/comp/stage/code/dur_ms/count/file_id/contract/kv。
type Logger struct {
	z    *zap.Logger
	sink *RotatingFile
}

// ParseLevel 解析配置中的级别；未知值视为 info。
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}
}

// NewLogger 写入 dir 下的轮转文件（10 MiB）；dir 为空时写 stderr。
func NewLogger(corrID, level, dir string) *Logger {
	if strings.TrimSpace(dir) == "" {
		return NewLoggerTo(corrID, level, zapcore.Lock(os.Stderr))
	}
	sink := NewRotatingFile(dir, 10*1024*1024)
	l := NewLoggerTo(corrID, level, sink)
	l.sink = sink
	return l
}

// NewLoggerTo 使用任意 WriteSyncer（测试可传入缓冲区）。
func NewLoggerTo(corrID, level string, ws zapcore.WriteSyncer) *Logger {
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), ws, ParseLevel(level))
	z := zap.New(core, zap.ErrorOutput(zapcore.Lock(os.Stderr)))
	if corrID != "" {
		z = z.With(zap.String("corr_id", corrID))
	}
	return &Logger{z: z}
}

// Nop 返回丢弃一切的日志器。
func Nop() *Logger { return &Logger{z: zap.NewNop()} }

// Zap 暴露底层 zap 日志器，供需要原生字段的组件使用。
func (l *Logger) Zap() *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l.z
}

// Sync 刷新并关闭文件 sink。
func (l *Logger) Sync() error {
	if l == nil {
		return nil
	}
	_ = l.z.Sync()
	if l.sink != nil {
		return l.sink.Close()
	}
	return nil
}

func kvField(kv map[string]string) zap.Field {
	return zap.Object("kv", zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
		for k, v := range kv {
			enc.AddString(k, v)
		}
		return nil
	}))
}

// event 组装公共字段；空值字段省略。
func event(comp, stage, fileID, contractName string, kv map[string]string, extra ...zap.Field) []zap.Field {
	fs := make([]zap.Field, 0, 6+len(extra))
	fs = append(fs, zap.String("comp", comp), zap.String("stage", stage))
	if fileID != "" {
		fs = append(fs, zap.String("file_id", fileID))
	}
	if contractName != "" {
		fs = append(fs, zap.String("contract", contractName))
	}
	if len(kv) > 0 {
		fs = append(fs, kvField(kv))
	}
	return append(fs, extra...)
}

func (l *Logger) emit(lv zapcore.Level, msg string, fs []zap.Field) {
	if l == nil || l.z == nil {
		return
	}
	if ce := l.z.Check(lv, msg); ce != nil {
		ce.Write(fs...)
	}
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	return l.StartWithKV(comp, msg, "", "", nil)
}

// StartWith 记录带 file_id/contract 的 start。
func (l *Logger) StartWith(comp, msg, fileID, contractName string) *Timer {
	return l.StartWithKV(comp, msg, fileID, contractName, nil)
}

// StartWithKV 记录带 file_id/contract 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, fileID, contractName string, kv map[string]string) *Timer {
	l.emit(zapcore.InfoLevel, msg, event(comp, "start", fileID, contractName, kv))
	return &Timer{l: l, comp: comp, fileID: fileID, contract: contractName, t0: time.Now()}
}

// DebugStart 输出调试级别的 start 事件（仅在 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg, fileID, contractName string, kv map[string]string) {
	l.emit(zapcore.DebugLevel, msg, event(comp, "start", fileID, contractName, kv))
}

// Warn 记录可恢复的异常（如跳过无合约文件、规范化回退）。
func (l *Logger) Warn(comp, code, msg, fileID, contractName string, kv map[string]string) {
	l.emit(zapcore.WarnLevel, msg, event(comp, "warn", fileID, contractName, kv, zap.String("code", code)))
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, "", "", nil)
}

// ErrorWith 支持 file_id/contract。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, fileID, contractName string) {
	l.ErrorWithKV(comp, code, msg, durSince, fileID, contractName, nil)
}

// ErrorWithKV 支持附带键值对（例如 HTTP 状态码、上游错误片段）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, fileID, contractName string, kv map[string]string) {
	extra := []zap.Field{zap.String("code", code)}
	if durSince != nil {
		extra = append(extra, zap.Int64("dur_ms", time.Since(*durSince).Milliseconds()))
	}
	l.emit(zapcore.ErrorLevel, msg, event(comp, "error", fileID, contractName, kv, extra...))
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.emit(zapcore.InfoLevel, msg, event(comp, "finish", "", "", nil,
		zap.Int64("dur_ms", time.Since(start).Milliseconds()), zap.Int64("count", count)))
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l        *Logger
	comp     string
	fileID   string
	contract string
	t0       time.Time
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	t.FinishKV(msg, count, nil)
}

// FinishKV 记录 finish 并附带键值。
func (t *Timer) FinishKV(msg string, count int64, kv map[string]string) {
	if t == nil || t.l == nil {
		return
	}
	d := time.Since(t.t0)
	t.l.emit(zapcore.InfoLevel, msg, event(t.comp, "finish", t.fileID, t.contract, kv,
		zap.Int64("dur_ms", d.Milliseconds()), zap.Int64("count", count)))
	ObserveDuration(t.comp, "finish", d.Milliseconds())
}

// Since 返回计时起点，供错误事件计算耗时。
func (t *Timer) Since() *time.Time {
	if t == nil {
		return nil
	}
	return &t.t0
}
