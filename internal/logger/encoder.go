package logger

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const timeLayout = "15:04:05"

func newEncoder() *consoleEncoder {
	return &consoleEncoder{
		Encoder: zapcore.NewConsoleEncoder(fieldEncoderConfig),
	}
}

// consoleEncoder prints a fixed-width "time level domain message" prefix and, for anything but
// info-level entries, the structured fields on an indented continuation line.
type consoleEncoder struct {
	zapcore.Encoder
}

func (c *consoleEncoder) Clone() zapcore.Encoder {
	return &consoleEncoder{Encoder: c.Encoder.Clone()}
}

func (c *consoleEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	line := pool.Get()

	line.AppendString(ent.Time.Format(timeLayout))
	line.AppendByte(' ')
	line.AppendString(levelString(ent.Level))
	line.AppendByte(' ')
	line.AppendString(fmt.Sprintf(nameEncoderPattern, ent.LoggerName))
	line.AppendByte(' ')
	line.AppendString(ent.Message)

	if ent.Level == zapcore.InfoLevel {
		// Info-level output is what users read: keep it free of fields.
		line.AppendByte('\n')
		return line, nil
	}

	b, err := c.Encoder.EncodeEntry(zapcore.Entry{}, fields)
	if err != nil {
		line.Free()
		return nil, err
	}
	defer b.Free()

	if buf := bytes.TrimSpace(b.Bytes()); len(buf) > 0 {
		line.AppendString(fieldPrefix)
		_, _ = line.Write(buf)
	}
	line.AppendByte('\n')
	return line, nil
}

var (
	pool = buffer.NewPool()

	fieldEncoderConfig = zapcore.EncoderConfig{
		// No keys for time, level, name or message: those are already part of the prefix.
		EncodeLevel:    zapcore.LowercaseColorLevelEncoder,
		EncodeTime:     func(t time.Time, enc zapcore.PrimitiveArrayEncoder) { enc.AppendString(t.Format(timeLayout)) },
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	levelToColor = map[zapcore.Level]*color.Color{
		zapcore.DPanicLevel: color.New(color.FgHiRed),
		zapcore.PanicLevel:  color.New(color.FgHiRed),
		zapcore.FatalLevel:  color.New(color.FgRed),
		zapcore.ErrorLevel:  color.New(color.FgRed),
		zapcore.WarnLevel:   color.New(color.FgYellow),
		zapcore.InfoLevel:   color.New(color.FgBlue),
		zapcore.DebugLevel:  color.New(color.FgMagenta),
	}
)

func levelString(l zapcore.Level) string {
	if c, ok := levelToColor[l]; ok {
		return c.Sprintf("%-7s", l)
	}
	return fmt.Sprintf("%-7s", l)
}

var (
	nameEncoderPattern string
	fieldPrefix        string
)

func init() {
	var l int
	for n := range domainFromString {
		if l < len(n) {
			l = len(n)
		}
	}
	nameEncoderPattern = fmt.Sprintf("%%-%ds", l)
	fieldPrefix = "\n" + strings.Repeat(" ", len(timeLayout)+1+7+1+l+1)
}
