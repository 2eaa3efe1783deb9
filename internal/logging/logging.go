package logging

// Logger is the minimal structured logging surface components depend on.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

type Noop struct{}

func (Noop) Debug(string, map[string]any) {}
func (Noop) Info(string, map[string]any)  {}
func (Noop) Warn(string, map[string]any)  {}
func (Noop) Error(string, map[string]any) {}
