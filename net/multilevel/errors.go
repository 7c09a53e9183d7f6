package multilevel

import "fmt"

import "github.com/pkg/errors"

// ErrLabelMismatch is returned when the label count differs from the batch size
// of the tensor the labels belong to.
var ErrLabelMismatch = errors.New("label count does not match sample count")

// ConfigError reports a level index out of range or a level used before it was configured.
type ConfigError struct {
	Level  int
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("level %d: configuration: %s", e.Level, e.Reason)
}

// GeometryError reports a component geometry which does not fit the tensor a
// level receives. Err is usually a *window.DimensionError.
type GeometryError struct {
	Level int
	Op    string
	Err   error
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("level %d: %s: %v", e.Level, e.Op, e.Err)
}

func (e *GeometryError) Unwrap() error {
	return e.Err
}
