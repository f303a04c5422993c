package qcflow

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// Command is a command to be run by a runner.
// First string is the executable and others are arguments.
// When a Command is nil or empty, the command will be skipped.
type Command []string

// Tool returns the bare name of the command's executable,
// with any directory part and extension stripped.
// It is used to label jobs after the tool they run.
func (c Command) Tool() string {
	if len(c) == 0 {
		return ""
	}
	base := filepath.Base(c[0])
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext)
}

// String represents the Command as a shell-like string.
// It is for logging, don't use it to actually run the command.
func (c Command) String() string {
	return strings.Join(c, " ")
}

// Commands are commands that are guaranteed to be run serially.
type Commands []Command

// Value implements driver.Valuer.
func (cs Commands) Value() (driver.Value, error) {
	v, err := json.Marshal(cs)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Scan implements sql.Scanner.
func (cs *Commands) Scan(v interface{}) error {
	if v == nil {
		return fmt.Errorf("scan commands: nil")
	}
	b, ok := v.([]byte)
	if !ok {
		return fmt.Errorf("scan commands: want []byte, got %T", v)
	}
	err := json.Unmarshal(b, cs)
	if err != nil {
		return err
	}
	return nil
}
