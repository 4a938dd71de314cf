package config

import (
	"errors"
	"fmt"
)

// Sentinel errors for callers to match with errors.Is. The loader and
// validator wrap these with file and entry context.
var (
	ErrConfigNotFound   = errors.New("config file not found")
	ErrInvalidYAML      = errors.New("malformed YAML")
	ErrValidationFailed = errors.New("config validation failed")
	ErrTopicNotFound    = errors.New("topic not found")
	ErrModelNotFound    = errors.New("model not found")
	ErrDanglingRef      = errors.New("reference to unknown entry")
)

// EntryError names the config entry and field a validation rule fired on,
// so a broken topic identifies itself in the boot error.
type EntryError struct {
	Kind  string // "topic", "model", "queue", "system"
	ID    string
	Field string // optional
	Err   error
}

func NewEntryError(kind, id, field string, err error) error {
	return &EntryError{Kind: kind, ID: id, Field: field, Err: err}
}

func (e *EntryError) Error() string {
	where := e.Kind + " '" + e.ID + "'"
	if e.Field != "" {
		where += " field '" + e.Field + "'"
	}
	return where + ": " + e.Err.Error()
}

func (e *EntryError) Unwrap() error { return e.Err }

// FileError names the file that failed to load or parse.
type FileError struct {
	File string
	Err  error
}

func NewFileError(file string, err error) error {
	return &FileError{File: file, Err: err}
}

func (e *FileError) Error() string {
	return fmt.Sprintf("load %s: %v", e.File, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }
