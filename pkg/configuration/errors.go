package configuration

import (
	"fmt"
)

// Category classifies a configuration problem. Each has its own exit code.
type Category int

const (
	CategoryUnexpected Category = iota
	CategoryDefaults
	CategoryURL
	CategoryUser
	CategoryPassword
	CategoryOutDirectory
	CategoryCommand
	CategoryBaseName
	CategoryTimeStr
)

var exitCodes = map[Category]int{
	CategoryUnexpected:   1,
	CategoryDefaults:     2,
	CategoryURL:          3,
	CategoryUser:         4,
	CategoryPassword:     5,
	CategoryOutDirectory: 6,
	CategoryCommand:      8,
	CategoryBaseName:     9,
	CategoryTimeStr:      13,
}

func (c Category) ExitCode() int {
	if code, ok := exitCodes[c]; ok {
		return code
	}
	return 1
}

func (c Category) String() string {
	switch c {
	case CategoryDefaults:
		return "defaults"
	case CategoryURL:
		return "url"
	case CategoryUser:
		return "user"
	case CategoryPassword:
		return "password"
	case CategoryOutDirectory:
		return "output directory"
	case CategoryCommand:
		return "command"
	case CategoryBaseName:
		return "base name"
	case CategoryTimeStr:
		return "time string"
	default:
		return "unexpected"
	}
}

type Error struct {
	Category Category
	Field    string
	Err      error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("configuration %s: %s: %v", e.Category, e.Field, e.Err)
	}
	return fmt.Sprintf("configuration %s: %v", e.Category, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
