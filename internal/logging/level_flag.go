package logging

import "strings"

// LevelFlag is a pflag.Value that only accepts known level names.
type LevelFlag struct {
	level string
}

// NewLevelFlag returns a LevelFlag set to def.
func NewLevelFlag(def string) *LevelFlag {
	return &LevelFlag{level: def}
}

func (f *LevelFlag) String() string {
	return f.level
}

// Set validates and stores a level name.
func (f *LevelFlag) Set(v string) error {
	if _, err := ParseLevel(v); err != nil {
		return err
	}
	f.level = strings.ToLower(v)
	return nil
}

// Type is shown in flag usage.
func (f *LevelFlag) Type() string {
	return "level"
}
