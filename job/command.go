package job

import (
	"context"
	"fmt"
	"strings"
)

type Kind int

const (
	KindExpand Kind = iota
	KindList
	KindTest
)

func (k Kind) String() string {
	switch k {
	case KindExpand:
		return "expand"
	case KindList:
		return "list"
	case KindTest:
		return "test"
	}
	return "undefined"
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "expand", "extract":
		return KindExpand, nil
	case "list":
		return KindList, nil
	case "test":
		return KindTest, nil
	}
	return 0, fmt.Errorf("unknown command kind %q", s)
}

type DestinationMode string

const (
	DestinationSameAsArchive DestinationMode = "same_as_archive"
	DestinationFixed         DestinationMode = "fixed"
	DestinationAsk           DestinationMode = "ask"
)

type Destination struct {
	Mode   DestinationMode `json:"mode"`
	Folder string          `json:"folder,omitempty"`
	// CreateSurroundingFolder extracts each archive into a folder named
	// after the archive inside the destination.
	CreateSurroundingFolder bool `json:"createSurroundingFolder,omitempty"`
}

// Command is the configuration every invocation of a run is built from.
type Command struct {
	Kind            Kind        `json:"kind"`
	Overwrite       bool        `json:"overwrite"`
	ExtractFullPath bool        `json:"extractFullPath"`
	AssumeYes       bool        `json:"assumeYes"`
	ShowComments    bool        `json:"showComments"`
	ListVerbosely   bool        `json:"listVerbosely"`
	UsePassword     bool        `json:"usePassword"`
	Password        string      `json:"password,omitempty"`
	Destination     Destination `json:"destination"`
	Debug           bool        `json:"debug"`
}

// Validate reports configurations that could never produce a destination.
func (c Command) Validate() error {
	if c.Kind != KindExpand {
		return nil
	}
	switch c.Destination.Mode {
	case DestinationSameAsArchive, DestinationAsk, "":
		return nil
	case DestinationFixed:
		if c.Destination.Folder == "" {
			return fmt.Errorf("%w: fixed destination without folder", ErrNoDestination)
		}
		return nil
	}
	return fmt.Errorf("unknown destination mode %q", c.Destination.Mode)
}

// Outcome is what a finished invocation reports back.
type Outcome struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	Terminated bool
}

// State maps an outcome onto the terminal job state it produces.
func (o Outcome) State() State {
	switch {
	case o.Terminated:
		return StateAborted
	case o.ExitCode == 0:
		return StateSuccess
	}
	return StateFailure
}

// Invocation is a single run of the external archiver for one job.
// Terminate may be called from any goroutine while Launch blocks.
type Invocation interface {
	Launch() Outcome
	Terminate()
}

// Runner builds invocations and probes the archiver executable.
type Runner interface {
	Prepare(cmd Command, j *Job, destination string) Invocation
	Version(ctx context.Context) (string, error)
}

// ListingParser turns the stdout of a list command into entries.
type ListingParser interface {
	Parse(stdout string) []Entry
}

type ListingParserFunc func(stdout string) []Entry

func (f ListingParserFunc) Parse(stdout string) []Entry {
	return f(stdout)
}
