package model

import (
	"errors"
	"fmt"
)

// Kind classifies a failure in the ingestion path.
type Kind int

const (
	KindConfiguration Kind = iota + 1
	KindTransport
	KindDecode
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindTransport:
		return "transport"
	case KindDecode:
		return "decode"
	case KindStorage:
		return "storage"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Stage names the step of a poll cycle where an error happened.
type Stage string

const (
	StagePresence Stage = "presence"
	StageFetch    Stage = "fetch"
	StageDecode   Stage = "decode"
	StageStore    Stage = "store"
	StageCursor   Stage = "cursor"
)

// Error is a classified failure carrying the chain and stage it belongs to.
type Error struct {
	Kind  Kind
	Chain string
	Stage Stage
	Err   error
}

// NewError wraps err with its classification. A nil err yields nil.
func NewError(kind Kind, chain string, stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Chain: chain, Stage: stage, Err: err}
}

func (e *Error) Error() string {
	if e.Chain == "" {
		return fmt.Sprintf("%s error at %s: %v", e.Kind, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s error on %s at %s: %v", e.Kind, e.Chain, e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain. A
// *ConfigError is always KindConfiguration.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return KindConfiguration, true
	}
	return 0, false
}

// ConfigError lists every enabled chain whose endpoint could not be resolved.
type ConfigError struct {
	Missing []MissingEndpoint
	Err     error
}

// MissingEndpoint names an unset endpoint variable and the chain needing it.
type MissingEndpoint struct {
	Chain string
	Env   string
}

func (e *ConfigError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("invalid configuration: %v", e.Err)
	}
	msg := "missing required environment variables: "
	for i, m := range e.Missing {
		if i > 0 {
			msg += ", "
		}
		msg += fmt.Sprintf("%s (%s RPC URL)", m.Env, m.Chain)
	}
	if e.Err != nil {
		msg += fmt.Sprintf("; %v", e.Err)
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
