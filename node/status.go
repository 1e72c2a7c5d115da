package node

import (
	goerrors "errors"
	"fmt"

	"github.com/go-playground/errors/v5"
)

// Status is the ordered phase ladder of the initial sync. Values observed for
// a node are monotonically non-decreasing within one attempt; anything outside
// the recognized set means an earlier attempt died inside a step that cannot
// be resumed.
type Status int

const (
	StatusInit Status = iota
	StatusSyncSchema
	StatusSlots
	StatusCatchup
	StatusConnectBack
	StatusReady
)

// ErrUnrecoverableStatus means node initialization failed during a
// nonrecoverable step and the setup must be done again from scratch.
var ErrUnrecoverableStatus = goerrors.New("node initialization failed during nonrecoverable step, please try the setup again")

var statusNames = map[Status]string{
	StatusInit:        "init",
	StatusSyncSchema:  "sync_schema",
	StatusSlots:       "slots",
	StatusCatchup:     "catchup",
	StatusConnectBack: "connect_back",
	StatusReady:       "ready",
}

var statusValues = func() map[string]Status {
	m := make(map[string]Status, len(statusNames))
	for k, v := range statusNames {
		m[v] = k
	}
	return m
}()

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

func ParseStatus(s string) (Status, error) {
	if st, ok := statusValues[s]; ok {
		return st, nil
	}
	return 0, errors.Newf("unknown node status %q", s)
}

// RecoverableEntry reports whether an attempt may resume from s. A node found
// at sync_schema crashed mid dump/restore and cannot be resumed safely; ready
// needs no attempt at all.
func (s Status) RecoverableEntry() bool {
	switch s {
	case StatusInit, StatusSlots, StatusCatchup, StatusConnectBack:
		return true
	default:
		return false
	}
}
