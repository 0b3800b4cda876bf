package model

import (
	"errors"
	"strconv"
	"time"
)

// ObjectID identifies a browsable entity. IDs are assigned densely,
// starting at 0, and once assigned stay bound to the same path for the
// process lifetime. 0 is always the root container (the served
// directory itself).
type ObjectID int64

const RootID ObjectID = 0

var ErrInvalidObjectID = errors.New("invalid object id")

// ParseObjectID parses the decimal wire form of an ObjectID.
func ParseObjectID(s string) (ObjectID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, ErrInvalidObjectID
	}
	return ObjectID(n), nil
}

func (id ObjectID) String() string { return strconv.FormatInt(int64(id), 10) }

type ObjectKind int

const (
	Container ObjectKind = iota
	Item
)

// ContentObject is the unit traded between the content index and the
// DIDL-Lite encoder. The root reports ParentID -1.
type ContentObject struct {
	ID       ObjectID
	ParentID ObjectID
	Kind     ObjectKind
	Title    string

	// Item only.
	MimeType string
	Class    string
	Size     int64
	ModTime  time.Time
	Duration time.Duration // zero when not cheaply known

	// Container only, computed on demand.
	ChildCount int
}

func (o ContentObject) IsContainer() bool { return o.Kind == Container }
