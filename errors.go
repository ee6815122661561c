package snkv

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/bretuobay/snkv/internal/btree"
	"github.com/bretuobay/snkv/internal/journal"
	"github.com/bretuobay/snkv/internal/pager"
	"github.com/bretuobay/snkv/internal/snapshot"
	"github.com/bretuobay/snkv/internal/vfs"
	"github.com/bretuobay/snkv/internal/wal"
)

// Kind classifies an error.
type Kind uint8

const (
	KindGeneric Kind = iota
	KindNotFound
	KindBusy
	KindLocked
	KindReadOnly
	KindCorrupt
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindBusy:
		return "busy"
	case KindLocked:
		return "locked"
	case KindReadOnly:
		return "read-only"
	case KindCorrupt:
		return "corrupt"
	default:
		return "error"
	}
}

// Error is the error type returned by the engine. Two errors match under
// errors.Is when they are the same value, or when the target is one of the
// kind sentinels (ErrNotFound, ErrBusy, ErrLocked, ErrReadOnly, ErrCorrupt)
// and the kinds agree.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error

	kindOnly bool
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("snkv: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Detail != "":
		b.WriteString(e.Detail)
		if e.Err != nil {
			b.WriteString(": ")
			b.WriteString(e.Err.Error())
		}
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString(e.Kind.String())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t.kindOnly && t.Kind == e.Kind
	}
	return e.Kind == KindNotFound && target == fs.ErrNotExist
}

func kindError(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail, kindOnly: true}
}

func newError(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

var (
	ErrNotFound = kindError(KindNotFound, "not found")
	ErrBusy     = kindError(KindBusy, "database is busy")
	ErrLocked   = kindError(KindLocked, "database is locked")
	ErrReadOnly = kindError(KindReadOnly, "read-only")
	ErrCorrupt  = kindError(KindCorrupt, "database disk image is malformed")

	ErrClosed        = newError(KindGeneric, "db closed")
	ErrTxActive      = newError(KindGeneric, "transaction already active")
	ErrNoTx          = newError(KindGeneric, "no active transaction")
	ErrKeyTooLarge   = newError(KindGeneric, "key too large")
	ErrValueTooLarge = newError(KindGeneric, "value too large")
	ErrInvalidValue  = newError(KindGeneric, "invalid value")
	ErrInvalidName   = newError(KindGeneric, "invalid column family name")
	ErrReservedName  = newError(KindGeneric, "column family name uses a reserved prefix")
	ErrExists        = newError(KindGeneric, "column family already exists")
	ErrDefaultFamily = newError(KindGeneric, "the default column family cannot be dropped")
	ErrIteratorsOpen = newError(KindLocked, "column family has open iterators")
	ErrIteratorDone  = newError(KindGeneric, "iterator closed")
)

// KindOf returns the kind of err, or KindGeneric when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindGeneric
}

// IsMissing reports whether err means something was not there, whichever
// layer reported it.
func IsMissing(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, btree.ErrNotFound)
}

// classify turns an error from the storage layers into an *Error.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	kind := KindGeneric
	switch {
	case errors.Is(err, btree.ErrKeyTooLarge):
		return ErrKeyTooLarge
	case errors.Is(err, pager.ErrClosed):
		return ErrClosed
	case errors.Is(err, btree.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, fs.ErrNotExist):
		kind = KindNotFound
	case errors.Is(err, vfs.ErrBusy), errors.Is(err, pager.ErrStale):
		kind = KindBusy
	case errors.Is(err, pager.ErrLocked):
		kind = KindLocked
	case errors.Is(err, pager.ErrReadOnly):
		kind = KindReadOnly
	case errors.Is(err, pager.ErrCorrupt), errors.Is(err, pager.ErrNotDatabase),
		errors.Is(err, btree.ErrCorrupt), errors.Is(err, wal.ErrInvalidHeader),
		errors.Is(err, journal.ErrInvalid), errors.Is(err, snapshot.ErrInvalidSnapshot),
		errors.Is(err, snapshot.ErrSnapshotChecksum):
		kind = KindCorrupt
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
