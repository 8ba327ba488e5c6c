// Package reader defines the boundary to the physical RFID reader/writer
// and the substitutes used when no hardware is attached.
package reader

// Reader is one tag reader/writer slot. Read blocks until a tag is
// presented and returns its hardware UID plus the trimmed text content of
// its writable memory; Write blocks until the content has been written to
// whatever tag is on the reader. Neither call takes a context: the
// hardware has no cancellation primitive, so a caller that gives up must
// abandon the pending call and issue a new one.
type Reader interface {
	Read() (uid int64, content string, err error)
	Write(content string) error
}
