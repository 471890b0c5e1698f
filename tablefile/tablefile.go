// Package tablefile reads and writes the fixed-width binary tables every
// learner persists to. A table file is a little-endian uint64 record count,
// an optional table-specific header, and then exactly that many records of
// one fixed width.
package tablefile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
)

// ErrTruncated is returned when a file ends before all of its records have
// been read. A truncated table is never partially accepted.
var ErrTruncated = errors.New("table file truncated")

const countSize = 8

// Layout describes how one record type maps onto its fixed-width bytes.
// Put receives a zeroed buffer of exactly Size bytes.
type Layout[T any] struct {
	Size int
	Put  func(b []byte, rec T)
	Get  func(b []byte) T
}

// Save creates path from scratch and writes count records from recs. The
// header, if any, goes right after the record count. The file is not written
// atomically; an interrupted save leaves a truncated file behind.
func Save[T any](path string, header []byte, count int, recs iter.Seq[T], layout Layout[T]) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating table %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing table %s: %w", path, cerr)
		}
	}()
	w := bufio.NewWriter(f)

	var head [countSize]byte
	binary.LittleEndian.PutUint64(head[:], uint64(count))
	if _, err = w.Write(head[:]); err != nil {
		return fmt.Errorf("writing table %s: %w", path, err)
	}
	if _, err = w.Write(header); err != nil {
		return fmt.Errorf("writing table %s: %w", path, err)
	}

	buf := make([]byte, layout.Size)
	written := 0
	for rec := range recs {
		if written == count {
			return fmt.Errorf("writing table %s: more than %d records", path, count)
		}
		clear(buf)
		layout.Put(buf, rec)
		if _, err = w.Write(buf); err != nil {
			return fmt.Errorf("writing table %s: %w", path, err)
		}
		written++
	}
	if written != count {
		return fmt.Errorf("writing table %s: got %d records, header says %d", path, written, count)
	}
	if err = w.Flush(); err != nil {
		return fmt.Errorf("flushing table %s: %w", path, err)
	}
	return nil
}

// Load reads the table at path, handing every record to each in file order.
// It returns the headerSize bytes following the record count. A missing
// file is not an error: found is false and nothing is read.
func Load[T any](path string, headerSize int, layout Layout[T], each func(T)) (header []byte, found bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("opening table %s: %w", path, err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var head [countSize]byte
	if err := readFull(r, head[:]); err != nil {
		return nil, true, fmt.Errorf("reading record count of %s: %w", path, err)
	}
	n := binary.LittleEndian.Uint64(head[:])

	header = make([]byte, headerSize)
	if err := readFull(r, header); err != nil {
		return nil, true, fmt.Errorf("reading header of %s: %w", path, err)
	}

	buf := make([]byte, layout.Size)
	for i := uint64(0); i < n; i++ {
		if err := readFull(r, buf); err != nil {
			return nil, true, fmt.Errorf("reading record %d of %d from %s: %w", i, n, path, err)
		}
		each(layout.Get(buf))
	}
	return header, true, nil
}

func readFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrTruncated, err)
	}
	return err
}
