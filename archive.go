package odb

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/gholt/brimutil"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spaolacci/murmur3"
	"github.com/spf13/afero"
)

// Archive is an external append-only sink: two files, "<base>.dat" (raw
// record bytes, concatenated) and "<base>.ind" (a little-endian uint64
// byte-offset per record into .dat).
type Archive struct {
	fs       afero.Fs
	base     string
	cond     Condition
	cores    int
	interval int

	dat         afero.File
	ind         afero.File
	datWriter   *bufio.Writer
	offset      uint64
	checksummed bool

	SessionID uuid.UUID
}

// OpenArchive creates (or appends to) the .dat/.ind pair rooted at base on
// fs. cond, if non-nil, filters Write calls. Call Checksummed afterward to
// wrap the .dat stream in a multi-core checksummed writer instead of a
// plain bufio.Writer.
func OpenArchive(fs afero.Fs, base string, cond Condition, opts *Options) (*Archive, error) {
	if opts == nil {
		opts = NewOptions("")
	}
	datPath, indPath := base+".dat", base+".ind"

	dat, err := fs.OpenFile(datPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, newArchiveIOFailure(errors.Wrapf(err, "open %s", datPath))
	}
	ind, err := fs.OpenFile(indPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		dat.Close()
		return nil, newArchiveIOFailure(errors.Wrapf(err, "open %s", indPath))
	}

	offset, err := recoverOffset(dat)
	if err != nil {
		dat.Close()
		ind.Close()
		return nil, newArchiveIOFailure(err)
	}

	a := &Archive{
		fs:        fs,
		base:      base,
		cond:      cond,
		cores:     opts.Cores,
		interval:  opts.ChecksumInterval,
		dat:       dat,
		ind:       ind,
		offset:    offset,
		SessionID: uuid.New(),
	}
	a.datWriter = bufio.NewWriter(dat)
	return a, nil
}

// recoverOffset seeks to the end of the .dat file to recover the next
// write offset.
func recoverOffset(dat afero.File) (uint64, error) {
	n, err := dat.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, errors.Wrap(err, "seek archive end")
	}
	return uint64(n), nil
}

// Write appends rec to the archive. If a Condition is configured (cond, or
// else the archive's own) and fails on rec, Write skips it and returns
// false, nil. It returns true only once both the .dat append and the
// matching .ind offset append have succeeded.
func (a *Archive) Write(rec []byte, cond Condition) (bool, error) {
	if cond == nil {
		cond = a.cond
	}
	h := Handle{rec: &record{bytes: rec}}
	if cond != nil && !cond.Eval(h) {
		return false, nil
	}

	preOffset := a.offset
	n, err := a.datWriter.Write(rec)
	if err != nil {
		return false, newArchiveIOFailure(errors.Wrap(err, "write .dat"))
	}
	a.offset += uint64(n)

	var off [8]byte
	binary.LittleEndian.PutUint64(off[:], preOffset)
	if _, err := a.ind.Write(off[:]); err != nil {
		return false, newArchiveIOFailure(errors.Wrap(err, "write .ind"))
	}
	return true, nil
}

// Checksummed wraps a's .dat writer in a multi-core checksummed writer for
// the remainder of the archive's lifetime. Must be called before the
// first Write.
func (a *Archive) Checksummed() {
	interval := a.interval
	if interval < 1024 {
		interval = 65532
	}
	cw := brimutil.NewMultiCoreChecksummedWriter(a.dat, interval, murmur3.New32, a.cores)
	a.datWriter = bufio.NewWriter(cw)
	a.checksummed = true
}

// Flush ensures every buffered write has reached the underlying fs.
func (a *Archive) Flush() error {
	if err := a.datWriter.Flush(); err != nil {
		return newArchiveIOFailure(errors.Wrap(err, "flush .dat"))
	}
	return nil
}

// Close flushes and closes both files. Safe to call once.
func (a *Archive) Close() error {
	if err := a.Flush(); err != nil {
		return err
	}
	if err := a.dat.Close(); err != nil {
		return newArchiveIOFailure(errors.Wrap(err, "close .dat"))
	}
	if err := a.ind.Close(); err != nil {
		return newArchiveIOFailure(errors.Wrap(err, "close .ind"))
	}
	return nil
}

// Reopen closes a and reopens the same base path, re-deriving the .dat
// write offset from the file's true end, so an archive can resume after a
// process restart without replaying its .ind table. If Checksummed had been
// called on a, the reopened Archive is checksummed too, so the .dat stream
// doesn't switch framing partway through.
func (a *Archive) Reopen() (*Archive, error) {
	opts := NewOptions("", OptCores(a.cores))
	opts.ChecksumInterval = a.interval
	checksummed := a.checksummed
	if err := a.Close(); err != nil {
		return nil, err
	}
	reopened, err := OpenArchive(a.fs, a.base, a.cond, opts)
	if err != nil {
		return nil, err
	}
	if checksummed {
		reopened.Checksummed()
	}
	return reopened, nil
}

// Offset reports the current .dat write offset (next record lands here).
func (a *Archive) Offset() uint64 { return a.offset }

func (a *Archive) String() string {
	return fmt.Sprintf("odb.Archive{base=%s offset=%d session=%s}", a.base, a.offset, a.SessionID)
}
