// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package smr

import (
	"os"

	"golang.org/x/sys/unix"

	"periph.io/x/m2sdr/dmaerr"
)

// File is an SMR backed by a real mmap'ed file, for inter-process
// handoff (spec.md §6 "SMR file format"). It keeps the fd and mapping
// alive for the lifetime of the File, the same "scoped acquisition"
// discipline host/pmem.View uses for physical-memory mappings.
type File struct {
	*Ring
	f   *os.File
	mem []byte
}

// Create creates (or truncates) path, sized for the given configuration,
// maps it, and initializes the header as the producer. The caller owns
// the returned File and must Close it to release the mapping and fd;
// the file itself is left on disk for late-joining consumers to Open.
func Create(path string, chunkSize, numSlots uint32, numChannels uint16, sampleSize uint32) (*File, error) {
	if numSlots < MinSlots {
		return nil, dmaerr.New(dmaerr.InvalidArgument, "smr", "num_slots %d is below the minimum of %d", numSlots, MinSlots)
	}
	chunkBytes := int64(chunkSize) * int64(sampleSize) * int64(numChannels)
	size := int64(HeaderSize) + int64(numSlots)*chunkBytes

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, dmaerr.Wrap(dmaerr.Io, "smr", err, "creating %s", path)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, dmaerr.Wrap(dmaerr.Io, "smr", err, "truncating %s to %d bytes", path, size)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, dmaerr.Wrap(dmaerr.Io, "smr", err, "mmap %s", path)
	}
	r, err := NewRing(mem)
	if err != nil {
		unix.Munmap(mem)
		f.Close()
		return nil, err
	}
	if err := r.Header.Init(chunkSize, numSlots, numChannels, sampleSize); err != nil {
		unix.Munmap(mem)
		f.Close()
		return nil, err
	}
	return &File{Ring: r, f: f, mem: mem}, nil
}

// Open joins an existing SMR file as a consumer (or a second-process
// producer). It validates the header against the expected configuration
// per spec.md §7 ("SMR producer/consumer mismatches ... are detected at
// open"); pass 0 for any field to skip validating it.
func Open(path string, wantChunkSize, wantNumChannels, wantSampleSize uint32) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, dmaerr.Wrap(dmaerr.Io, "smr", err, "opening %s", path)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, dmaerr.Wrap(dmaerr.Io, "smr", err, "stat %s", path)
	}
	if fi.Size() < HeaderSize {
		f.Close()
		return nil, dmaerr.New(dmaerr.InvalidArgument, "smr", "%s is smaller than the SMR header", path)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, dmaerr.Wrap(dmaerr.Io, "smr", err, "mmap %s", path)
	}
	r, err := NewRing(mem)
	if err != nil {
		unix.Munmap(mem)
		f.Close()
		return nil, err
	}
	if wantChunkSize != 0 && r.Header.ChunkSize() != wantChunkSize {
		unix.Munmap(mem)
		f.Close()
		return nil, dmaerr.New(dmaerr.InvalidArgument, "smr", "chunk_size mismatch: file has %d, want %d", r.Header.ChunkSize(), wantChunkSize)
	}
	if wantNumChannels != 0 && uint32(r.Header.NumChannels()) != wantNumChannels {
		unix.Munmap(mem)
		f.Close()
		return nil, dmaerr.New(dmaerr.InvalidArgument, "smr", "num_channels mismatch: file has %d, want %d", r.Header.NumChannels(), wantNumChannels)
	}
	if wantSampleSize != 0 && r.Header.SampleSize() != wantSampleSize {
		unix.Munmap(mem)
		f.Close()
		return nil, dmaerr.New(dmaerr.InvalidArgument, "smr", "sample_size mismatch: file has %d, want %d", r.Header.SampleSize(), wantSampleSize)
	}
	if fi.Size() < r.Header.FileSize() {
		unix.Munmap(mem)
		f.Close()
		return nil, dmaerr.New(dmaerr.InvalidArgument, "smr", "%s is truncated relative to its own header: have %d bytes, want %d", path, fi.Size(), r.Header.FileSize())
	}
	return &File{Ring: r, f: f, mem: mem}, nil
}

// Close unmaps the file and closes the descriptor. It does not delete
// the file: per spec.md §3 Lifecycles, consumers may join and leave
// without destroying the SMR, and only the producer's process lifetime
// governs when the backing file stops being useful.
func (f *File) Close() error {
	err := unix.Munmap(f.mem)
	if cerr := f.f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return dmaerr.Wrap(dmaerr.Io, "smr", err, "closing SMR file")
	}
	return nil
}
