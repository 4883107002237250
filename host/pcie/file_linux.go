// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build linux

package pcie

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"periph.io/x/m2sdr/conn/dmabuf"
	"periph.io/x/m2sdr/dmaerr"
)

// FileControlChannel talks to a real m2sdr character device
// (/dev/m2sdr<N>c<channel>) via golang.org/x/sys/unix ioctl syscalls,
// encoding each ControlChannel operation as one of the payload structs
// of spec.md §6.
//
// Grounded on host/pmem/mem_linux.go's thin syscall wrapper style, but
// built against golang.org/x/sys/unix instead of bare syscall so the
// same ioctl helper serves both the register and lock/counter ops,
// rather than needing a bespoke syscall.Syscall call site per op.
type FileControlChannel struct {
	f *os.File
}

// OpenFile opens the control device at path (e.g.
// "/dev/m2sdr0c0") for one (device, channel).
func OpenFile(path string) (*FileControlChannel, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, dmaerr.Wrap(dmaerr.Io, "pcie", err, "opening %s", path)
	}
	return &FileControlChannel{f: f}, nil
}

// Close closes the underlying device file.
func (c *FileControlChannel) Close() error {
	if err := c.f.Close(); err != nil {
		return dmaerr.Wrap(dmaerr.Io, "pcie", err, "closing control device")
	}
	return nil
}

// Fd returns the raw file descriptor, for mmap by BufferPool.
func (c *FileControlChannel) Fd() uintptr { return c.f.Fd() }

func ioctl(fd uintptr, op Op, payload unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(op), uintptr(payload))
	if errno != 0 {
		return dmaerr.Wrap(dmaerr.Io, "pcie", errno, "ioctl op %d", op)
	}
	return nil
}

func (c *FileControlChannel) RegRead(addr uint32) (uint32, error) {
	p := RegPayload{Addr: addr, IsWrite: 0}
	if err := ioctl(c.f.Fd(), OpReg, unsafe.Pointer(&p)); err != nil {
		return 0, err
	}
	return p.Val, nil
}

func (c *FileControlChannel) RegWrite(addr uint32, val uint32) error {
	p := RegPayload{Addr: addr, Val: val, IsWrite: 1}
	return ioctl(c.f.Fd(), OpReg, unsafe.Pointer(&p))
}

func (c *FileControlChannel) SetLoopback(enable bool) error {
	p := DMAPayload{LoopbackEnable: boolToU8(enable)}
	return ioctl(c.f.Fd(), OpDMA, unsafe.Pointer(&p))
}

func (c *FileControlChannel) SetDirection(dir dmabuf.Direction, enable bool, hwCount, swCount int64) (int64, int64, error) {
	p := DMADirPayload{Enable: boolToU8(enable), HWCount: hwCount, SWCount: swCount}
	op := OpDMAWriter
	if dir == dmabuf.Rx {
		op = OpDMAReader
	}
	if err := ioctl(c.f.Fd(), op, unsafe.Pointer(&p)); err != nil {
		return 0, 0, err
	}
	return p.HWCount, p.SWCount, nil
}

func (c *FileControlChannel) MMAPDMAInfo() (MMAPInfo, error) {
	var p MMAPInfo
	err := ioctl(c.f.Fd(), OpMMAPDMAInfo, unsafe.Pointer(&p))
	return p, err
}

func (c *FileControlChannel) UpdateSWCount(dir dmabuf.Direction, sw int64) error {
	p := MMAPUpdatePayload{SWCount: sw}
	op := OpMMAPDMAWriterUpdate
	if dir == dmabuf.Rx {
		op = OpMMAPDMAReaderUpdate
	}
	return ioctl(c.f.Fd(), op, unsafe.Pointer(&p))
}

func (c *FileControlChannel) LockRequest(dir dmabuf.Direction) (bool, error) {
	p := LockPayload{}
	if dir == dmabuf.Tx {
		p.WriterRequest = 1
	} else {
		p.ReaderRequest = 1
	}
	if err := ioctl(c.f.Fd(), OpLock, unsafe.Pointer(&p)); err != nil {
		return false, err
	}
	if dir == dmabuf.Tx {
		return p.WriterStatus != 0, nil
	}
	return p.ReaderStatus != 0, nil
}

func (c *FileControlChannel) LockRelease(dir dmabuf.Direction) error {
	p := LockPayload{}
	if dir == dmabuf.Tx {
		p.WriterRelease = 1
	} else {
		p.ReaderRelease = 1
	}
	return ioctl(c.f.Fd(), OpLock, unsafe.Pointer(&p))
}

func (c *FileControlChannel) LockStatus(dir dmabuf.Direction) (bool, error) {
	p := LockPayload{}
	if err := ioctl(c.f.Fd(), OpLock, unsafe.Pointer(&p)); err != nil {
		return false, err
	}
	if dir == dmabuf.Tx {
		return p.WriterStatus != 0, nil
	}
	return p.ReaderStatus != 0, nil
}

func boolToU8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// mmapRegion maps length bytes at offset from fd, matching §6's two
// N*B-byte regions (TX at 0, RX at N*B). Any other offset/length is
// rejected by the kernel mmap handler in the real driver; this helper
// only performs the syscall and is not itself responsible for that
// validation.
func mmapRegion(fd uintptr, offset int64, length int) ([]byte, error) {
	b, err := unix.Mmap(int(fd), offset, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, dmaerr.Wrap(dmaerr.Io, "pcie", err, "mmap offset=%d length=%d", offset, length)
	}
	return b, nil
}

func munmapRegion(b []byte) error {
	if err := unix.Munmap(b); err != nil {
		return dmaerr.Wrap(dmaerr.Io, "pcie", err, "munmap")
	}
	return nil
}
