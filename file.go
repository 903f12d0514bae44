package audiodev

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// File is one open of a device node.
type File struct {
	dev   *Device
	id    uuid.UUID
	node  Node
	flags int
	proc  Proc

	// Protected by the thread lock.
	mode       Mode
	ptrack     *Track
	rtrack     *Track
	nonblock   bool
	async      bool
	closing    bool
	closed     bool
	inflight   int
	idle       waitq
	lastBlocks [AUMODE_RECORD + 1]uint64
}

// ID returns the identity of the open, as used in log records.
func (f *File) ID() uuid.UUID {
	return f.id
}

// Node returns the node the file was opened through.
func (f *File) Node() Node {
	return f.node
}

// Mode returns the track directions of the file.
func (f *File) Mode() Mode {
	f.dev.lock.Lock()
	defer f.dev.lock.Unlock()

	return f.mode
}

// begin takes the thread lock and registers an operation on f.
func (f *File) begin() (*Device, error) {
	if f == nil || f.dev == nil {
		return nil, ErrBadDescriptor
	}
	d := f.dev
	d.lock.Lock()
	if f.closed || f.closing {
		d.lock.Unlock()
		return nil, ErrBadDescriptor
	}
	if d.dying {
		d.lock.Unlock()
		return nil, ErrDeviceGone
	}
	f.inflight++

	return d, nil
}

// end finishes an operation started with begin and releases the thread lock.
func (f *File) end() {
	f.inflight--
	if f.inflight == 0 {
		f.idle.broadcast()
	}
	f.dev.lock.Unlock()
}

// cancelled reports whether a sleeping operation must give up.
func (f *File) cancelled() bool {
	return f.closing || f.dev.dying
}

// Write writes p to the playback track.
func (f *File) Write(p []byte) (int, error) {
	return f.WriteContext(context.Background(), p)
}

// WriteContext writes p to the playback track, blocking while the user ring is full
// unless the file is non-blocking. Cancelling ctx returns the bytes written so far
// together with ErrInterrupted.
func (f *File) WriteContext(ctx context.Context, p []byte) (int, error) {
	d, err := f.begin()
	if err != nil {
		return 0, err
	}
	defer f.end()

	t := f.ptrack
	if t == nil {
		return 0, fmt.Errorf("write: not open for playback: %w", ErrBadDescriptor)
	}
	m := t.mixer

	if len(p) == 0 {
		d.intrLock.Lock()
		t.eof++
		d.intrLock.Unlock()
		return 0, nil
	}

	total := 0
	for len(p) > 0 {
		d.intrLock.Lock()
		if m.failed != nil {
			d.intrLock.Unlock()
			return total, ErrIO
		}
		n := t.enqueue(p)
		if n > 0 && !t.paused {
			m.start()
		}
		ch := t.wq.wait()
		d.intrLock.Unlock()

		total += n
		p = p[n:]
		if len(p) == 0 || n > 0 {
			continue
		}

		if f.nonblock {
			if total == 0 {
				return 0, ErrWouldBlock
			}
			return total, nil
		}
		if err := sleep(ctx, &d.lock, ch, 0); err != nil {
			return total, fmt.Errorf("%w: %w", ErrInterrupted, err)
		}
		if f.cancelled() {
			return total, ErrIO
		}
	}

	return total, nil
}

// Read reads recorded data.
func (f *File) Read(p []byte) (int, error) {
	return f.ReadContext(context.Background(), p)
}

// ReadContext reads whole frames from the record track, blocking until at least one
// frame is available unless the file is non-blocking.
func (f *File) ReadContext(ctx context.Context, p []byte) (int, error) {
	d, err := f.begin()
	if err != nil {
		return 0, err
	}
	defer f.end()

	t := f.rtrack
	if t == nil {
		return 0, fmt.Errorf("read: not open for recording: %w", ErrBadDescriptor)
	}
	m := t.mixer

	if uint(len(p)) < t.usrbuf.fmt.FramesToBytes(t.usrbuf.fmt.FrameAlign()) {
		return 0, nil
	}

	for {
		d.intrLock.Lock()
		if m.failed != nil {
			d.intrLock.Unlock()
			return 0, ErrIO
		}
		n := t.dequeue(p)
		if !t.paused {
			m.startInput()
		}
		ch := t.wq.wait()
		d.intrLock.Unlock()

		if n > 0 {
			return n, nil
		}
		if f.nonblock {
			return 0, ErrWouldBlock
		}
		if err := sleep(ctx, &d.lock, ch, 0); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrInterrupted, err)
		}
		if f.cancelled() {
			return 0, ErrIO
		}
	}
}

// Close drains the playback track and releases the file. It waits for operations
// still running on f to return first.
func (f *File) Close() error {
	if f == nil || f.dev == nil {
		return ErrBadDescriptor
	}
	d := f.dev
	d.lock.Lock()
	defer d.lock.Unlock()

	if f.closed || f.closing {
		return ErrBadDescriptor
	}
	f.closing = true

	d.intrLock.Lock()
	for _, t := range []*Track{f.ptrack, f.rtrack} {
		if t != nil {
			t.wq.broadcast()
		}
	}
	d.intrLock.Unlock()

	for f.inflight > 0 {
		ch := f.idle.wait()
		_ = sleep(context.Background(), &d.lock, ch, 0)
	}

	if f.ptrack != nil || f.rtrack != nil {
		d.closeTracks(f)
	}
	if f.node == NodeMixer {
		d.setMixerAsync(f, false)
	}
	delete(d.files, f)
	f.closed = true
	if f.async {
		d.publishAsync()
	}
	d.log.Debug("close", "file", f.id, "node", f.node.String())

	return nil
}

// ready returns the poll events f currently satisfies. Caller holds the thread lock.
func (f *File) ready() int16 {
	d := f.dev
	if d.dying {
		return unix.POLLHUP
	}

	d.intrLock.Lock()
	defer d.intrLock.Unlock()

	var revents int16
	if t := f.rtrack; t != nil && t.usrbuf.Used() > 0 {
		revents |= unix.POLLIN | POLLRDNORM
	}
	if t := f.ptrack; t != nil && t.usrbuf.Free() >= t.usrBlkFrames {
		revents |= unix.POLLOUT | POLLWRNORM
	}
	if f.ptrack != nil && f.ptrack.mixer.failed != nil {
		revents |= unix.POLLERR
	}

	return revents
}

// Poll returns the subset of events that are ready now.
func (f *File) Poll(events int16) int16 {
	d, err := f.begin()
	if err != nil {
		return unix.POLLNVAL
	}
	defer f.end()

	if d.dying {
		return unix.POLLHUP
	}

	return f.ready() & (events | unix.POLLHUP | unix.POLLERR)
}

// Wait blocks until one of events is ready or ctx is done.
func (f *File) Wait(ctx context.Context, events int16) (int16, error) {
	d, err := f.begin()
	if err != nil {
		return unix.POLLNVAL, err
	}
	defer f.end()

	for {
		if revents := f.ready() & (events | unix.POLLHUP | unix.POLLERR); revents != 0 {
			return revents, nil
		}

		var pch, rch <-chan struct{}
		d.intrLock.Lock()
		if f.ptrack != nil {
			pch = f.ptrack.wq.wait()
		}
		if f.rtrack != nil {
			rch = f.rtrack.wq.wait()
			if !f.rtrack.paused {
				f.rtrack.mixer.startInput()
			}
		}
		d.intrLock.Unlock()

		d.lock.Unlock()
		select {
		case <-pch:
		case <-rch:
		case <-ctx.Done():
			d.lock.Lock()
			return 0, fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
		}
		d.lock.Lock()

		if f.closing {
			return 0, ErrIO
		}
	}
}

// Kqueue filters accepted by KqFilter.
const (
	EVFILT_READ  = -1
	EVFILT_WRITE = -2
)

// Normal-data poll events, with their BSD values. Linux only defines the epoll variants.
const (
	POLLRDNORM = 0x40
	POLLWRNORM = 0x100
)

// Knote is a registered kqueue style filter on a file.
type Knote struct {
	file   *File
	filter int
}

// KqFilter registers a read or write filter on f.
func (f *File) KqFilter(filter int) (*Knote, error) {
	if _, err := f.begin(); err != nil {
		return nil, err
	}
	defer f.end()

	switch filter {
	case EVFILT_READ:
		if f.rtrack == nil {
			return nil, fmt.Errorf("kqfilter: not open for recording: %w", ErrInvalidParameter)
		}
	case EVFILT_WRITE:
		if f.ptrack == nil {
			return nil, fmt.Errorf("kqfilter: not open for playback: %w", ErrInvalidParameter)
		}
	default:
		return nil, fmt.Errorf("kqfilter %d: %w", filter, ErrInvalidParameter)
	}

	return &Knote{file: f, filter: filter}, nil
}

// Event reports whether the filter fires and the byte count it carries: bytes readable
// for EVFILT_READ and bytes writable for EVFILT_WRITE. A closed file reports EOF.
func (kn *Knote) Event() (data int64, fired bool, eof bool) {
	f := kn.file
	d, err := f.begin()
	if err != nil {
		return 0, true, true
	}
	defer f.end()

	d.intrLock.Lock()
	defer d.intrLock.Unlock()

	switch kn.filter {
	case EVFILT_READ:
		t := f.rtrack
		n := int64(t.usrbuf.Bytes())
		return n, n > 0, false
	default:
		t := f.ptrack
		n := int64(t.usrbuf.fmt.FramesToBytes(t.usrbuf.Free()))
		return n, t.usrbuf.Free() >= t.usrBlkFrames, false
	}
}
