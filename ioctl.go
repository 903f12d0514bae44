package audiodev

import (
	"context"
	"errors"
	"fmt"
	"unsafe"
)

// BSD ioctl request layout: the low 16 bits carry group and number, bits 16..28 the
// parameter size and the top three bits the direction.
const (
	IOCPARM_MASK = 0x1fff
	IOC_VOID     = 0x20000000
	IOC_OUT      = 0x40000000
	IOC_IN       = 0x80000000
	IOC_INOUT    = IOC_IN | IOC_OUT
)

// ioc builds a request code.
func ioc(inout, group, num, size uintptr) uintptr {
	return inout | ((size & IOCPARM_MASK) << 16) | (group << 8) | num
}

// iocVoid builds a request code for a command with no data transfer.
func iocVoid(group, num uintptr) uintptr {
	return ioc(IOC_VOID, group, num, 0)
}

// iocR builds a request code for a command that returns data.
func iocR(group, num, size uintptr) uintptr {
	return ioc(IOC_OUT, group, num, size)
}

// iocW builds a request code for a command that takes data.
func iocW(group, num, size uintptr) uintptr {
	return ioc(IOC_IN, group, num, size)
}

// iocRW builds a request code for a command that takes and returns data.
func iocRW(group, num, size uintptr) uintptr {
	return ioc(IOC_INOUT, group, num, size)
}

// Offset is the argument of AUDIO_GETIOFFS and AUDIO_GETOOFFS.
type Offset struct {
	Samples   uint64 // User bytes transferred.
	Deltablks uint   // Blocks since the last call.
	Offset    uint   // Byte position in the user ring.
}

// Ioctl request codes.
var (
	AUDIO_GETINFO    uintptr
	AUDIO_SETINFO    uintptr
	AUDIO_DRAIN      uintptr
	AUDIO_FLUSH      uintptr
	AUDIO_WSEEK      uintptr
	AUDIO_RERROR     uintptr
	AUDIO_GETDEV     uintptr
	AUDIO_GETENC     uintptr
	AUDIO_GETFD      uintptr
	AUDIO_SETFD      uintptr
	AUDIO_PERROR     uintptr
	AUDIO_GETIOFFS   uintptr
	AUDIO_GETOOFFS   uintptr
	AUDIO_GETPROPS   uintptr
	AUDIO_GETBUFINFO uintptr
	AUDIO_GETFORMAT  uintptr

	AUDIO_MIXER_READ    uintptr
	AUDIO_MIXER_WRITE   uintptr
	AUDIO_MIXER_DEVINFO uintptr

	FIOASYNC uintptr
	FIONBIO  uintptr
	FIONREAD uintptr
)

func init() {
	var (
		info   Info
		dev    DeviceInfo
		enc    EncodingInfo
		off    Offset
		ctrl   MixerCtrl
		devinf MixerDevinfo
		i      int
		u      uint
		u64    uint64
	)

	AUDIO_GETINFO = iocR('A', 21, unsafe.Sizeof(info))
	AUDIO_SETINFO = iocRW('A', 22, unsafe.Sizeof(info))
	AUDIO_DRAIN = iocVoid('A', 23)
	AUDIO_FLUSH = iocVoid('A', 24)
	AUDIO_WSEEK = iocR('A', 25, unsafe.Sizeof(u))
	AUDIO_RERROR = iocR('A', 26, unsafe.Sizeof(u64))
	AUDIO_GETDEV = iocR('A', 27, unsafe.Sizeof(dev))
	AUDIO_GETENC = iocRW('A', 28, unsafe.Sizeof(enc))
	AUDIO_GETFD = iocR('A', 29, unsafe.Sizeof(i))
	AUDIO_SETFD = iocRW('A', 30, unsafe.Sizeof(i))
	AUDIO_PERROR = iocR('A', 31, unsafe.Sizeof(u64))
	AUDIO_GETIOFFS = iocR('A', 32, unsafe.Sizeof(off))
	AUDIO_GETOOFFS = iocR('A', 33, unsafe.Sizeof(off))
	AUDIO_GETPROPS = iocR('A', 34, unsafe.Sizeof(i))
	AUDIO_GETBUFINFO = iocR('A', 35, unsafe.Sizeof(info))
	AUDIO_GETFORMAT = iocR('A', 39, unsafe.Sizeof(info))

	AUDIO_MIXER_READ = iocRW('M', 0, unsafe.Sizeof(ctrl))
	AUDIO_MIXER_WRITE = iocRW('M', 1, unsafe.Sizeof(ctrl))
	AUDIO_MIXER_DEVINFO = iocRW('M', 2, unsafe.Sizeof(devinf))

	FIOASYNC = iocW('f', 125, unsafe.Sizeof(i))
	FIONBIO = iocW('f', 126, unsafe.Sizeof(i))
	FIONREAD = iocR('f', 127, unsafe.Sizeof(i))
}

// argError reports an ioctl argument of the wrong type.
func argError(cmd uintptr, arg any) error {
	return fmt.Errorf("ioctl %#x: unexpected argument %T: %w", cmd, arg, ErrInvalidParameter)
}

// Ioctl performs the request cmd. arg must be a pointer of the type the request uses:
// *Info, *DeviceInfo, *EncodingInfo, *Offset, *MixerCtrl, *MixerDevinfo, *Props,
// *int, *uint, *uint64, or nil for requests without data.
func (f *File) Ioctl(cmd uintptr, arg any) error {
	return f.IoctlContext(context.Background(), cmd, arg)
}

// IoctlContext is Ioctl with a context that interrupts AUDIO_DRAIN.
func (f *File) IoctlContext(ctx context.Context, cmd uintptr, arg any) error {
	d, err := f.begin()
	if err != nil {
		return err
	}
	defer f.end()

	switch cmd {
	case AUDIO_MIXER_READ, AUDIO_MIXER_WRITE:
		c, ok := arg.(*MixerCtrl)
		if !ok || c == nil {
			return argError(cmd, arg)
		}
		if cmd == AUDIO_MIXER_READ {
			return d.mixerRead(c)
		}
		return d.mixerWrite(c, f)
	case AUDIO_MIXER_DEVINFO:
		di, ok := arg.(*MixerDevinfo)
		if !ok || di == nil {
			return argError(cmd, arg)
		}
		v, err := d.mixerDevinfo(di.Index)
		if err != nil {
			return err
		}
		*di = v
		return nil
	case FIOASYNC:
		v, ok := arg.(*int)
		if !ok || v == nil {
			return argError(cmd, arg)
		}
		f.async = *v != 0
		if f.node == NodeMixer {
			d.setMixerAsync(f, f.async)
		} else {
			d.publishAsync()
		}
		return nil
	}

	if f.node == NodeMixer {
		return f.devIoctl(cmd, arg)
	}

	switch cmd {
	case AUDIO_GETINFO, AUDIO_GETBUFINFO, AUDIO_GETFORMAT:
		info, ok := arg.(*Info)
		if !ok || info == nil {
			return argError(cmd, arg)
		}
		switch cmd {
		case AUDIO_GETFORMAT:
			d.getFormat(info)
		default:
			d.getInfo(f, info, cmd == AUDIO_GETBUFINFO)
		}
		return nil
	case AUDIO_SETINFO:
		info, ok := arg.(*Info)
		if !ok || info == nil {
			return argError(cmd, arg)
		}
		if err := d.setInfo(f, info); err != nil {
			return err
		}
		d.getInfo(f, info, false)
		return nil
	case AUDIO_DRAIN:
		if f.ptrack == nil {
			return nil
		}
		return d.drainTrack(ctx, f, f.ptrack)
	case AUDIO_FLUSH:
		d.flush(f)
		return nil
	case AUDIO_WSEEK:
		v, ok := arg.(*uint)
		if !ok || v == nil {
			return argError(cmd, arg)
		}
		*v = 0
		if t := f.ptrack; t != nil {
			d.intrLock.Lock()
			*v = t.usrbuf.Bytes() + uint(t.subUsed)
			d.intrLock.Unlock()
		}
		return nil
	case AUDIO_RERROR, AUDIO_PERROR:
		v, ok := arg.(*uint64)
		if !ok || v == nil {
			return argError(cmd, arg)
		}
		t := f.ptrack
		if cmd == AUDIO_RERROR {
			t = f.rtrack
		}
		*v = 0
		if t != nil {
			d.intrLock.Lock()
			*v = t.dropFrames
			d.intrLock.Unlock()
		}
		return nil
	case AUDIO_GETDEV:
		v, ok := arg.(*DeviceInfo)
		if !ok || v == nil {
			return argError(cmd, arg)
		}
		di, err := d.hw.GetDev()
		if err != nil {
			return fmt.Errorf("get dev failed: %w", err)
		}
		*v = di
		return nil
	case AUDIO_GETENC:
		v, ok := arg.(*EncodingInfo)
		if !ok || v == nil {
			return argError(cmd, arg)
		}
		list := d.encodings()
		if v.Index < 0 || v.Index >= len(list) {
			return ErrInvalidParameter
		}
		*v = list[v.Index]
		return nil
	case AUDIO_GETFD, AUDIO_SETFD:
		v, ok := arg.(*int)
		if !ok || v == nil {
			return argError(cmd, arg)
		}
		full := 0
		if f.ptrack != nil && f.rtrack != nil {
			full = 1
		}
		if cmd == AUDIO_GETFD {
			*v = full
			return nil
		}
		return setFD(full, *v)
	case AUDIO_GETPROPS:
		switch v := arg.(type) {
		case *Props:
			*v = d.props | AUDIO_PROP_MMAP
		case *int:
			*v = int(d.props | AUDIO_PROP_MMAP)
		default:
			return argError(cmd, arg)
		}
		return nil
	case AUDIO_GETIOFFS, AUDIO_GETOOFFS:
		v, ok := arg.(*Offset)
		if !ok || v == nil {
			return argError(cmd, arg)
		}
		t := f.rtrack
		if cmd == AUDIO_GETOOFFS {
			t = f.ptrack
		}
		d.offsets(f, t, v)
		return nil
	case FIONBIO:
		v, ok := arg.(*int)
		if !ok || v == nil {
			return argError(cmd, arg)
		}
		f.nonblock = *v != 0
		return nil
	case FIONREAD:
		v, ok := arg.(*int)
		if !ok || v == nil {
			return argError(cmd, arg)
		}
		*v = 0
		if t := f.rtrack; t != nil {
			d.intrLock.Lock()
			*v = int(t.usrbuf.Bytes())
			d.intrLock.Unlock()
		}
		return nil
	}

	return f.devIoctl(cmd, arg)
}

// devIoctl hands requests the device does not know to the backend.
func (f *File) devIoctl(cmd uintptr, arg any) error {
	if h, ok := f.dev.hw.(DevIoctler); ok {
		return h.DevIoctl(uint(cmd), arg)
	}

	return fmt.Errorf("ioctl %#x: %w", cmd, ErrInvalidParameter)
}

// setFD applies AUDIO_SETFD: only the current duplex setting is accepted.
func setFD(full, want int) error {
	switch {
	case (want != 0) == (full != 0):
		return nil
	case want == 0:
		return fmt.Errorf("set fd: cannot drop to half duplex: %w", ErrInvalidParameter)
	default:
		return fmt.Errorf("set fd: cannot switch to full duplex: %w", ErrNotTTY)
	}
}

// getFormat reports the hardware formats. Caller holds the thread lock.
func (d *Device) getFormat(info *Info) {
	*info = Info{}
	info.Play.fillFormat(d.pfmt)
	info.Record.fillFormat(d.rfmt)
	if d.pmixer != nil {
		info.Play.BufferSize = d.pmixer.hwbuf.fmt.FramesToBytes(d.pmixer.hwbuf.Capacity())
	}
	if d.rmixer != nil {
		info.Record.BufferSize = d.rmixer.hwbuf.fmt.FramesToBytes(d.rmixer.hwbuf.Capacity())
	}
	if d.pmixer != nil {
		info.Blocksize = d.pmixer.blockBytes()
		info.Mode |= AUMODE_PLAY
	}
	if d.rmixer != nil {
		info.Mode |= AUMODE_RECORD
	}
}

// flush discards the buffered data of both tracks of f. Caller holds the thread lock.
func (d *Device) flush(f *File) {
	d.intrLock.Lock()
	defer d.intrLock.Unlock()

	if t := f.ptrack; t != nil {
		t.clear()
		t.dropFrames = 0
		t.paused = false
		d.pmixer.flushIdle(t)
		t.wq.broadcast()
	}
	if t := f.rtrack; t != nil {
		t.clear()
		t.dropFrames = 0
		t.paused = false
		d.rmixer.startInput()
		t.wq.broadcast()
	}
}

// offsets fills the AUDIO_GET[IO]OFFS result for t.
func (d *Device) offsets(f *File, t *Track, v *Offset) {
	*v = Offset{}
	if t == nil {
		return
	}

	d.intrLock.Lock()
	defer d.intrLock.Unlock()

	if t.mode == AUMODE_PLAY {
		v.Samples = t.usrOut
	} else {
		v.Samples = t.inputCounter
	}
	v.Deltablks = uint(t.blocks - f.lastBlocks[t.mode])
	f.lastBlocks[t.mode] = t.blocks
	if t.usrbuf.Capacity() > 0 {
		v.Offset = t.usrbuf.fmt.FramesToBytes(t.usrbuf.head)
	}
}

// Typed helpers.

// GetInfo returns the AUDIO_GETINFO view of the file.
func (f *File) GetInfo() (Info, error) {
	var info Info
	err := f.Ioctl(AUDIO_GETINFO, &info)

	return info, err
}

// GetBufInfo returns the buffer and counter fields of the file.
func (f *File) GetBufInfo() (Info, error) {
	var info Info
	err := f.Ioctl(AUDIO_GETBUFINFO, &info)

	return info, err
}

// SetInfo applies the specified fields of info and updates info with the result.
func (f *File) SetInfo(info *Info) error {
	return f.Ioctl(AUDIO_SETINFO, info)
}

// SetFormat is a shortcut for a SETINFO that only changes the format of the given directions.
func (f *File) SetFormat(mode Mode, format Format) error {
	var info Info
	InitInfo(&info)
	for _, p := range []struct {
		m Mode
		p *PrInfo
	}{{AUMODE_PLAY, &info.Play}, {AUMODE_RECORD, &info.Record}} {
		if mode&p.m == 0 {
			continue
		}
		p.p.Encoding = format.Encoding
		p.p.Precision = format.Precision
		p.p.Channels = format.Channels
		p.p.SampleRate = format.SampleRate
	}

	return f.SetInfo(&info)
}

// Drain waits until everything written has been played.
func (f *File) Drain() error {
	return f.Ioctl(AUDIO_DRAIN, nil)
}

// DrainContext is Drain with a context; cancellation returns ErrInterrupted.
func (f *File) DrainContext(ctx context.Context) error {
	return f.IoctlContext(ctx, AUDIO_DRAIN, nil)
}

// Flush discards all buffered data.
func (f *File) Flush() error {
	return f.Ioctl(AUDIO_FLUSH, nil)
}

// WSeek returns the number of bytes written but not yet taken by the mixer.
func (f *File) WSeek() (uint, error) {
	var v uint
	err := f.Ioctl(AUDIO_WSEEK, &v)

	return v, err
}

// GetProps returns the device properties.
func (f *File) GetProps() (Props, error) {
	var v Props
	err := f.Ioctl(AUDIO_GETPROPS, &v)

	return v, err
}

// GetDev returns the hardware identification.
func (f *File) GetDev() (DeviceInfo, error) {
	var v DeviceInfo
	err := f.Ioctl(AUDIO_GETDEV, &v)

	return v, err
}

// GetEncodings enumerates AUDIO_GETENC until the end of the list.
func (f *File) GetEncodings() ([]EncodingInfo, error) {
	var list []EncodingInfo
	for i := 0; ; i++ {
		v := EncodingInfo{Index: i}
		if err := f.Ioctl(AUDIO_GETENC, &v); err != nil {
			if len(list) > 0 && errors.Is(err, ErrInvalidParameter) {
				return list, nil
			}
			return list, err
		}
		list = append(list, v)
	}
}

// MixerRead reads the value of a mixer control.
func (f *File) MixerRead(c *MixerCtrl) error {
	return f.Ioctl(AUDIO_MIXER_READ, c)
}

// MixerWrite sets the value of a mixer control.
func (f *File) MixerWrite(c *MixerCtrl) error {
	return f.Ioctl(AUDIO_MIXER_WRITE, c)
}

// MixerDevinfo returns the description of mixer control index.
func (f *File) MixerDevinfo(index int) (MixerDevinfo, error) {
	v := MixerDevinfo{Index: index}
	err := f.Ioctl(AUDIO_MIXER_DEVINFO, &v)

	return v, err
}

// SetAsync enables or disables SIGIO delivery.
func (f *File) SetAsync(on bool) error {
	v := 0
	if on {
		v = 1
	}

	return f.Ioctl(FIOASYNC, &v)
}

// SetNonblock switches the file between blocking and non-blocking I/O.
func (f *File) SetNonblock(on bool) error {
	v := 0
	if on {
		v = 1
	}

	return f.Ioctl(FIONBIO, &v)
}
