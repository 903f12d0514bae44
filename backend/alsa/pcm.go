package alsa

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// pcmConfig is the hardware setup of one PCM stream.
type pcmConfig struct {
	Format      PcmFormat
	Channels    uint32
	Rate        uint32
	PeriodSize  uint32 // In frames.
	PeriodCount uint32
}

func (c pcmConfig) frameBytes() int {
	return int(c.Format.Bits()/8) * int(c.Channels)
}

// pcm is an open hardware PCM stream using interleaved read/write transfers.
type pcm struct {
	file    *os.File
	capture bool
	config  pcmConfig
	xruns   atomic.Int64
}

// pcmPath returns the device node of a hardware PCM stream.
func pcmPath(card, device uint, capture bool) string {
	streamChar := 'p'
	if capture {
		streamChar = 'c'
	}

	return fmt.Sprintf("/dev/snd/pcmC%dD%d%c", card, device, streamChar)
}

// openPcm opens a hardware PCM stream in blocking mode.
func openPcm(card, device uint, capture bool) (*pcm, error) {
	path := pcmPath(card, device, capture)

	// Always open non-blocking to avoid getting stuck if the device is in use,
	// then clear the flag for blocking transfers.
	file, err := os.OpenFile(path, os.O_RDWR|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCM device %s: %w", path, err)
	}

	flags, err := unix.FcntlInt(file.Fd(), unix.F_GETFL, 0)
	if err == nil {
		_, err = unix.FcntlInt(file.Fd(), unix.F_SETFL, flags&^syscall.O_NONBLOCK)
	}
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("failed to set blocking mode on %s: %w", path, err)
	}

	var info sndPcmInfo
	if err := ioctl(file.Fd(), SNDRV_PCM_IOCTL_INFO, uintptr(unsafe.Pointer(&info))); err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("ioctl INFO failed: %w", err)
	}

	return &pcm{file: file, capture: capture}, nil
}

// Close closes the PCM device handle.
func (p *pcm) Close() error {
	if p == nil || p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil

	return err
}

// setConfig sets the hardware and software parameters. The stream must not be running.
func (p *pcm) setConfig(config pcmConfig) error {
	hwParams := &sndPcmHwParams{}
	paramInit(hwParams)

	paramSetMask(hwParams, SNDRV_PCM_HW_PARAM_ACCESS, SNDRV_PCM_ACCESS_RW_INTERLEAVED)
	paramSetMask(hwParams, SNDRV_PCM_HW_PARAM_FORMAT, uint32(config.Format))
	paramSetInt(hwParams, SNDRV_PCM_HW_PARAM_CHANNELS, config.Channels)
	paramSetInt(hwParams, SNDRV_PCM_HW_PARAM_RATE, config.Rate)
	paramSetInt(hwParams, SNDRV_PCM_HW_PARAM_PERIOD_SIZE, config.PeriodSize)
	paramSetInt(hwParams, SNDRV_PCM_HW_PARAM_PERIODS, config.PeriodCount)

	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_HW_PARAMS, uintptr(unsafe.Pointer(hwParams))); err != nil {
		return fmt.Errorf("ioctl HW_PARAMS (%s %dch %dHz, period %d x %d) failed: %w",
			config.Format, config.Channels, config.Rate, config.PeriodSize, config.PeriodCount, err)
	}

	// The driver may have narrowed the geometry.
	config.PeriodSize = paramGetInt(hwParams, SNDRV_PCM_HW_PARAM_PERIOD_SIZE)
	config.PeriodCount = paramGetInt(hwParams, SNDRV_PCM_HW_PARAM_PERIODS)
	if config.PeriodSize == 0 || config.PeriodCount == 0 {
		return fmt.Errorf("driver finalized invalid PCM configuration (PeriodSize=%d, PeriodCount=%d)",
			config.PeriodSize, config.PeriodCount)
	}
	bufferSize := config.PeriodSize * config.PeriodCount

	swParams := &sndPcmSwParams{
		TstampMode: SNDRV_PCM_TSTAMP_ENABLE,
		PeriodStep: 1,
		AvailMin:   sndPcmUframesT(config.PeriodSize),
		XferAlign:  1,
	}
	if p.capture {
		swParams.StartThreshold = 1
		swParams.StopThreshold = sndPcmUframesT(bufferSize)
	} else {
		// Start as soon as one period is queued.
		swParams.StartThreshold = sndPcmUframesT(config.PeriodSize)
		swParams.StopThreshold = sndPcmUframesT(bufferSize)
	}

	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_SW_PARAMS, uintptr(unsafe.Pointer(swParams))); err != nil {
		return fmt.Errorf("ioctl SW_PARAMS failed: %w", err)
	}
	p.config = config

	return nil
}

// prepare readies the stream for I/O. It also recovers from an xrun.
func (p *pcm) prepare() error {
	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_PREPARE, 0); err != nil {
		return fmt.Errorf("ioctl PREPARE failed: %w", err)
	}

	return nil
}

// drop stops the stream immediately, discarding pending frames. Blocked transfers return.
func (p *pcm) drop() error {
	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_DROP, 0); err != nil {
		return fmt.Errorf("ioctl DROP failed: %w", err)
	}

	return nil
}

// delay returns the number of frames queued ahead of the hardware pointer.
func (p *pcm) delay() (int, error) {
	var delay sndPcmSframesT
	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_DELAY, uintptr(unsafe.Pointer(&delay))); err != nil {
		return 0, fmt.Errorf("ioctl DELAY failed: %w", err)
	}

	return int(delay), nil
}

// transfer moves buf, a whole number of frames, to or from the hardware. An xrun is
// recovered by preparing the stream again and counted.
func (p *pcm) transfer(buf []byte) error {
	frameBytes := p.config.frameBytes()
	if frameBytes == 0 || len(buf)%frameBytes != 0 {
		return fmt.Errorf("transfer of %d bytes is not a whole number of %d byte frames", len(buf), frameBytes)
	}
	req := SNDRV_PCM_IOCTL_WRITEI_FRAMES
	if p.capture {
		req = SNDRV_PCM_IOCTL_READI_FRAMES
	}

	defer runtime.KeepAlive(buf)

	frames := len(buf) / frameBytes
	done := 0
	for done < frames {
		xfer := sndXferi{
			Buf:    uintptr(unsafe.Pointer(&buf[done*frameBytes])),
			Frames: sndPcmUframesT(frames - done),
		}
		err := ioctl(p.file.Fd(), req, uintptr(unsafe.Pointer(&xfer)))
		if xfer.Result > 0 {
			done += int(xfer.Result)
		}
		if err == nil {
			continue
		}

		if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ESTRPIPE) {
			p.xruns.Add(1)
			if err := p.prepare(); err != nil {
				return fmt.Errorf("recovery failed: %w", err)
			}

			continue
		}

		if p.capture {
			return fmt.Errorf("ioctl READI_FRAMES failed: %w", err)
		}

		return fmt.Errorf("ioctl WRITEI_FRAMES failed: %w", err)
	}

	return nil
}
