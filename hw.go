package audiodev

// Mode is a set of AUMODE_* flags describing the directions of an open.
type Mode uint32

const (
	AUMODE_PLAY     Mode = 0x01 // Playback.
	AUMODE_RECORD   Mode = 0x02 // Recording.
	AUMODE_PLAY_ALL Mode = 0x04 // Fill underruns with silence instead of pausing.
)

// Props is a set of AUDIO_PROP_* device capabilities.
type Props uint32

const (
	AUDIO_PROP_FULLDUPLEX  Props = 0x01
	AUDIO_PROP_MMAP        Props = 0x02
	AUDIO_PROP_INDEPENDENT Props = 0x04
	AUDIO_PROP_PLAYBACK    Props = 0x10
	AUDIO_PROP_CAPTURE     Props = 0x20
)

// FormatDesc is one hardware format advertised by a backend.
type FormatDesc struct {
	Mode      Mode
	Encoding  Encoding
	Precision uint
	Stride    uint
	Channels  uint
	// Rates lists discrete rates. When empty, MinRate and MaxRate give a continuous range.
	Rates   []uint
	MinRate uint
	MaxRate uint
}

// SupportsRate reports whether the format can run at rate.
func (d FormatDesc) SupportsRate(rate uint) bool {
	if len(d.Rates) == 0 {
		return rate >= d.MinRate && rate <= d.MaxRate
	}
	for _, r := range d.Rates {
		if r == rate {
			return true
		}
	}

	return false
}

// DeviceInfo identifies the hardware, as returned by AUDIO_GETDEV.
type DeviceInfo struct {
	Name    string
	Version string
	Config  string
}

// MixerType is the kind of a mixer control.
type MixerType int32

const (
	AUDIO_MIXER_CLASS MixerType = 0
	AUDIO_MIXER_ENUM  MixerType = 1
	AUDIO_MIXER_SET   MixerType = 2
	AUDIO_MIXER_VALUE MixerType = 3

	// AUDIO_MIXER_LAST terminates the next/prev chains of MixerDevinfo.
	AUDIO_MIXER_LAST = -1
)

const (
	AUDIO_MIN_GAIN = 0
	AUDIO_MAX_GAIN = 255
)

// MixerMember is one choice of an enum or set control.
type MixerMember struct {
	Label string
	Ord   int // Enum ordinal or set mask bit.
}

// MixerValueInfo describes a value control.
type MixerValueInfo struct {
	Units       string
	NumChannels int
	Delta       int
}

// MixerDevinfo describes one control of the backend's mixer graph.
type MixerDevinfo struct {
	Index   int
	Type    MixerType
	Class   int
	Label   string
	Next    int
	Prev    int
	Members []MixerMember // AUDIO_MIXER_ENUM and AUDIO_MIXER_SET.
	Value   MixerValueInfo
}

// MixerCtrl carries the value of one control.
type MixerCtrl struct {
	Dev    int
	Type   MixerType
	Ord    int     // AUDIO_MIXER_ENUM.
	Mask   int     // AUDIO_MIXER_SET.
	Levels []uint8 // AUDIO_MIXER_VALUE, one level per channel.
}

// HWBackend is the hardware driver consumed by a Device.
//
// StartOutput and StartInput hand one block to the hardware and must return without
// waiting for it. The done callback is invoked exactly once per block from a goroutine
// other than the caller's, after the block has been played or filled. The device serializes
// all calls; backends must not call back into the Device from inside a method.
type HWBackend interface {
	// Open prepares the hardware for the given directions.
	Open(mode Mode) error
	// Close releases the hardware after the last open is gone.
	Close() error
	// QueryFormat returns the index'th supported format, or ErrInvalidParameter past the end.
	QueryFormat(index int) (FormatDesc, error)
	// SetFormat configures the hardware formats for the given directions.
	SetFormat(mode Mode, play, rec Format) error
	StartOutput(block []byte, done func()) error
	StartInput(block []byte, done func()) error
	HaltOutput() error
	HaltInput() error
	// QueryDevinfo returns the index'th mixer control, or ErrInvalidParameter past the end.
	QueryDevinfo(index int) (MixerDevinfo, error)
	GetPort(ctrl *MixerCtrl) error
	SetPort(ctrl *MixerCtrl) error
	GetProps() Props
	GetDev() (DeviceInfo, error)
}

// SettingsCommitter is implemented by backends that batch mixer writes.
type SettingsCommitter interface {
	CommitSettings() error
}

// DevIoctler is implemented by backends that handle device specific ioctls.
type DevIoctler interface {
	DevIoctl(cmd uint, arg any) error
}
