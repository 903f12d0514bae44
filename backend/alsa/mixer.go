package alsa

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unsafe"

	"github.com/gen2brain/audiodev"
)

// Mixer classes. Every card gets the same three.
const (
	ClassOutputs = iota
	ClassInputs
	ClassRecord
)

const clongSize = int(unsafe.Sizeof(clong(0)))

// ctl is one element of the card's control interface.
type ctl struct {
	id       sndCtlElemId
	typ      MixerCtlType
	count    int
	min, max int64
	// mute marks a playback or capture switch, exposed with on meaning muted.
	mute bool
}

// mixer maps the control interface of a card to a mixer graph.
type mixer struct {
	file     *os.File
	cardInfo sndCtlCardInfo
	devinfo  []audiodev.MixerDevinfo
	ctls     []*ctl // Parallel to devinfo, nil for classes.
}

// openMixer opens the control device of a card and enumerates its mixer elements.
func openMixer(card uint) (*mixer, error) {
	path := fmt.Sprintf("/dev/snd/controlC%d", card)
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open mixer device %s: %w", path, err)
	}

	m := &mixer{file: file}
	if err := ioctl(m.file.Fd(), SNDRV_CTL_IOCTL_CARD_INFO, uintptr(unsafe.Pointer(&m.cardInfo))); err != nil {
		_ = m.Close()

		return nil, fmt.Errorf("ioctl CARD_INFO failed: %w", err)
	}

	m.addClass(ClassOutputs, "outputs")
	m.addClass(ClassInputs, "inputs")
	m.addClass(ClassRecord, "record")
	if err := m.enumerate(); err != nil {
		_ = m.Close()

		return nil, fmt.Errorf("failed to enumerate controls: %w", err)
	}

	return m, nil
}

// Close closes the control device.
func (m *mixer) Close() error {
	if m == nil || m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil

	return err
}

// Name returns the name of the sound card.
func (m *mixer) Name() string {
	return cString(m.cardInfo.Name[:])
}

func (m *mixer) addClass(index int, label string) {
	m.devinfo = append(m.devinfo, audiodev.MixerDevinfo{
		Index: index,
		Type:  audiodev.AUDIO_MIXER_CLASS,
		Class: index,
		Label: label,
		Next:  audiodev.AUDIO_MIXER_LAST,
		Prev:  audiodev.AUDIO_MIXER_LAST,
	})
	m.ctls = append(m.ctls, nil)
}

// enumerate gets the information for every readable and writable mixer element.
func (m *mixer) enumerate() error {
	list := &sndCtlElemList{}

	// First call: get the count of controls
	if err := ioctl(m.file.Fd(), SNDRV_CTL_IOCTL_ELEM_LIST, uintptr(unsafe.Pointer(list))); err != nil {
		return fmt.Errorf("ioctl ELEM_LIST (get count) failed: %w", err)
	}
	if list.Count == 0 {
		return nil
	}

	// Second call: get the actual control IDs
	ids := make([]sndCtlElemId, list.Count)
	list.Space = list.Count
	list.Pids = uintptr(unsafe.Pointer(&ids[0]))
	if err := ioctl(m.file.Fd(), SNDRV_CTL_IOCTL_ELEM_LIST, uintptr(unsafe.Pointer(list))); err != nil {
		return fmt.Errorf("ioctl ELEM_LIST (get ids) failed: %w", err)
	}

	seen := make(map[string]int)
	for _, id := range ids[:list.Used] {
		info := sndCtlElemInfo{Id: id}
		if err := ioctl(m.file.Fd(), SNDRV_CTL_IOCTL_ELEM_INFO, uintptr(unsafe.Pointer(&info))); err != nil {
			// Skip controls that we can't read info for
			continue
		}
		const rw = SNDRV_CTL_ELEM_ACCESS_READ | SNDRV_CTL_ELEM_ACCESS_WRITE
		if info.Id.Iface != SNDRV_CTL_ELEM_IFACE_MIXER || info.Access&rw != rw || info.Count == 0 {
			continue
		}
		m.addControl(info, seen)
	}

	return nil
}

// addControl appends a devinfo for one element. Integer elements become values, boolean
// and enumerated elements become enums.
func (m *mixer) addControl(info sndCtlElemInfo, seen map[string]int) {
	name := cString(info.Id.Name[:])
	class, label, mute := controlLabel(name)
	key := strconv.Itoa(class) + "." + label
	if n := seen[key]; n > 0 {
		label += strconv.Itoa(n + 1)
	}
	seen[key]++

	c := &ctl{id: info.Id, typ: info.Typ, count: int(info.Count)}
	di := audiodev.MixerDevinfo{
		Index: len(m.devinfo),
		Class: class,
		Label: label,
		Next:  audiodev.AUDIO_MIXER_LAST,
		Prev:  audiodev.AUDIO_MIXER_LAST,
	}

	switch info.Typ {
	case SNDRV_CTL_ELEM_TYPE_INTEGER:
		c.min, c.max = info.intRange()
		if c.max <= c.min {
			return
		}
		di.Type = audiodev.AUDIO_MIXER_VALUE
		di.Value = audiodev.MixerValueInfo{
			Units:       "volume",
			NumChannels: c.count,
			Delta:       int(max(1, audiodev.AUDIO_MAX_GAIN/(c.max-c.min))),
		}
	case SNDRV_CTL_ELEM_TYPE_BOOLEAN:
		c.mute = mute
		di.Type = audiodev.AUDIO_MIXER_ENUM
		di.Members = []audiodev.MixerMember{{Label: "off", Ord: 0}, {Label: "on", Ord: 1}}
	case SNDRV_CTL_ELEM_TYPE_ENUMERATED:
		di.Type = audiodev.AUDIO_MIXER_ENUM
		for i := range info.enumItems() {
			item := info
			item.setEnumItem(i)
			if err := ioctl(m.file.Fd(), SNDRV_CTL_IOCTL_ELEM_INFO, uintptr(unsafe.Pointer(&item))); err != nil {
				return
			}
			di.Members = append(di.Members, audiodev.MixerMember{Label: sanitize(item.enumName()), Ord: int(i)})
		}
	default:
		return
	}

	m.devinfo = append(m.devinfo, di)
	m.ctls = append(m.ctls, c)
}

// controlLabel maps an element name such as "Master Playback Volume" to a class and
// label such as outputs and "master". Switches get a ".mute" label.
func controlLabel(name string) (class int, label string, mute bool) {
	fields := strings.Fields(strings.ToLower(name))
	switch strings.Join(fields, " ") {
	case "capture source", "input source":
		return ClassRecord, "source", false
	}

	kind := ""
	if n := len(fields); n > 0 && (fields[n-1] == "volume" || fields[n-1] == "switch") {
		kind, fields = fields[n-1], fields[:n-1]
	}
	class = ClassInputs
	if n := len(fields); n > 0 {
		switch fields[n-1] {
		case "playback":
			class, fields = ClassOutputs, fields[:n-1]
		case "capture":
			class, fields = ClassRecord, fields[:n-1]
		}
	}

	label = sanitize(strings.Join(fields, "_"))
	mute = kind == "switch" && class != ClassInputs
	switch {
	case mute && label == "":
		label = "mute"
	case mute:
		label += "." + "mute"
	case label == "":
		label = "volume"
	}

	return class, label, mute
}

// sanitize lowercases s and replaces everything but letters, digits, dots and
// underscores with underscores.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + 'a' - 'A'
		default:
			return '_'
		}
	}, s)
}

// lookup returns the element behind a mixer control, checking its type.
func (m *mixer) lookup(ctrl *audiodev.MixerCtrl) (*ctl, error) {
	if ctrl.Dev < 0 || ctrl.Dev >= len(m.devinfo) || m.ctls[ctrl.Dev] == nil || m.devinfo[ctrl.Dev].Type != ctrl.Type {
		return nil, fmt.Errorf("alsa: control %d: %w", ctrl.Dev, audiodev.ErrInvalidParameter)
	}

	return m.ctls[ctrl.Dev], nil
}

func (m *mixer) read(c *ctl) (*sndCtlElemValue, error) {
	v := &sndCtlElemValue{Id: c.id}
	if err := ioctl(m.file.Fd(), SNDRV_CTL_IOCTL_ELEM_READ, uintptr(unsafe.Pointer(v))); err != nil {
		return nil, fmt.Errorf("ioctl ELEM_READ %q failed: %w", cString(c.id.Name[:]), err)
	}

	return v, nil
}

// get reads the value of a control.
func (m *mixer) get(ctrl *audiodev.MixerCtrl) error {
	c, err := m.lookup(ctrl)
	if err != nil {
		return err
	}
	v, err := m.read(c)
	if err != nil {
		return err
	}

	switch c.typ {
	case SNDRV_CTL_ELEM_TYPE_INTEGER:
		n := len(ctrl.Levels)
		if n == 0 || n > c.count {
			return fmt.Errorf("alsa: control %d: %d channels: %w", ctrl.Dev, n, audiodev.ErrInvalidParameter)
		}
		for i := range ctrl.Levels {
			ctrl.Levels[i] = toLevel(v.integer(i), c.min, c.max)
		}
	case SNDRV_CTL_ELEM_TYPE_BOOLEAN:
		on := v.integer(0) != 0
		ctrl.Ord = 0
		if on != c.mute {
			ctrl.Ord = 1
		}
	case SNDRV_CTL_ELEM_TYPE_ENUMERATED:
		ctrl.Ord = int(v.enumerated(0))
	}

	return nil
}

// set writes the value of a control. A single level sets every channel.
func (m *mixer) set(ctrl *audiodev.MixerCtrl) error {
	c, err := m.lookup(ctrl)
	if err != nil {
		return err
	}
	v, err := m.read(c)
	if err != nil {
		return err
	}

	switch c.typ {
	case SNDRV_CTL_ELEM_TYPE_INTEGER:
		switch len(ctrl.Levels) {
		case 1:
			for i := range c.count {
				v.setInteger(i, fromLevel(ctrl.Levels[0], c.min, c.max))
			}
		case c.count:
			for i, l := range ctrl.Levels {
				v.setInteger(i, fromLevel(l, c.min, c.max))
			}
		default:
			return fmt.Errorf("alsa: control %d: %d channels: %w", ctrl.Dev, len(ctrl.Levels), audiodev.ErrInvalidParameter)
		}
	case SNDRV_CTL_ELEM_TYPE_BOOLEAN, SNDRV_CTL_ELEM_TYPE_ENUMERATED:
		if ctrl.Ord < 0 || ctrl.Ord >= len(m.devinfo[ctrl.Dev].Members) {
			return fmt.Errorf("alsa: control %d: ordinal %d: %w", ctrl.Dev, ctrl.Ord, audiodev.ErrInvalidParameter)
		}
		for i := range c.count {
			if c.typ == SNDRV_CTL_ELEM_TYPE_ENUMERATED {
				v.setEnumerated(i, uint32(ctrl.Ord))
				continue
			}
			var on int64
			if (ctrl.Ord == 1) != c.mute {
				on = 1
			}
			v.setInteger(i, on)
		}
	}

	if err := ioctl(m.file.Fd(), SNDRV_CTL_IOCTL_ELEM_WRITE, uintptr(unsafe.Pointer(v))); err != nil {
		return fmt.Errorf("ioctl ELEM_WRITE %q failed: %w", cString(c.id.Name[:]), err)
	}

	return nil
}

// toLevel scales an element value in [lo, hi] to a gain level.
func toLevel(v, lo, hi int64) uint8 {
	v = min(max(v, lo), hi)

	return uint8(((v-lo)*audiodev.AUDIO_MAX_GAIN + (hi-lo)/2) / (hi - lo))
}

// fromLevel scales a gain level to an element value in [lo, hi].
func fromLevel(l uint8, lo, hi int64) int64 {
	return lo + (int64(l)*(hi-lo)+audiodev.AUDIO_MAX_GAIN/2)/audiodev.AUDIO_MAX_GAIN
}

// intRange returns the bounds of an integer element.
func (info *sndCtlElemInfo) intRange() (int64, int64) {
	return readClong(info.Value[:]), readClong(info.Value[clongSize:])
}

func (info *sndCtlElemInfo) enumItems() uint32 {
	return binary.NativeEndian.Uint32(info.Value[0:])
}

func (info *sndCtlElemInfo) setEnumItem(i uint32) {
	binary.NativeEndian.PutUint32(info.Value[4:], i)
}

func (info *sndCtlElemInfo) enumName() string {
	return cString(info.Value[8:72])
}

func (v *sndCtlElemValue) integer(i int) int64 {
	return readClong(v.Value[i*clongSize:])
}

func (v *sndCtlElemValue) setInteger(i int, x int64) {
	b := v.Value[i*clongSize:]
	if clongSize == 8 {
		binary.NativeEndian.PutUint64(b, uint64(x))
	} else {
		binary.NativeEndian.PutUint32(b, uint32(int32(x)))
	}
}

func (v *sndCtlElemValue) enumerated(i int) uint32 {
	return binary.NativeEndian.Uint32(v.Value[i*4:])
}

func (v *sndCtlElemValue) setEnumerated(i int, x uint32) {
	binary.NativeEndian.PutUint32(v.Value[i*4:], x)
}

func readClong(b []byte) int64 {
	if clongSize == 8 {
		return int64(binary.NativeEndian.Uint64(b))
	}

	return int64(int32(binary.NativeEndian.Uint32(b)))
}

// cString converts a C-style null-terminated byte array to a Go string.
func cString(b []byte) string {
	i := bytes.IndexByte(b, 0)
	if i == -1 {
		return string(b)
	}

	return string(b[:i])
}
