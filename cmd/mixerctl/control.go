package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gen2brain/audiodev"
)

// control is one mixer control with its dotted name, such as "outputs.master".
type control struct {
	audiodev.MixerDevinfo
	Name string
}

// mixer is the subset of audiodev.File the tool talks to.
type mixer interface {
	MixerDevinfo(index int) (audiodev.MixerDevinfo, error)
	MixerRead(c *audiodev.MixerCtrl) error
	MixerWrite(c *audiodev.MixerCtrl) error
}

// loadControls enumerates every control of m except the classes.
func loadControls(m mixer) ([]control, error) {
	var infos []audiodev.MixerDevinfo
	for i := 0; ; i++ {
		di, err := m.MixerDevinfo(i)
		if errors.Is(err, audiodev.ErrInvalidParameter) {
			break
		}
		if err != nil {
			return nil, err
		}
		infos = append(infos, di)
	}

	classes := make(map[int]string)
	for _, di := range infos {
		if di.Type == audiodev.AUDIO_MIXER_CLASS {
			classes[di.Index] = di.Label
		}
	}

	var ctls []control
	for _, di := range infos {
		if di.Type == audiodev.AUDIO_MIXER_CLASS {
			continue
		}
		ctls = append(ctls, control{MixerDevinfo: di, Name: classes[di.Class] + "." + di.Label})
	}

	return ctls, nil
}

func find(ctls []control, name string) (control, error) {
	for _, c := range ctls {
		if c.Name == name {
			return c, nil
		}
	}

	return control{}, fmt.Errorf("no control %q", name)
}

func (c control) ctrl() audiodev.MixerCtrl {
	mc := audiodev.MixerCtrl{Dev: c.Index, Type: c.Type}
	if c.Type == audiodev.AUDIO_MIXER_VALUE {
		mc.Levels = make([]uint8, c.Value.NumChannels)
	}

	return mc
}

// read returns the value of c in the notation write accepts.
func read(m mixer, c control) (string, error) {
	mc := c.ctrl()
	if err := m.MixerRead(&mc); err != nil {
		return "", err
	}

	switch c.Type {
	case audiodev.AUDIO_MIXER_VALUE:
		levels := make([]string, len(mc.Levels))
		for i, l := range mc.Levels {
			levels[i] = strconv.Itoa(int(l))
		}

		return strings.Join(levels, ","), nil
	case audiodev.AUDIO_MIXER_ENUM:
		for _, mem := range c.Members {
			if mem.Ord == mc.Ord {
				return mem.Label, nil
			}
		}

		return strconv.Itoa(mc.Ord), nil
	case audiodev.AUDIO_MIXER_SET:
		var on []string
		for _, mem := range c.Members {
			if mc.Mask&mem.Ord != 0 {
				on = append(on, mem.Label)
			}
		}

		return strings.Join(on, ","), nil
	}

	return "", fmt.Errorf("%s: unknown control type %d", c.Name, c.Type)
}

// write sets c from s. Value controls take one level for every channel or one per channel,
// and a leading "+" or "-" moves the current levels by that many steps of the control's delta.
// Enum controls take a member label or ordinal, set controls a comma separated list of labels.
func write(m mixer, c control, s string) error {
	mc := c.ctrl()

	switch c.Type {
	case audiodev.AUDIO_MIXER_VALUE:
		if err := m.MixerRead(&mc); err != nil {
			return err
		}
		fields := strings.Split(s, ",")
		if len(fields) != 1 && len(fields) != len(mc.Levels) {
			return fmt.Errorf("%s: %d levels for %d channels", c.Name, len(fields), len(mc.Levels))
		}
		for i := range mc.Levels {
			field := fields[min(i, len(fields)-1)]
			l, err := level(field, mc.Levels[i], c.Value.Delta)
			if err != nil {
				return fmt.Errorf("%s: %w", c.Name, err)
			}
			mc.Levels[i] = l
		}
	case audiodev.AUDIO_MIXER_ENUM:
		ord, err := member(c, s)
		if err != nil {
			return err
		}
		mc.Ord = ord
	case audiodev.AUDIO_MIXER_SET:
		if s != "" {
			for _, label := range strings.Split(s, ",") {
				bit, err := member(c, label)
				if err != nil {
					return err
				}
				mc.Mask |= bit
			}
		}
	default:
		return fmt.Errorf("%s: unknown control type %d", c.Name, c.Type)
	}

	return m.MixerWrite(&mc)
}

func level(s string, cur uint8, delta int) (uint8, error) {
	rel := strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid level %q", s)
	}
	if rel {
		n = int(cur) + n*max(delta, 1)
	}

	return uint8(min(max(n, audiodev.AUDIO_MIN_GAIN), audiodev.AUDIO_MAX_GAIN)), nil
}

func member(c control, s string) (int, error) {
	for _, mem := range c.Members {
		if mem.Label == s {
			return mem.Ord, nil
		}
	}
	if c.Type == audiodev.AUDIO_MIXER_ENUM {
		if n, err := strconv.Atoi(s); err == nil {
			return n, nil
		}
	}

	return 0, fmt.Errorf("%s: no member %q", c.Name, s)
}

// describe returns the range or choices of c.
func describe(c control) string {
	switch c.Type {
	case audiodev.AUDIO_MIXER_VALUE:
		units := c.Value.Units
		if units == "" {
			units = "level"
		}

		return fmt.Sprintf("%s, %d channels, delta %d", units, c.Value.NumChannels, c.Value.Delta)
	case audiodev.AUDIO_MIXER_ENUM, audiodev.AUDIO_MIXER_SET:
		labels := make([]string, len(c.Members))
		for i, mem := range c.Members {
			labels[i] = mem.Label
		}
		kind := "one of"
		if c.Type == audiodev.AUDIO_MIXER_SET {
			kind = "any of"
		}

		return kind + " [" + strings.Join(labels, " ") + "]"
	}

	return ""
}
