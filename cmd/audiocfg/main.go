package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/sys/unix"

	"github.com/gen2brain/audiodev"
	"github.com/gen2brain/audiodev/backend/alsa"
	"github.com/gen2brain/audiodev/cmd/internal/toolcfg"
)

func main() {
	var (
		tone     float64
		duration time.Duration
	)

	configFile := toolcfg.Flags(flag.CommandLine)
	flag.Float64Var(&tone, "tone", 440, "The frequency of the test tone in Hz")
	flag.DurationVar(&duration, "duration", 2*time.Second, "The length of the test tone")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] list|info|test\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "  list  List the sound cards and their PCM devices.")
		fmt.Fprintln(os.Stderr, "  info  Show the formats, encodings and mixer state of a device.")
		fmt.Fprintln(os.Stderr, "  test  Play a test tone on every channel in turn.")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	v, err := toolcfg.Load(flag.CommandLine, *configFile)
	if err != nil {
		toolcfg.Fatal("%v", err)
	}

	switch flag.Arg(0) {
	case "list":
		err = list()
	case "info":
		err = withDevice(v, info)
	case "test":
		err = withDevice(v, func(d *toolcfg.Device) error { return test(d, tone, duration) })
	default:
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		toolcfg.Fatal("%v", err)
	}
}

func withDevice(v *viper.Viper, fn func(d *toolcfg.Device) error) error {
	log, closer, err := toolcfg.Logger(v)
	if err != nil {
		return err
	}
	defer closer.Close()

	d, err := toolcfg.Open(v, log)
	if err != nil {
		return err
	}

	return errors.Join(fn(d), d.Close())
}

func list() error {
	cards, err := alsa.EnumerateCards()
	if err != nil {
		return err
	}
	for _, c := range cards {
		fmt.Println(toolcfg.Title.Render(fmt.Sprintf("card %d: %s", c.ID, c.Name)), toolcfg.Dim.Render(c.Description))
		for _, dev := range c.Devices {
			fmt.Printf("  %s %s\n", toolcfg.Label.Render(fmt.Sprintf("hw:%d,%d", c.ID, dev.ID)), dev)
		}
	}

	return nil
}

func info(d *toolcfg.Device) error {
	f, err := d.Open(audiodev.NodeAudioCtl, unix.O_RDONLY, toolcfg.Proc())
	if err != nil {
		return err
	}
	defer f.Close()

	dev, err := f.GetDev()
	if err != nil {
		return err
	}
	fmt.Println(toolcfg.Title.Render(dev.Name), toolcfg.Dim.Render(dev.Version+" "+dev.Config))
	fmt.Println(toolcfg.Label.Render("props:"), props(d.Props()))

	fmt.Println(toolcfg.Label.Render("hardware formats:"))
	for i := 0; ; i++ {
		desc, err := d.HW.QueryFormat(i)
		if errors.Is(err, audiodev.ErrInvalidParameter) {
			break
		}
		if err != nil {
			return err
		}
		fmt.Printf("  %s\n", formatDesc(desc))
	}

	encs, err := f.GetEncodings()
	if err != nil {
		return err
	}
	names := make([]string, len(encs))
	for i, e := range encs {
		names[i] = fmt.Sprintf("%s:%d", e.Name, e.Precision)
		if e.Flags&audiodev.AUDIO_ENCODINGFLAG_EMULATED != 0 {
			names[i] = toolcfg.Dim.Render(names[i] + "*")
		}
	}
	fmt.Println(toolcfg.Label.Render("encodings:"), strings.Join(names, " "))

	play, rec := d.Stats()
	for _, s := range []struct {
		name  string
		stats audiodev.MixerStats
	}{{"playback", play}, {"record", rec}} {
		if s.stats.FramesPerBlock == 0 {
			continue
		}
		fmt.Printf("%s %s, %d frames per block, %s\n", toolcfg.Label.Render(s.name+":"),
			s.stats.HWFormat, s.stats.FramesPerBlock, s.stats.State)
	}

	playXruns, recXruns := d.HW.Xruns()
	fmt.Printf("%s %d playback, %d capture\n", toolcfg.Label.Render("xruns:"), playXruns, recXruns)

	return nil
}

func props(p audiodev.Props) string {
	var names []string
	for _, prop := range []struct {
		bit  audiodev.Props
		name string
	}{
		{audiodev.AUDIO_PROP_PLAYBACK, "playback"},
		{audiodev.AUDIO_PROP_CAPTURE, "capture"},
		{audiodev.AUDIO_PROP_FULLDUPLEX, "full-duplex"},
		{audiodev.AUDIO_PROP_INDEPENDENT, "independent"},
		{audiodev.AUDIO_PROP_MMAP, "mmap"},
	} {
		if p&prop.bit != 0 {
			names = append(names, prop.name)
		}
	}

	return strings.Join(names, ", ")
}

func formatDesc(d audiodev.FormatDesc) string {
	var dirs []string
	if d.Mode&audiodev.AUMODE_PLAY != 0 {
		dirs = append(dirs, "play")
	}
	if d.Mode&audiodev.AUMODE_RECORD != 0 {
		dirs = append(dirs, "record")
	}

	rates := fmt.Sprintf("%d-%d Hz", d.MinRate, d.MaxRate)
	if len(d.Rates) > 0 {
		rs := make([]string, len(d.Rates))
		for i, r := range d.Rates {
			rs[i] = fmt.Sprint(r)
		}
		rates = strings.Join(rs, ",") + " Hz"
	}

	return fmt.Sprintf("[%s] %s %d/%d %dch %s", strings.Join(dirs, ","), d.Encoding, d.Precision, d.Stride, d.Channels, rates)
}

// test plays the tone on each channel of the playback format in turn.
func test(d *toolcfg.Device, freq float64, length time.Duration) error {
	f, err := d.Open(audiodev.NodeAudio, unix.O_WRONLY, toolcfg.Proc())
	if err != nil {
		return err
	}
	defer f.Close()

	format := audiodev.Format{
		Encoding:   audiodev.AUDIO_ENCODING_SLINEAR_LE,
		Precision:  16,
		Stride:     16,
		Channels:   2,
		SampleRate: 48000,
	}
	play, _ := d.Stats()
	if play.HWFormat.Channels > 0 {
		format.Channels = play.HWFormat.Channels
		format.SampleRate = play.HWFormat.SampleRate
	}
	if err := f.SetFormat(audiodev.AUMODE_PLAY, format); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for ch := uint(0); ch < format.Channels; ch++ {
		fmt.Printf("  testing channel %d...\n", ch)
		if _, err := f.WriteContext(ctx, toneBlock(format, ch, freq, length)); err != nil {
			return err
		}
		if err := f.DrainContext(ctx); err != nil {
			return err
		}
	}

	return nil
}

// toneBlock returns a half-scale sine of the given length on one channel, silence on the others.
func toneBlock(format audiodev.Format, channel uint, freq float64, length time.Duration) []byte {
	frames := uint(length.Seconds() * float64(format.SampleRate))
	buf := make([]byte, format.FramesToBytes(frames))
	for i := uint(0); i < frames; i++ {
		s := int16(math.Sin(2*math.Pi*freq*float64(i)/float64(format.SampleRate)) * math.MaxInt16 / 2)
		off := (i*format.Channels + channel) * 2
		buf[off], buf[off+1] = byte(s), byte(uint16(s)>>8)
	}

	return buf
}
