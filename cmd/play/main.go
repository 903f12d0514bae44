package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-audio/audio"
	"golang.org/x/sys/unix"

	"github.com/gen2brain/audiodev"
	"github.com/gen2brain/audiodev/cmd/internal/toolcfg"
)

func main() {
	var (
		chunk int
		gain  int
	)

	configFile := toolcfg.Flags(flag.CommandLine)
	flag.IntVar(&chunk, "chunk", 1024, "The number of frames written per call")
	flag.IntVar(&gain, "gain", -1, "The track volume, 0-255 (-1 = leave unchanged)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <wav-or-mp3-file>\n", os.Args[0])
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
	log, closer, err := toolcfg.Logger(v)
	if err != nil {
		toolcfg.Fatal("%v", err)
	}
	defer closer.Close()

	path := flag.Arg(0)
	in, err := os.Open(path)
	if err != nil {
		toolcfg.Fatal("open %s: %v", path, err)
	}
	defer in.Close()

	dec, err := openDecoder(path, in)
	if err != nil {
		toolcfg.Fatal("decode %s: %v", path, err)
	}

	format, err := formatOf(dec)
	if err != nil {
		toolcfg.Fatal("%v", err)
	}

	dev, err := toolcfg.Open(v, log)
	if err != nil {
		toolcfg.Fatal("open device: %v", err)
	}
	defer dev.Close()

	f, err := dev.Open(audiodev.NodeAudio, unix.O_WRONLY, toolcfg.Proc())
	if err != nil {
		toolcfg.Fatal("open audio: %v", err)
	}
	defer f.Close()

	if err := f.SetFormat(audiodev.AUMODE_PLAY, format); err != nil {
		toolcfg.Fatal("set format %s: %v", format, err)
	}
	if gain >= 0 {
		var info audiodev.Info
		audiodev.InitInfo(&info)
		info.Play.Gain = uint(gain)
		if err := f.SetInfo(&info); err != nil {
			toolcfg.Fatal("set gain: %v", err)
		}
	}

	hw, err := f.GetDev()
	if err != nil {
		toolcfg.Fatal("get device: %v", err)
	}
	duration, _ := dec.Duration()

	fmt.Println(toolcfg.Label.Render("File:  "), path)
	fmt.Println(toolcfg.Label.Render("Device:"), hw.Name, toolcfg.Dim.Render(hw.Config))
	fmt.Println(toolcfg.Label.Render("Format:"), format, toolcfg.Dim.Render(duration.Round(time.Millisecond).String()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	err = play(ctx, f, dec, format, chunk)
	switch {
	case errors.Is(err, context.Canceled):
		fmt.Println("\nPlayback interrupted.")
		_ = f.Flush()
	case err != nil:
		toolcfg.Fatal("play: %v", err)
	default:
		if err := f.DrainContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
			toolcfg.Fatal("drain: %v", err)
		}
	}

	info, err := f.GetInfo()
	if err != nil {
		toolcfg.Fatal("get info: %v", err)
	}
	frames := info.Play.Samples / uint64(format.FramesToBytes(1))
	fmt.Printf("Played %d frames in %v, %d frames lost to underruns.\n", frames, time.Since(start).Round(time.Millisecond), info.Play.Error)
}

// play copies the decoded stream to f in chunks of the given number of frames.
func play(ctx context.Context, f *audiodev.File, dec AudioDecoder, format audiodev.Format, chunk int) error {
	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: int(dec.NumChans()), SampleRate: int(dec.SampleRate())},
		Data:   make([]int, chunk*int(dec.NumChans())),
	}
	out := make([]byte, 0, int(format.FramesToBytes(uint(chunk))))

	for {
		n, err := dec.PCMBuffer(buf)
		if n > 0 {
			out = encode(out[:0], buf.Data[:n], format.Stride)
			if _, werr := f.WriteContext(ctx, out); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return err
		}
		if n == 0 {
			return nil
		}
	}
}

// formatOf returns the device format that carries the decoded samples unchanged.
func formatOf(dec AudioDecoder) (audiodev.Format, error) {
	if dec.IsFloat() {
		return audiodev.Format{}, errors.New("floating point samples are not supported")
	}

	f := audiodev.Format{
		Encoding:   audiodev.AUDIO_ENCODING_SLINEAR_LE,
		Precision:  uint(dec.BitDepth()),
		Stride:     uint(dec.BitDepth()),
		Channels:   uint(dec.NumChans()),
		SampleRate: uint(dec.SampleRate()),
	}
	// 8-bit WAV data is unsigned.
	if f.Precision == 8 {
		f.Encoding = audiodev.AUDIO_ENCODING_ULINEAR_LE
	}

	return f, f.Validate()
}

// encode appends samples to dst as little-endian words of stride bits.
func encode(dst []byte, samples []int, stride uint) []byte {
	for _, s := range samples {
		for shift := uint(0); shift < stride; shift += 8 {
			dst = append(dst, byte(s>>shift))
		}
	}

	return dst
}
