package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/gen2brain/audiodev"
	"github.com/gen2brain/audiodev/cmd/internal/toolcfg"
)

func main() {
	var (
		channels  uint
		rate      uint
		formatStr string
		duration  time.Duration
		chunk     uint
	)

	configFile := toolcfg.Flags(flag.CommandLine)
	flag.UintVar(&channels, "channels", 2, "The number of channels")
	flag.UintVar(&rate, "rate", 48000, "The sample rate in Hz")
	flag.StringVar(&formatStr, "format", "s16", "The sample format (u8, s16, s24, s32)")
	flag.DurationVar(&duration, "duration", 5*time.Second, "The length of the capture")
	flag.UintVar(&chunk, "chunk", 1024, "The number of frames read per call")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <output-wav-file>\n", os.Args[0])
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

	format, err := determineFormat(formatStr, channels, rate)
	if err != nil {
		toolcfg.Fatal("%v", err)
	}

	dev, err := toolcfg.Open(v, log)
	if err != nil {
		toolcfg.Fatal("open device: %v", err)
	}
	defer dev.Close()

	f, err := dev.Open(audiodev.NodeAudio, unix.O_RDONLY, toolcfg.Proc())
	if err != nil {
		toolcfg.Fatal("open audio: %v", err)
	}
	defer f.Close()

	if err := f.SetFormat(audiodev.AUMODE_RECORD, format); err != nil {
		toolcfg.Fatal("set format %s: %v", format, err)
	}

	outputPath := flag.Arg(0)
	out, err := os.Create(outputPath)
	if err != nil {
		toolcfg.Fatal("create %s: %v", outputPath, err)
	}
	defer out.Close()

	enc := wav.NewEncoder(out, int(format.SampleRate), int(format.Precision), int(format.Channels), 1)

	fmt.Println(toolcfg.Label.Render("Output:"), outputPath)
	fmt.Println(toolcfg.Label.Render("Format:"), format, toolcfg.Dim.Render(duration.String()))
	fmt.Println("Capturing... Press Ctrl+C to stop early.")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	total := format.FramesToBytes(uint(duration.Seconds() * float64(rate)))
	frames, err := capture(ctx, f, enc, format, format.FramesToBytes(chunk), total)
	if err != nil {
		toolcfg.Fatal("capture: %v", err)
	}
	if err := enc.Close(); err != nil {
		toolcfg.Fatal("finish %s: %v", outputPath, err)
	}

	info, err := f.GetInfo()
	if err != nil {
		toolcfg.Fatal("get info: %v", err)
	}
	fmt.Printf("Wrote %d frames (%.2f seconds) to %s, %d frames lost to overruns.\n",
		frames, float64(frames)/float64(rate), outputPath, info.Record.Error)
}

// capture reads up to total bytes from f and writes them to enc until ctx is done.
// Reading and encoding run concurrently so that a slow disk does not overrun the device.
func capture(ctx context.Context, f *audiodev.File, enc *wav.Encoder, format audiodev.Format, chunk, total uint) (uint64, error) {
	chunks := make(chan []byte, 16)
	var frames uint64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(chunks)
		for read := uint(0); read < total; {
			buf := make([]byte, min(chunk, total-read))
			n, err := f.ReadContext(gctx, buf)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return nil
				}

				return err
			}
			read += uint(n)
			select {
			case chunks <- buf[:n]:
			case <-gctx.Done():
				return nil
			}
		}

		return nil
	})
	g.Go(func() error {
		for data := range chunks {
			if err := enc.Write(toIntBuffer(data, format)); err != nil {
				return err
			}
			frames += uint64(format.BytesToFrames(uint(len(data))))
		}

		return nil
	})

	err := g.Wait()

	return frames, err
}

// determineFormat maps a format name to the recording format.
func determineFormat(name string, channels, rate uint) (audiodev.Format, error) {
	f := audiodev.Format{Encoding: audiodev.AUDIO_ENCODING_SLINEAR_LE, Channels: channels, SampleRate: rate}
	switch name {
	case "u8":
		f.Encoding, f.Precision = audiodev.AUDIO_ENCODING_ULINEAR_LE, 8
	case "s16":
		f.Precision = 16
	case "s24":
		f.Precision = 24
	case "s32":
		f.Precision = 32
	default:
		return f, fmt.Errorf("unsupported format %q, supported formats are u8, s16, s24, s32", name)
	}
	f.Stride = f.Precision

	return f, f.Validate()
}

// toIntBuffer converts little-endian samples to the form the WAV encoder takes.
func toIntBuffer(data []byte, format audiodev.Format) *audio.IntBuffer {
	width := int(format.Stride / 8)
	samples := make([]int, len(data)/width)
	for i := range samples {
		var v uint32
		for b := 0; b < width; b++ {
			v |= uint32(data[i*width+b]) << (8 * b)
		}
		if format.Encoding == audiodev.AUDIO_ENCODING_ULINEAR_LE {
			samples[i] = int(v)
			continue
		}
		// Sign extend from the top bit of the sample.
		shift := 32 - 8*width
		samples[i] = int(int32(v<<shift) >> shift)
	}

	return &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: int(format.Channels), SampleRate: int(format.SampleRate)},
		Data:           samples,
		SourceBitDepth: int(format.Precision),
	}
}
