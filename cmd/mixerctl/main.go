package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/gen2brain/audiodev"
	"github.com/gen2brain/audiodev/cmd/internal/toolcfg"
)

func main() {
	var (
		verbose bool
		sysctls bool
	)

	configFile := toolcfg.Flags(flag.CommandLine)
	flag.BoolVar(&verbose, "v", false, "Show the range or choices of each control")
	flag.BoolVar(&sysctls, "sysctl", false, "List the device sysctl values instead of the controls")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] [control[=value]...]\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
		fmt.Fprintln(os.Stderr, "\nControls are named class.label, such as outputs.master.")
		fmt.Fprintln(os.Stderr, "Levels are 0-255; a leading + or - changes the level by that many steps.")
	}

	flag.Parse()

	v, err := toolcfg.Load(flag.CommandLine, *configFile)
	if err != nil {
		toolcfg.Fatal("%v", err)
	}
	log, closer, err := toolcfg.Logger(v)
	if err != nil {
		toolcfg.Fatal("%v", err)
	}
	defer closer.Close()

	dev, err := toolcfg.Open(v, log)
	if err != nil {
		toolcfg.Fatal("open device: %v", err)
	}
	defer dev.Close()

	if sysctls {
		for _, name := range dev.SysctlNames() {
			val, err := dev.Sysctl(name)
			if err != nil {
				toolcfg.Fatal("%s: %v", name, err)
			}
			fmt.Printf("%s=%s\n", toolcfg.Label.Render(name), toolcfg.Value.Render(fmt.Sprint(val)))
		}

		return
	}

	m, err := dev.Open(audiodev.NodeMixer, unix.O_RDWR, toolcfg.Proc())
	if err != nil {
		toolcfg.Fatal("open mixer: %v", err)
	}
	defer m.Close()

	ctls, err := loadControls(m)
	if err != nil {
		toolcfg.Fatal("list controls: %v", err)
	}

	if flag.NArg() == 0 {
		for _, c := range ctls {
			show(m, c, verbose)
		}

		return
	}

	for _, arg := range flag.Args() {
		name, value, set := strings.Cut(arg, "=")
		c, err := find(ctls, name)
		if err != nil {
			toolcfg.Fatal("%v", err)
		}
		if set {
			old, _ := read(m, c)
			if err := write(m, c, value); err != nil {
				toolcfg.Fatal("%v", err)
			}
			now, _ := read(m, c)
			fmt.Printf("%s: %s -> %s\n", toolcfg.Label.Render(c.Name), old, toolcfg.Value.Render(now))

			continue
		}
		show(m, c, verbose)
	}
}

func show(m mixer, c control, verbose bool) {
	val, err := read(m, c)
	if err != nil {
		fmt.Printf("%s=%s\n", toolcfg.Label.Render(c.Name), toolcfg.Err.Render(err.Error()))

		return
	}
	line := toolcfg.Label.Render(c.Name) + "=" + toolcfg.Value.Render(val)
	if verbose {
		line += " " + toolcfg.Dim.Render(describe(c))
	}
	fmt.Println(line)
}
