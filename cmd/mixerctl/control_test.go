package main

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/gen2brain/audiodev"
	"github.com/gen2brain/audiodev/backend/loopback"
)

func openMixer(t *testing.T) (*audiodev.File, *loopback.Device) {
	t.Helper()
	hw := loopback.New(nil)
	d, err := audiodev.Attach(hw, &audiodev.Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Detach() })

	m, err := d.Open(audiodev.NodeMixer, unix.O_RDWR, audiodev.Proc{PID: 1, UID: 1000})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	return m, hw
}

func TestLoadControls(t *testing.T) {
	m, _ := openMixer(t)
	ctls, err := loadControls(m)
	require.NoError(t, err)

	var names []string
	for _, c := range ctls {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{
		"outputs.master", "inputs.dac", "record.source", "record.volume", "monitor.output", "outputs.select",
	}, names)

	_, err = find(ctls, "outputs.nosuch")
	assert.Error(t, err)
}

func TestReadWrite(t *testing.T) {
	m, hw := openMixer(t)
	ctls, err := loadControls(m)
	require.NoError(t, err)

	master, err := find(ctls, "outputs.master")
	require.NoError(t, err)
	val, err := read(m, master)
	require.NoError(t, err)
	assert.Equal(t, "192,192", val)

	testCases := []struct {
		in   string
		want string
	}{
		{"100", "100,100"},
		{"10,20", "10,20"},
		{"+2", "26,36"},
		{"-10", "0,0"},
		{"300", "255,255"},
	}
	for _, tc := range testCases {
		require.NoError(t, write(m, master, tc.in), tc.in)
		val, err := read(m, master)
		require.NoError(t, err)
		assert.Equal(t, tc.want, val, tc.in)
	}
	assert.Error(t, write(m, master, "1,2,3"))
	assert.Error(t, write(m, master, "loud"))

	source, err := find(ctls, "record.source")
	require.NoError(t, err)
	require.NoError(t, write(m, source, "cd"))
	assert.Equal(t, loopback.SourceCD, hw.Control(loopback.RecordSource).Ord)
	val, err = read(m, source)
	require.NoError(t, err)
	assert.Equal(t, "cd", val)

	require.NoError(t, write(m, source, "1"))
	val, err = read(m, source)
	require.NoError(t, err)
	assert.Equal(t, "line", val)
	assert.Error(t, write(m, source, "tape"))

	assert.Equal(t, "one of [mic line cd]", describe(source))
	assert.Equal(t, "volume, 2 channels, delta 8", describe(master))
}
