package audiodev_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/gen2brain/audiodev"
	"github.com/gen2brain/audiodev/backend/loopback"
)

func TestSysctl(t *testing.T) {
	d, _ := newDevice(t, nil)

	names := d.SysctlNames()
	assert.Equal(t, []string{"multiuser", "blk_ms", "buffer_size", "usrbuf_blocks"}, names[:4])
	assert.Contains(t, names, "mixer.outputs.master")
	assert.Contains(t, names, "mixer.record.source")
	assert.NotContains(t, names, "mixer.outputs", "classes have no value")

	testCases := map[string]int{
		audiodev.SysctlMultiuser:    0,
		audiodev.SysctlBlkMs:        10,
		audiodev.SysctlBufferSize:   4096,
		audiodev.SysctlUsrbufBlocks: 13,
		"mixer.outputs.master":      192,
		"mixer.record.source":       loopback.SourceMic,
		"mixer.monitor.output":      0,
	}
	for name, want := range testCases {
		v, err := d.Sysctl(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, v, name)
	}

	_, err := d.Sysctl("nosuch")
	assert.ErrorIs(t, err, audiodev.ErrInvalidParameter)

	require.NoError(t, d.SetSysctl(audiodev.SysctlBlkMs, 20))
	size, err := d.Sysctl(audiodev.SysctlBufferSize)
	require.NoError(t, err)
	assert.Equal(t, 8192, size, "two blocks of 1024 frames")

	f, err := d.Open(audiodev.NodeAudio, unix.O_WRONLY, user)
	require.NoError(t, err)
	info, err := f.GetInfo()
	require.NoError(t, err)
	assert.Equal(t, uint(171), info.Blocksize, "1024 frames at 48 kHz in 8 kHz mu-law")
	assert.ErrorIs(t, d.SetSysctl(audiodev.SysctlBlkMs, 10), audiodev.ErrDeviceBusy)
	require.NoError(t, f.Close())

	assert.ErrorIs(t, d.SetSysctl(audiodev.SysctlBlkMs, 0), audiodev.ErrInvalidParameter)
	assert.ErrorIs(t, d.SetSysctl(audiodev.SysctlBlkMs, 1001), audiodev.ErrInvalidParameter)
	assert.ErrorIs(t, d.SetSysctl(audiodev.SysctlBufferSize, 1), audiodev.ErrPermission)
	assert.ErrorIs(t, d.SetSysctl("mixer.outputs.master", 1), audiodev.ErrPermission)
	assert.ErrorIs(t, d.SetSysctl("nosuch", 1), audiodev.ErrInvalidParameter)

	require.NoError(t, d.SetSysctl(audiodev.SysctlMultiuser, 1))
	v, err := d.Sysctl(audiodev.SysctlMultiuser)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestMixerNode(t *testing.T) {
	d, hw := newDevice(t, nil)
	m := openFile(t, d, audiodev.NodeMixer, unix.O_RDWR)

	var controls []audiodev.MixerDevinfo
	for i := 0; ; i++ {
		di, err := m.MixerDevinfo(i)
		if err != nil {
			assert.ErrorIs(t, err, audiodev.ErrInvalidParameter)
			break
		}
		controls = append(controls, di)
	}
	require.Len(t, controls, 10)
	assert.Equal(t, audiodev.AUDIO_MIXER_CLASS, controls[loopback.ClassOutputs].Type)
	assert.Equal(t, "master", controls[loopback.OutputsMaster].Label)
	assert.Equal(t, 2, controls[loopback.OutputsMaster].Value.NumChannels)
	assert.Len(t, controls[loopback.RecordSource].Members, 3)

	ctrl := audiodev.MixerCtrl{Dev: loopback.OutputsMaster, Type: audiodev.AUDIO_MIXER_VALUE, Levels: make([]uint8, 2)}
	require.NoError(t, m.MixerRead(&ctrl))
	assert.Equal(t, []uint8{192, 192}, ctrl.Levels)

	commits := hw.Counters().Commits
	ctrl.Levels = []uint8{50}
	require.NoError(t, m.MixerWrite(&ctrl))
	assert.Equal(t, []uint8{50, 50}, hw.Control(loopback.OutputsMaster).Levels, "one level sets every channel")
	assert.Equal(t, commits+1, hw.Counters().Commits)

	v, err := d.Sysctl("mixer.outputs.master")
	require.NoError(t, err)
	assert.Equal(t, 50, v)

	sel := audiodev.MixerCtrl{Dev: loopback.RecordSource, Type: audiodev.AUDIO_MIXER_ENUM, Ord: loopback.SourceLine}
	require.NoError(t, m.MixerWrite(&sel))
	sel.Ord = -1
	require.NoError(t, m.MixerRead(&sel))
	assert.Equal(t, loopback.SourceLine, sel.Ord)

	testCases := map[string]audiodev.MixerCtrl{
		"class":         {Dev: loopback.ClassOutputs, Type: audiodev.AUDIO_MIXER_CLASS},
		"wrong type":    {Dev: loopback.OutputsMaster, Type: audiodev.AUDIO_MIXER_ENUM},
		"no levels":     {Dev: loopback.OutputsMaster, Type: audiodev.AUDIO_MIXER_VALUE},
		"extra levels":  {Dev: loopback.OutputsMaster, Type: audiodev.AUDIO_MIXER_VALUE, Levels: make([]uint8, 3)},
		"out of range":  {Dev: 99, Type: audiodev.AUDIO_MIXER_VALUE, Levels: []uint8{1}},
		"bad ordinal":   {Dev: loopback.OutputsSelect, Type: audiodev.AUDIO_MIXER_ENUM, Ord: 5},
		"negative dev":  {Dev: -1, Type: audiodev.AUDIO_MIXER_VALUE, Levels: []uint8{1}},
		"enum as value": {Dev: loopback.RecordSource, Type: audiodev.AUDIO_MIXER_VALUE, Levels: []uint8{1}},
	}
	for name, c := range testCases {
		t.Run(name, func(t *testing.T) {
			err := m.MixerWrite(&c)
			assert.ErrorIs(t, err, audiodev.ErrInvalidParameter)
			assert.Equal(t, unix.EINVAL, audiodev.Errno(err))
		})
	}

	_, err = m.GetInfo()
	assert.ErrorIs(t, err, audiodev.ErrInvalidParameter, "the mixer node only takes mixer requests")
}
