package audiodev

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestRequestCodes(t *testing.T) {
	assert.Equal(t, uintptr(0x20004117), AUDIO_DRAIN)
	assert.Equal(t, uintptr(0x20004118), AUDIO_FLUSH)
	assert.Equal(t, uintptr(IOC_OUT)|unsafe.Sizeof(Info{})<<16|'A'<<8|21, AUDIO_GETINFO)
	assert.Equal(t, uintptr(IOC_INOUT), AUDIO_SETINFO&IOC_INOUT)
	assert.Equal(t, uintptr(IOC_IN), FIONBIO&IOC_INOUT)
	assert.Equal(t, uintptr('M'<<8|2), AUDIO_MIXER_DEVINFO&0xffff)
}
