package audiodev

import (
	"fmt"
	"unsafe"
)

// sample is the element type a Ring can store.
type sample interface {
	~byte | ~int16
}

// Ring is a fixed-capacity circular buffer of frames in a given format.
// Capacity, head and count are measured in frames. A frame may be smaller than one
// element (4-bit ADPCM); all positions are then kept on the format's frame alignment.
type Ring[T sample] struct {
	fmt      Format
	capacity uint
	head     uint
	count    uint
	elemBits uint
	mem      []T
}

// newRing allocates a ring holding capacity frames of format f.
func newRing[T sample](f Format, capacity uint) *Ring[T] {
	var zero T
	r := &Ring[T]{
		fmt:      f,
		elemBits: uint(unsafe.Sizeof(zero)) * 8,
	}
	align := f.FrameAlign()
	if capacity%align != 0 {
		capacity += align - capacity%align
	}
	r.capacity = capacity
	r.mem = make([]T, r.elems(capacity))

	return r
}

func (r *Ring[T]) elems(frames uint) uint {
	return frames * r.fmt.FrameBits() / r.elemBits
}

// Format returns the format of the frames in the ring.
func (r *Ring[T]) Format() Format {
	return r.fmt
}

// Capacity returns the ring size in frames.
func (r *Ring[T]) Capacity() uint {
	return r.capacity
}

// Used returns the number of frames currently stored.
func (r *Ring[T]) Used() uint {
	return r.count
}

// Free returns the number of frames that can still be appended.
func (r *Ring[T]) Free() uint {
	return r.capacity - r.count
}

// Bytes returns the number of bytes currently stored.
func (r *Ring[T]) Bytes() uint {
	return r.fmt.FramesToBytes(r.count)
}

func (r *Ring[T]) tail() uint {
	t := r.head + r.count
	if t >= r.capacity {
		t -= r.capacity
	}

	return t
}

// HeadFrames returns the number of used frames that are contiguous from the head.
func (r *Ring[T]) HeadFrames() uint {
	return min(r.count, r.capacity-r.head)
}

// TailFrames returns the number of free frames that are contiguous from the tail.
func (r *Ring[T]) TailFrames() uint {
	t := r.tail()
	if r.count == r.capacity {
		return 0
	}

	return min(r.capacity-r.count, r.capacity-t)
}

// Head returns the contiguous span of stored frames starting at the head.
func (r *Ring[T]) Head() []T {
	start := r.elems(r.head)

	return r.mem[start : start+r.elems(r.HeadFrames())]
}

// Tail returns the contiguous span of free frames starting at the tail.
func (r *Ring[T]) Tail() []T {
	start := r.elems(r.tail())

	return r.mem[start : start+r.elems(r.TailFrames())]
}

// Append commits n frames written into the tail span.
func (r *Ring[T]) Append(n uint) error {
	if n > r.Free() {
		return fmt.Errorf("ring append %d frames exceeds free %d: %w", n, r.Free(), ErrInvalidParameter)
	}
	r.count += n

	return nil
}

// Consume discards n frames from the head.
func (r *Ring[T]) Consume(n uint) {
	if n > r.count {
		panic(fmt.Sprintf("audiodev: ring consume %d frames exceeds used %d", n, r.count))
	}
	r.head += n
	if r.head >= r.capacity {
		r.head -= r.capacity
	}
	r.count -= n
	if r.count == 0 {
		r.head = 0
	}
}

// Unappend discards the n most recently appended frames.
func (r *Ring[T]) Unappend(n uint) {
	if n > r.count {
		panic(fmt.Sprintf("audiodev: ring unappend %d frames exceeds used %d", n, r.count))
	}
	r.count -= n
	if r.count == 0 {
		r.head = 0
	}
}

// Reset empties the ring.
func (r *Ring[T]) Reset() {
	r.head = 0
	r.count = 0
}

// writeRing copies whole frames from p into the ring and returns the number of bytes taken.
func writeRing(r *Ring[byte], p []byte) int {
	total := 0
	for len(p) > 0 {
		span := r.Tail()
		frames := r.fmt.BytesToFrames(uint(min(len(span), len(p))))
		if frames == 0 {
			break
		}
		n := int(r.fmt.FramesToBytes(frames))
		copy(span, p[:n])
		_ = r.Append(frames)
		p = p[n:]
		total += n
	}

	return total
}

// readRing copies whole frames from the ring into p and returns the number of bytes copied.
func readRing(r *Ring[byte], p []byte) int {
	total := 0
	for len(p) > 0 {
		span := r.Head()
		frames := r.fmt.BytesToFrames(uint(min(len(span), len(p))))
		if frames == 0 {
			break
		}
		n := int(r.fmt.FramesToBytes(frames))
		copy(p, span[:n])
		r.Consume(frames)
		p = p[n:]
		total += n
	}

	return total
}
