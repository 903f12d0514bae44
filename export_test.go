package audiodev

// TrackFilters returns the conversion stages of the track in the given direction.
func (f *File) TrackFilters(mode Mode) []string {
	f.dev.lock.Lock()
	defer f.dev.lock.Unlock()

	if t := f.track(mode); t != nil {
		return t.Filters()
	}

	return nil
}

// TrackFrames returns the internal frames the mixer took from (or gave to) the track.
func (f *File) TrackFrames(mode Mode) uint64 {
	f.dev.lock.Lock()
	defer f.dev.lock.Unlock()
	f.dev.intrLock.Lock()
	defer f.dev.intrLock.Unlock()

	if t := f.track(mode); t != nil {
		return t.outputCounter
	}

	return 0
}

func (f *File) track(mode Mode) *Track {
	if mode == AUMODE_RECORD {
		return f.rtrack
	}

	return f.ptrack
}
