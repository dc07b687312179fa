package hls

// RefreshKey returns the key active for segment index given the key that was
// active for segment index-1 (nil before the first segment).
//
// A key declared on the segment replaces prev when prev is nil or shares its
// KEYFORMAT; a declaration in a different KEYFORMAT leaves prev in effect.
// This is the EXT-X-KEY scoping rule of RFC 8216 section 4.3.2.4. Callers
// must thread the result through ascending indexes starting at 0; use
// KeySchedule for random access.
func (p *Playlist) RefreshKey(index int, prev *Key) *Key {
	if index < 0 || index >= len(p.Segments) {
		return prev
	}
	declared := p.Segments[index].Key
	if declared == nil {
		return prev
	}
	if prev == nil || declared.Format() == prev.Format() {
		return declared
	}
	return prev
}

// KeySchedule returns the active key for every segment, computed with
// RefreshKey in order.
func (p *Playlist) KeySchedule() []*Key {
	schedule := make([]*Key, len(p.Segments))
	var key *Key
	for i := range p.Segments {
		key = p.RefreshKey(i, key)
		schedule[i] = key
	}
	return schedule
}
