package storage

import "time"

// defaultSegmentGapThreshold is the default gap, between the end of
// one block's frames and the start of the next, above which
// QuerySegments reports a boundary between two distinct recording
// segments rather than treating the blocks as one contiguous segment.
const defaultSegmentGapThreshold = 10 * time.Second

// Segment describes one contiguous run of blocks with no gap larger
// than the reader's configured threshold.
type Segment struct {
	StartTS uint64
	EndTS   uint64
	Blocks  []uint16
}

// StorageReader answers range, key-frame, and segment queries against
// a storage file without interfering with an in-progress writer (it
// only ever acquires blocks for read).
type StorageReader struct {
	file                *File
	framer              Framer
	SegmentGapThreshold time.Duration
}

// NewStorageReader wraps file for read-only queries.
func NewStorageReader(file *File) *StorageReader {
	return &StorageReader{file: file, SegmentGapThreshold: defaultSegmentGapThreshold}
}

// FirstTS returns the timestamp of the earliest block in the index.
func (r *StorageReader) FirstTS() (uint64, bool) {
	it := r.file.Dumbdex().Begin()
	if !it.Valid() {
		return 0, false
	}
	ts, _ := it.Entry()
	return ts, true
}

// LastTS returns the start timestamp of the latest block in the
// index (not the timestamp of its last frame).
func (r *StorageReader) LastTS() (uint64, bool) {
	end := r.file.Dumbdex().End()
	end.Prev()
	if !end.Valid() {
		return 0, false
	}
	ts, _ := end.Entry()
	return ts, true
}

// QueryBlocks returns the block indexes whose start timestamp falls
// in [start, end], plus the block immediately preceding start (since
// its frames may extend past its own start timestamp into the
// requested range). Returns nil if the range is inverted (end < start);
// start == end is a valid single-instant query.
func (r *StorageReader) QueryBlocks(start, end uint64) []uint16 {
	if end < start {
		return nil
	}
	var blocks []uint16

	lb := r.file.Dumbdex().LowerBound(start)
	if prev := lb; true {
		p := &Iterator{d: prev.d, pos: prev.pos - 1}
		if p.Valid() {
			_, blk := p.Entry()
			blocks = append(blocks, blk)
		}
	}
	for it := lb; it.Valid(); it.Next() {
		ts, blk := it.Entry()
		if ts > end {
			break
		}
		blocks = append(blocks, blk)
	}
	return blocks
}

// QueryResult is the blob-tree response for a range query: the
// negotiated codec description for the range's blocks alongside the
// time-ordered, media-filtered frame sequence (§4.5.1).
type QueryResult struct {
	VideoCodecName       string
	VideoCodecParameters string
	AudioCodecName       string
	AudioCodecParameters string
	Frames               []Frame
}

// Query returns every frame of the given media type (MediaAll returns
// both) whose timestamp falls in [start, end], plus the codec
// identification carried by the first matching block that has any.
// start == end is valid and returns the frame(s) at that exact
// timestamp, if any; only start > end is ErrInvalidArgument.
func (r *StorageReader) Query(media MediaType, start, end uint64) (QueryResult, error) {
	if end < start {
		return QueryResult{}, ErrInvalidArgument
	}
	var result QueryResult
	haveMeta := false
	for _, blk := range r.QueryBlocks(start, end) {
		bv, err := r.file.AcquireBlock(blk, false)
		if err != nil {
			return QueryResult{}, err
		}
		if !haveMeta {
			if m := r.framer.CodecMetaOf(bv.Bytes); m.VideoName != "" || m.AudioName != "" {
				result.VideoCodecName = m.VideoName
				result.VideoCodecParameters = m.VideoParameters
				result.AudioCodecName = m.AudioName
				result.AudioCodecParameters = m.AudioParameters
				haveMeta = true
			}
		}
		for it := r.framer.Frames(bv.Bytes); it.Valid(); it.Next() {
			fr := it.Entry()
			if media != MediaAll && fr.Media != media {
				continue
			}
			if fr.Timestamp < start || fr.Timestamp > end {
				continue
			}
			payload := make([]byte, len(fr.Payload))
			copy(payload, fr.Payload)
			fr.Payload = payload
			result.Frames = append(result.Frames, fr)
		}
		bv.Release()
	}
	return result, nil
}

// QueryKey returns the video key frame at or immediately before ts, or
// ErrNotFound if none exists.
func (r *StorageReader) QueryKey(ts uint64) (Frame, error) {
	lb := r.file.Dumbdex().LowerBound(ts)
	p := &Iterator{d: lb.d, pos: lb.pos}
	if !p.Valid() || func() bool { e, _ := p.Entry(); return e != ts }() {
		p.Prev()
	}

	for ; p.Valid(); p.Prev() {
		_, blk := p.Entry()
		bv, err := r.file.AcquireBlock(blk, false)
		if err != nil {
			return Frame{}, err
		}
		var best *Frame
		for it := r.framer.Frames(bv.Bytes); it.Valid(); it.Next() {
			fr := it.Entry()
			if fr.Media != MediaVideo || !fr.Key || fr.Timestamp > ts {
				continue
			}
			if best == nil || fr.Timestamp > best.Timestamp {
				f := fr
				best = &f
			}
		}
		if best != nil {
			payload := make([]byte, len(best.Payload))
			copy(payload, best.Payload)
			best.Payload = payload
			bv.Release()
			return *best, nil
		}
		bv.Release()
	}
	return Frame{}, ErrNotFound
}

// KeyFrameStartTimes returns the timestamps of every video key frame
// in [start, end], in ascending order.
func (r *StorageReader) KeyFrameStartTimes(start, end uint64) ([]uint64, error) {
	if end < start {
		return nil, ErrInvalidArgument
	}
	var out []uint64
	for _, blk := range r.QueryBlocks(start, end) {
		bv, err := r.file.AcquireBlock(blk, false)
		if err != nil {
			return nil, err
		}
		for it := r.framer.Frames(bv.Bytes); it.Valid(); it.Next() {
			fr := it.Entry()
			if fr.Media == MediaVideo && fr.Key && fr.Timestamp >= start && fr.Timestamp <= end {
				out = append(out, fr.Timestamp)
			}
		}
		bv.Release()
	}
	return out, nil
}

// QuerySegments groups the blocks QueryBlocks returns for [start, end]
// into contiguous segments, splitting wherever the gap between one
// block's latest frame timestamp and the next block's earliest frame
// timestamp (audio or video) exceeds SegmentGapThreshold.
func (r *StorageReader) QuerySegments(start, end uint64) ([]Segment, error) {
	if end < start {
		return nil, ErrInvalidArgument
	}
	blocks := r.QueryBlocks(start, end)
	var segments []Segment
	var cur *Segment
	var prevEndTS uint64
	gapNS := uint64(r.SegmentGapThreshold.Nanoseconds())

	for _, blk := range blocks {
		bv, err := r.file.AcquireBlock(blk, false)
		if err != nil {
			return nil, err
		}
		var blockStart, blockEnd uint64
		first := true
		for fit := r.framer.Frames(bv.Bytes); fit.Valid(); fit.Next() {
			fr := fit.Entry()
			if first || fr.Timestamp < blockStart {
				blockStart = fr.Timestamp
				first = false
			}
			if fr.Timestamp > blockEnd {
				blockEnd = fr.Timestamp
			}
		}
		bv.Release()
		if first {
			continue // empty block
		}

		if cur != nil && blockStart > prevEndTS && blockStart-prevEndTS > gapNS {
			segments = append(segments, *cur)
			cur = nil
		}
		if cur == nil {
			cur = &Segment{StartTS: blockStart}
		}
		cur.Blocks = append(cur.Blocks, blk)
		cur.EndTS = blockEnd
		prevEndTS = blockEnd
	}
	if cur != nil {
		segments = append(segments, *cur)
	}
	return segments, nil
}
