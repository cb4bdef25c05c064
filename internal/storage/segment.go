package storage

import "encoding/binary"

// MediaType distinguishes video from audio samples within a block.
// MediaAll is a query-side wildcard only; frames are never stored
// tagged MediaAll.
type MediaType uint8

const (
	MediaVideo MediaType = iota
	MediaAudio
	MediaAll
)

// CodecMeta is a block's self-describing codec identification: the
// name and out-of-band parameters (e.g. SPS/PPS) negotiated for
// whichever video/audio streams the block holds frames from.
type CodecMeta struct {
	VideoName       string
	VideoParameters string
	AudioName       string
	AudioParameters string
}

// codecMetaCap is the fixed number of bytes reserved per block, right
// after the frame-count header, for codec identification strings.
// codecMetaMinBlockSize gates the reserve off entirely for blocks too
// small to spare it (a misconfiguration in production, but also the
// size tiny rotation/exhaustion tests deliberately use) rather than
// starving frame capacity on their account.
const (
	codecMetaCap          = 256
	codecMetaMinBlockSize = 2048
)

func metaReserve(block []byte) int {
	if len(block) < codecMetaMinBlockSize {
		return 0
	}
	return codecMetaCap
}

func payloadBase(block []byte) int {
	return blockBodyHeaderSize + metaReserve(block)
}

// SetCodecMeta (re)writes a block's codec identification strings. It
// is safe to call at any point in the block's life — including after
// frames have already been appended — because the reserve is a fixed
// size independent of the strings' actual length, so it never moves
// the payload region. Returns false without modifying the block if the
// encoded strings do not fit the reserve (or the block is too small to
// have one at all); the caller's most recently successful stamp is
// left in place.
func (Framer) SetCodecMeta(block []byte, meta CodecMeta) bool {
	reserve := metaReserve(block)
	if reserve == 0 {
		return false
	}
	region := block[blockBodyHeaderSize : blockBodyHeaderSize+reserve]

	buf := make([]byte, reserve)
	off := 0
	for _, s := range []string{meta.VideoName, meta.VideoParameters, meta.AudioName, meta.AudioParameters} {
		if off+2+len(s) > reserve {
			return false
		}
		binary.LittleEndian.PutUint16(buf[off:off+2], uint16(len(s)))
		off += 2
		copy(buf[off:off+len(s)], s)
		off += len(s)
	}
	copy(region, buf)
	return true
}

// CodecMetaOf decodes a block's codec identification strings. Returns
// the zero value for a block too small to carry metadata, or one that
// has never had SetCodecMeta called against it.
func (Framer) CodecMetaOf(block []byte) CodecMeta {
	reserve := metaReserve(block)
	if reserve == 0 {
		return CodecMeta{}
	}
	region := block[blockBodyHeaderSize : blockBodyHeaderSize+reserve]
	strs := make([]string, 4)
	off := 0
	for i := range strs {
		if off+2 > reserve {
			break
		}
		n := int(binary.LittleEndian.Uint16(region[off : off+2]))
		off += 2
		if n == 0 || off+n > reserve {
			continue
		}
		strs[i] = string(region[off : off+n])
		off += n
	}
	return CodecMeta{VideoName: strs[0], VideoParameters: strs[1], AudioName: strs[2], AudioParameters: strs[3]}
}

// Frame is one encoded sample as stored in a block.
type Frame struct {
	Timestamp uint64
	PTS       uint64
	Key       bool
	Media     MediaType
	Payload   []byte
}

// tailEntrySize is the fixed size of one frame-table entry written
// backwards from the end of the block: payload offset (u32), payload
// length (u32), timestamp (u64), pts (u64), flags (u8, padded to u16).
const tailEntrySize = 4 + 4 + 8 + 8 + 2

// blockBodyHeaderSize is the small forward-growing header at the
// front of every block: bytes used by payloads so far (u32) and the
// number of frames stored (u32).
const blockBodyHeaderSize = 8

const (
	flagKey      = 1 << 0
	flagMediaAud = 1 << 1
)

// Framer packs and unpacks frames within a single fixed-size block.
// Payloads are appended forward from blockBodyHeaderSize; their table
// entries are appended backward from the end of the block, so the two
// regions grow toward each other and a block is full exactly when
// they meet.
type Framer struct{}

func payloadUsed(block []byte) uint32  { return binary.LittleEndian.Uint32(block[0:4]) }
func frameCountOf(block []byte) uint32 { return binary.LittleEndian.Uint32(block[4:8]) }

func setPayloadUsed(block []byte, n uint32)  { binary.LittleEndian.PutUint32(block[0:4], n) }
func setFrameCount(block []byte, n uint32)   { binary.LittleEndian.PutUint32(block[4:8], n) }

// Reset clears a block to an empty frame table, ready for reuse. The
// codec metadata reserve (if any) is left untouched; callers that want
// a clean slate call SetCodecMeta afterward.
func (Framer) Reset(block []byte) {
	setPayloadUsed(block, 0)
	setFrameCount(block, 0)
}

// Append writes one frame into the block. It returns false (without
// modifying the block) if the frame does not fit in the remaining
// space between the payload region and the tail table.
func (Framer) Append(block []byte, fr Frame) bool {
	used := payloadUsed(block)
	count := frameCountOf(block)

	payloadStart := payloadBase(block) + int(used)
	tailStart := len(block) - int(count+1)*tailEntrySize

	needed := len(fr.Payload) + tailEntrySize
	if payloadStart+len(fr.Payload) > tailStart || tailStart < payloadStart {
		return false
	}
	if len(block)-payloadStart-int(count)*tailEntrySize < needed {
		return false
	}

	copy(block[payloadStart:payloadStart+len(fr.Payload)], fr.Payload)

	entryOff := len(block) - int(count+1)*tailEntrySize
	binary.LittleEndian.PutUint32(block[entryOff:entryOff+4], uint32(used))
	binary.LittleEndian.PutUint32(block[entryOff+4:entryOff+8], uint32(len(fr.Payload)))
	binary.LittleEndian.PutUint64(block[entryOff+8:entryOff+16], fr.Timestamp)
	binary.LittleEndian.PutUint64(block[entryOff+16:entryOff+24], fr.PTS)
	var flags uint16
	if fr.Key {
		flags |= flagKey
	}
	if fr.Media == MediaAudio {
		flags |= flagMediaAud
	}
	binary.LittleEndian.PutUint16(block[entryOff+24:entryOff+26], flags)

	setPayloadUsed(block, used+uint32(len(fr.Payload)))
	setFrameCount(block, count+1)
	return true
}

// UsageFraction reports how full the block's combined payload and
// tail-table regions are, used by the writer's GOP-aligned sealing
// decision.
func (Framer) UsageFraction(block []byte) float64 {
	used := payloadUsed(block)
	count := frameCountOf(block)
	consumed := payloadBase(block) + int(used) + int(count)*tailEntrySize
	return float64(consumed) / float64(len(block))
}

// FrameIterator walks a block's frames in storage order (equal to
// append order, i.e. ascending timestamp within the block).
type FrameIterator struct {
	block []byte
	count uint32
	idx   uint32
}

// Frames returns an iterator over all frames in the block.
func (Framer) Frames(block []byte) *FrameIterator {
	return &FrameIterator{block: block, count: frameCountOf(block), idx: 0}
}

func (it *FrameIterator) Valid() bool { return it.idx < it.count }
func (it *FrameIterator) Next()       { it.idx++ }

func (it *FrameIterator) Entry() Frame {
	// Entries were appended back-to-front; table index 0 is the
	// entry nearest the end of the block and corresponds to the
	// first frame appended (count-1-idx is not needed since we wrote
	// entry i at increasing count, meaning index 0 was written first
	// and sits at the highest offset).
	entryOff := len(it.block) - int(it.idx+1)*tailEntrySize
	off := binary.LittleEndian.Uint32(it.block[entryOff : entryOff+4])
	length := binary.LittleEndian.Uint32(it.block[entryOff+4 : entryOff+8])
	ts := binary.LittleEndian.Uint64(it.block[entryOff+8 : entryOff+16])
	pts := binary.LittleEndian.Uint64(it.block[entryOff+16 : entryOff+24])
	flags := binary.LittleEndian.Uint16(it.block[entryOff+24 : entryOff+26])

	payloadStart := payloadBase(it.block) + int(off)
	payload := it.block[payloadStart : payloadStart+int(length)]

	media := MediaVideo
	if flags&flagMediaAud != 0 {
		media = MediaAudio
	}
	return Frame{
		Timestamp: ts,
		PTS:       pts,
		Key:       flags&flagKey != 0,
		Media:     media,
		Payload:   payload,
	}
}
