package storage

import (
	"fmt"
	"log/slog"
	"sync"
)

// CorrectionPolicy controls how the writer handles a non-increasing
// timestamp on an otherwise-live stream.
type CorrectionPolicy int

const (
	// CorrectionClip nudges the offending timestamp to one unit past
	// the last corrected timestamp for that stream, rather than
	// dropping the frame. This is the default.
	CorrectionClip CorrectionPolicy = iota
	// CorrectionDrop discards frames whose timestamp does not exceed
	// the last corrected timestamp for that stream.
	CorrectionDrop
)

// sealFraction is the block-usage threshold, checked on every
// incoming video key frame, above which the writer seals the current
// block and starts a new one.
const sealFraction = 0.75

// PruneHook is invoked by the writer when the dumbdex reports Full. It
// should free at least one block and return how many were freed; zero
// freed with a nil error means the store is genuinely exhausted.
type PruneHook func() (freed int, err error)

// StorageWriter appends frames to a storage file, sealing blocks on
// GOP boundaries and correcting non-monotonic timestamps per stream.
type StorageWriter struct {
	mu     sync.Mutex
	file   *File
	framer Framer
	log    *slog.Logger

	policy    CorrectionPolicy
	pruneHook PruneHook

	curBlock      uint16
	curRegistered bool
	curStartTS    uint64
	nextSeqBlock  uint16

	videoCorrection int64
	lastVideoTS     uint64
	audioCorrection int64
	lastAudioTS     uint64

	videoCodecName, videoCodecParams string
	audioCodecName, audioCodecParams string
}

// NewStorageWriter opens a writer over file, picking up from whatever
// block was last in use (or starting a fresh block if the store is
// empty).
func NewStorageWriter(file *File, pruneHook PruneHook) (*StorageWriter, error) {
	w := &StorageWriter{
		file:      file,
		pruneHook: pruneHook,
		policy:    CorrectionClip,
		log:       slog.Default().With("component", "storage.writer"),
	}

	var maxBlock int64 = -1
	it := file.Dumbdex().Begin()
	for ; it.Valid(); it.Next() {
		_, blk := it.Entry()
		if int64(blk) > maxBlock {
			maxBlock = int64(blk)
		}
	}
	if maxBlock >= 0 {
		w.nextSeqBlock = uint16(maxBlock) + 1
		w.curBlock = uint16(maxBlock)
		w.curRegistered = true
	} else {
		w.curBlock = 0
		w.nextSeqBlock = 1
		w.curRegistered = false
	}
	return w, nil
}

// SetCorrectionPolicy overrides the default clip-forward policy.
func (w *StorageWriter) SetCorrectionPolicy(p CorrectionPolicy) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.policy = p
}

// SetVideoCodec finalizes the video codec name and out-of-band
// parameters negotiated for this stream, stamping them into the block
// currently being written so it stays self-describing. Safe to call
// repeatedly (e.g. on a mid-stream renegotiation).
func (w *StorageWriter) SetVideoCodec(name, parameters string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.videoCodecName, w.videoCodecParams = name, parameters
	w.stampCodecMetaLocked()
}

// SetAudioCodec is SetVideoCodec's audio-stream counterpart.
func (w *StorageWriter) SetAudioCodec(name, parameters string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.audioCodecName, w.audioCodecParams = name, parameters
	w.stampCodecMetaLocked()
}

func (w *StorageWriter) stampCodecMetaLocked() {
	bv, err := w.file.AcquireBlock(w.curBlock, true)
	if err != nil {
		return
	}
	defer bv.Release()
	if !w.framer.SetCodecMeta(bv.Bytes, w.codecMetaLocked()) {
		w.log.Debug("codec metadata did not fit the block's reserve, keeping prior stamp")
	}
}

// CodecMeta returns the codec name/parameters most recently finalized
// via SetVideoCodec/SetAudioCodec.
func (w *StorageWriter) CodecMeta() CodecMeta {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.codecMetaLocked()
}

func (w *StorageWriter) codecMetaLocked() CodecMeta {
	return CodecMeta{
		VideoName:       w.videoCodecName,
		VideoParameters: w.videoCodecParams,
		AudioName:       w.audioCodecName,
		AudioParameters: w.audioCodecParams,
	}
}

// correct applies the running per-stream correction offset, updating
// it when the incoming timestamp is not strictly increasing.
func (w *StorageWriter) correct(ts uint64, lastTS *uint64, correction *int64, ok *bool) uint64 {
	adjusted := int64(ts) + *correction
	if adjusted <= int64(*lastTS) {
		switch w.policy {
		case CorrectionDrop:
			*ok = false
			return 0
		default:
			adjusted = int64(*lastTS) + 1
			*correction = adjusted - int64(ts)
		}
	}
	*lastTS = uint64(adjusted)
	*ok = true
	return uint64(adjusted)
}

// WriteFrame appends a single encoded sample. ts is the sample's
// capture timestamp in the stream's native clock; pts is its
// presentation timestamp in the same base. Returns ErrStorageExhausted
// if a prune pass triggered by a full dumbdex freed no blocks.
func (w *StorageWriter) WriteFrame(media MediaType, payload []byte, key bool, ts, pts uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var ok bool
	var corrected uint64
	if media == MediaVideo {
		corrected = w.correct(ts, &w.lastVideoTS, &w.videoCorrection, &ok)
	} else {
		corrected = w.correct(ts, &w.lastAudioTS, &w.audioCorrection, &ok)
	}
	if !ok {
		w.log.Debug("dropping non-increasing timestamp", "media", media, "ts", ts)
		return nil
	}

	if media == MediaVideo && key {
		full, err := w.currentUsage()
		if err != nil {
			return err
		}
		if full > sealFraction {
			if err := w.seal(); err != nil {
				return err
			}
			if err := w.rotate(corrected); err != nil {
				return err
			}
		}
	}

	if !w.curRegistered && !(media == MediaVideo && key) {
		w.log.Debug("dropping frame until a video key frame opens the block", "media", media, "key", key)
		return nil
	}

	if !w.curRegistered {
		w.curStartTS = corrected
		if err := w.registerCurrentBlock(corrected); err != nil {
			return err
		}
	}

	return w.appendWithRotation(Frame{Timestamp: corrected, PTS: pts, Key: key, Media: media, Payload: payload})
}

func (w *StorageWriter) currentUsage() (float64, error) {
	bv, err := w.file.AcquireBlock(w.curBlock, false)
	if err != nil {
		return 0, err
	}
	defer bv.Release()
	return w.framer.UsageFraction(bv.Bytes), nil
}

// seal is a no-op beyond bookkeeping today: the current block's
// dumbdex entry was already written when it was registered, and
// blocks are sealed implicitly by rotating to a new one. It exists as
// an explicit step so future per-block trailer metadata (close
// timestamp, checksum) has a home.
func (w *StorageWriter) seal() error {
	return nil
}

func (w *StorageWriter) rotate(startTS uint64) error {
	blk, err := w.allocateBlock()
	if err != nil {
		return err
	}
	w.curBlock = blk
	w.curRegistered = false
	w.curStartTS = startTS

	bv, err := w.file.AcquireBlock(blk, true)
	if err != nil {
		return err
	}
	defer bv.Release()
	w.framer.Reset(bv.Bytes)
	w.framer.SetCodecMeta(bv.Bytes, w.codecMetaLocked())
	return nil
}

func (w *StorageWriter) registerCurrentBlock(ts uint64) error {
	if err := w.insertWithPrune(ts, w.curBlock); err != nil {
		return err
	}
	w.curRegistered = true
	return nil
}

func (w *StorageWriter) allocateBlock() (uint16, error) {
	if blk, ok, err := w.file.Dumbdex().PopFree(); err != nil {
		return 0, err
	} else if ok {
		return blk, nil
	}
	if uint32(w.nextSeqBlock) < w.file.NumBlocks() {
		blk := w.nextSeqBlock
		w.nextSeqBlock++
		return blk, nil
	}
	if w.pruneHook == nil {
		return 0, fmt.Errorf("%w: no free or unused blocks", ErrFull)
	}
	freed, err := w.pruneHook()
	if err != nil {
		return 0, err
	}
	if freed == 0 {
		return 0, ErrStorageExhausted
	}
	if blk, ok, err := w.file.Dumbdex().PopFree(); err != nil {
		return 0, err
	} else if ok {
		return blk, nil
	}
	return 0, fmt.Errorf("%w: no free or unused blocks", ErrFull)
}

func (w *StorageWriter) insertWithPrune(ts uint64, blk uint16) error {
	err := w.file.Dumbdex().Insert(ts, blk)
	if err == nil {
		return nil
	}
	if err != ErrFull || w.pruneHook == nil {
		return err
	}
	freed, pruneErr := w.pruneHook()
	if pruneErr != nil {
		return pruneErr
	}
	if freed == 0 {
		return ErrStorageExhausted
	}
	return w.file.Dumbdex().Insert(ts, blk)
}

func (w *StorageWriter) appendWithRotation(fr Frame) error {
	bv, err := w.file.AcquireBlock(w.curBlock, true)
	if err != nil {
		return err
	}
	if w.framer.Append(bv.Bytes, fr) {
		bv.Release()
		return nil
	}
	bv.Release()

	// The block filled up before a key frame gave us a natural
	// sealing point (e.g. a long run of audio-only frames). Rotate
	// and retry once.
	if err := w.seal(); err != nil {
		return err
	}
	if err := w.rotate(fr.Timestamp); err != nil {
		return err
	}
	if !(fr.Media == MediaVideo && fr.Key) {
		w.log.Debug("dropping frame until a video key frame opens the rotated block", "media", fr.Media, "key", fr.Key)
		return nil
	}
	if err := w.registerCurrentBlock(fr.Timestamp); err != nil {
		return err
	}

	bv, err = w.file.AcquireBlock(w.curBlock, true)
	if err != nil {
		return err
	}
	defer bv.Release()
	if !w.framer.Append(bv.Bytes, fr) {
		return fmt.Errorf("%w: frame of %d bytes does not fit in an empty block", ErrInvalidArgument, len(fr.Payload))
	}
	return nil
}
