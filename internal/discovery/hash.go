package discovery

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
)

// HashStreamConfig computes an MD5 digest over the lexicographically
// fixed field order id | ipv4 | xaddrs | address | rtsp_url |
// video_codec | video_codec_parameters | video_timebase | audio_codec
// | audio_codec_parameters | audio_timebase, skipping any field that
// is empty/zero — a direct port of hash_stream_config's null-skipping
// behavior over r_nullable fields.
func HashStreamConfig(c StreamConfig) string {
	h := md5.New()

	h.Write([]byte(c.ID))
	if c.IPv4 != "" {
		h.Write([]byte(c.IPv4))
	}
	if c.XAddrs != "" {
		h.Write([]byte(c.XAddrs))
	}
	if c.Address != "" {
		h.Write([]byte(c.Address))
	}
	if c.RTSPURL != "" {
		h.Write([]byte(c.RTSPURL))
	}
	if c.VideoCodec != "" {
		h.Write([]byte(c.VideoCodec))
	}
	if c.VideoCodecParameters != "" {
		h.Write([]byte(c.VideoCodecParameters))
	}
	if c.VideoTimebase != 0 {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(c.VideoTimebase))
		h.Write(b[:])
	}
	if c.AudioCodec != "" {
		h.Write([]byte(c.AudioCodec))
	}
	if c.AudioCodecParameters != "" {
		h.Write([]byte(c.AudioCodecParameters))
	}
	if c.AudioTimebase != 0 {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(c.AudioTimebase))
		h.Write(b[:])
	}

	return hex.EncodeToString(h.Sum(nil))
}

// IDFromAddress computes a camera id as the hex-encoded MD5 digest of
// its ONVIF address, matching r_agent::interrogate_camera's id
// derivation (a plain hex digest stands in for get_as_uuid()'s
// formatting, since nothing downstream depends on UUID dash layout).
func IDFromAddress(address string) string {
	sum := md5.Sum([]byte(address))
	return hex.EncodeToString(sum[:])
}
