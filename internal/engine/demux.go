package engine

import (
	"bytes"
	"encoding/binary"
)

// The exec channel multiplexes stdout and stderr into one byte stream using
// 8-byte frame headers: byte 0 is the stream tag (1 stdout, 2 stderr),
// bytes 1-3 are padding and bytes 4-7 hold the big-endian uint32 payload
// length. The payload follows immediately.
const (
	frameHeaderLen = 8

	streamStdout = 1
	streamStderr = 2
)

// Demux splits a multiplexed buffer into stdout and stderr. A trailing
// partial frame is ignored, zero-length frames are tolerated, and a buffer
// with no valid frame at all is returned verbatim as stdout so that
// non-conforming streams still surface their content.
func Demux(raw []byte) (stdout, stderr string) {
	var out, errOut bytes.Buffer
	frames := 0

	for i := 0; i+frameHeaderLen <= len(raw); {
		tag := raw[i]
		if tag != streamStdout && tag != streamStderr {
			break
		}
		size := int(binary.BigEndian.Uint32(raw[i+4 : i+frameHeaderLen]))
		start := i + frameHeaderLen
		if start+size > len(raw) {
			// Partial trailing frame; drop it.
			break
		}
		if tag == streamStdout {
			out.Write(raw[start : start+size])
		} else {
			errOut.Write(raw[start : start+size])
		}
		frames++
		i = start + size
	}

	if frames == 0 && len(raw) > 0 {
		return string(raw), ""
	}
	return out.String(), errOut.String()
}
