package translate

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// FingerprintProjection controls which parts of a canonical request
// contribute to its fingerprint hash. The projection is data, not code:
// every field here is a plain toggle evaluated the same way for every
// request.
type FingerprintProjection struct {
	ExcludeSystem bool
	ExcludeLastNTurns int
}

// Fingerprint is a stable, content-addressed hash over the configured
// projection of a canonical request. It must be stable across process
// restarts, so it is computed purely from field values, never
// from pointers or map iteration order.
func Fingerprint(req *Request, proj FingerprintProjection) string {
	h := sha256.New()
	writeString(h, string(req.Origin))
	writeString(h, req.Model)

	if !proj.ExcludeSystem && req.System != nil {
		writeString(h, "system")
		writeString(h, req.System.Text)
	}

	messages := req.Messages
	if proj.ExcludeLastNTurns > 0 && len(messages) > proj.ExcludeLastNTurns {
		messages = messages[:len(messages)-proj.ExcludeLastNTurns]
	}
	for _, m := range messages {
		writeString(h, string(m.Role))
		for _, b := range m.Blocks {
			writeBlock(h, b)
		}
	}

	writeFloatPtr(h, req.Temperature)
	writeFloatPtr(h, req.TopP)
	writeIntPtr(h, req.TopK)
	writeIntPtr(h, req.MaxTokens)
	for _, s := range uniqueSorted(req.StopSequences) {
		writeString(h, s)
	}
	writeBool(h, req.Stream)
	writeBool(h, req.ThinkingMode)
	for _, t := range req.Tools {
		writeString(h, t.Name)
		writeString(h, t.Description)
		h.Write(t.Parameters)
	}

	return hex.EncodeToString(h.Sum(nil))
}

func writeBlock(h interface{ Write([]byte) (int, error) }, b Block) {
	writeString(h, string(b.Type))
	switch b.Type {
	case BlockText:
		writeString(h, b.Text)
	case BlockImage:
		writeString(h, b.MediaType)
		writeString(h, b.Data)
	case BlockToolUse:
		writeString(h, b.ToolUseID)
		writeString(h, b.ToolName)
		h.Write(b.ToolInput)
	case BlockToolResult:
		writeString(h, b.ToolResultID)
		writeString(h, b.ToolResultText)
		for _, sub := range b.ToolResultBlocks {
			writeBlock(h, sub)
		}
	}
}

func writeString(h interface{ Write([]byte) (int, error) }, s string) {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(s)))
	h.Write(lenBuf[:])
	h.Write([]byte(s))
}

func writeBool(h interface{ Write([]byte) (int, error) }, b bool) {
	if b {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
}

func writeFloatPtr(h interface{ Write([]byte) (int, error) }, f *float64) {
	if f == nil {
		h.Write([]byte{0})
		return
	}
	h.Write([]byte{1})
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(int64(*f*1e6)))
	h.Write(buf[:])
}

func writeIntPtr(h interface{ Write([]byte) (int, error) }, i *int) {
	if i == nil {
		h.Write([]byte{0})
		return
	}
	h.Write([]byte{1})
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(int64(*i)))
	h.Write(buf[:])
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
