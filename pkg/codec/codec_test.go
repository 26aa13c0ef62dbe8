package codec

import (
	"bytes"
	"testing"
)

func TestNewLeadershipTerm_ReferenceEncoding(t *testing.T) {
	m := NewLeadershipTerm{
		LogLeadershipTermID: 1,
		LogTruncatePosition: 500,
		LeadershipTermID:    3,
		TermBaseLogPosition: 750,
		LogPosition:         1000,
		LeaderRecordingID:   0,
		Timestamp:           3000,
		LeaderMemberID:      0,
		LogSessionID:        0,
		IsStartup:           false,
	}

	buf := make([]byte, NewLeadershipTermLength)
	n := m.Encode(buf)
	if n != NewLeadershipTermLength {
		t.Fatalf("encoded length = %d, want %d", n, NewLeadershipTermLength)
	}

	// Reference bytes agreed across all implementations: 8-byte header
	// (block length 65, template 24, schema 111, version 1) then the
	// little-endian fixed body.
	expected := []byte{
		0x41, 0x00, 0x18, 0x00, 0x6f, 0x00, 0x01, 0x00,
		0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // logLeadershipTermId = 1
		0xf4, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // logTruncatePosition = 500
		0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // leadershipTermId = 3
		0xee, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // termBaseLogPosition = 750
		0xe8, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // logPosition = 1000
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // leaderRecordingId = 0
		0xb8, 0x0b, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // timestamp = 3000
		0x00, 0x00, 0x00, 0x00, // leaderMemberId = 0
		0x00, 0x00, 0x00, 0x00, // logSessionId = 0
		0x00, // isStartup = false
	}
	if !bytes.Equal(buf, expected) {
		t.Fatalf("encoding mismatch\n got: %#v\nwant: %#v", buf, expected)
	}

	decoded, err := DecodeNewLeadershipTerm(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != m {
		t.Fatalf("decoded = %+v, want %+v", decoded, m)
	}
}

func TestNewLeadershipTerm_DecodesNewerSchemaBlock(t *testing.T) {
	m := NewLeadershipTerm{LeadershipTermID: 7, LogPosition: 4096, IsStartup: true}
	buf := make([]byte, NewLeadershipTermLength+8)
	m.Encode(buf)
	// Simulate a newer peer: longer block with trailing fields we do not know.
	EncodeHeader(buf, Header{
		BlockLength: NewLeadershipTermBlockLength + 8,
		TemplateID:  TemplateNewLeadershipTerm,
		SchemaID:    SchemaID,
		Version:     SchemaVersion + 1,
	})

	decoded, err := DecodeNewLeadershipTerm(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.LeadershipTermID != 7 || decoded.LogPosition != 4096 || !decoded.IsStartup {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestNewLeadershipTerm_OlderSchemaDefaultsMissingFields(t *testing.T) {
	m := NewLeadershipTerm{LeadershipTermID: 2, LeaderMemberID: 1, IsStartup: true}
	buf := make([]byte, NewLeadershipTermLength)
	m.Encode(buf)
	// Older peer whose block ends before logSessionId/isStartup.
	EncodeHeader(buf, Header{
		BlockLength: 60,
		TemplateID:  TemplateNewLeadershipTerm,
		SchemaID:    SchemaID,
		Version:     SchemaVersion,
	})

	decoded, err := DecodeNewLeadershipTerm(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.LeaderMemberID != 1 {
		t.Fatalf("leaderMemberId = %d, want 1", decoded.LeaderMemberID)
	}
	if decoded.IsStartup {
		t.Fatalf("isStartup should default to false below the acting block length")
	}
}

func TestDecodeHeader_RejectsForeignSchema(t *testing.T) {
	buf := make([]byte, HeaderLength)
	EncodeHeader(buf, Header{BlockLength: 8, TemplateID: 1, SchemaID: 42, Version: 1})
	if _, err := DecodeHeader(buf); err == nil {
		t.Fatalf("expected schema mismatch error")
	}
}

func TestSessionOpen_EncodeDecodeWithChannel(t *testing.T) {
	m := SessionOpen{
		LeadershipTermID: 5,
		CorrelationID:    99,
		ClusterSessionID: 12,
		Timestamp:        10_000,
		ResponseStreamID: 2,
		ResponseChannel:  "udp://localhost:11111",
	}
	buf := make([]byte, m.EncodedLength())
	if n := m.Encode(buf); n != m.EncodedLength() {
		t.Fatalf("encoded length = %d, want %d", n, m.EncodedLength())
	}
	decoded, err := DecodeSessionOpen(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != m {
		t.Fatalf("decoded = %+v, want %+v", decoded, m)
	}
}

func TestDecode_TruncatedBodyFails(t *testing.T) {
	m := SessionClose{ClusterSessionID: 1, CloseReason: 2}
	buf := make([]byte, SessionCloseLength)
	m.Encode(buf)
	if _, err := DecodeSessionClose(buf[:HeaderLength+4]); err == nil {
		t.Fatalf("expected truncation error")
	}
}
