package codec

import (
	"encoding/binary"
	"fmt"
)

// Fixed block lengths for the message bodies in this schema.
const (
	NewLeadershipTermBlockLength = 65
	CanvassPositionBlockLength   = 20
	SessionOpenBlockLength       = 36
	SessionCloseBlockLength      = 28
	ClusterActionBlockLength     = 28
)

// NewLeadershipTerm is the leader's answer to a follower's canvass: where the
// follower must truncate, and the metadata of the leader's current term.
type NewLeadershipTerm struct {
	LogLeadershipTermID int64
	LogTruncatePosition int64
	LeadershipTermID    int64
	TermBaseLogPosition int64
	LogPosition         int64
	LeaderRecordingID   int64
	Timestamp           int64
	LeaderMemberID      int32
	LogSessionID        int32
	IsStartup           bool
}

// EncodedLength is the full frame size of a NewLeadershipTerm message.
const NewLeadershipTermLength = HeaderLength + NewLeadershipTermBlockLength

// Encode writes the header and body into buf and returns the frame length.
// buf must hold at least NewLeadershipTermLength bytes.
func (m *NewLeadershipTerm) Encode(buf []byte) int {
	EncodeHeader(buf, Header{
		BlockLength: NewLeadershipTermBlockLength,
		TemplateID:  TemplateNewLeadershipTerm,
		SchemaID:    SchemaID,
		Version:     SchemaVersion,
	})
	b := buf[HeaderLength:]
	binary.LittleEndian.PutUint64(b[0:8], uint64(m.LogLeadershipTermID))
	binary.LittleEndian.PutUint64(b[8:16], uint64(m.LogTruncatePosition))
	binary.LittleEndian.PutUint64(b[16:24], uint64(m.LeadershipTermID))
	binary.LittleEndian.PutUint64(b[24:32], uint64(m.TermBaseLogPosition))
	binary.LittleEndian.PutUint64(b[32:40], uint64(m.LogPosition))
	binary.LittleEndian.PutUint64(b[40:48], uint64(m.LeaderRecordingID))
	binary.LittleEndian.PutUint64(b[48:56], uint64(m.Timestamp))
	binary.LittleEndian.PutUint32(b[56:60], uint32(m.LeaderMemberID))
	binary.LittleEndian.PutUint32(b[60:64], uint32(m.LogSessionID))
	putBool(b[64:65], m.IsStartup)
	return NewLeadershipTermLength
}

// DecodeNewLeadershipTerm reads a framed NewLeadershipTerm. Fields beyond the
// acting block length default to zero values; unknown trailing bytes from a
// newer schema version are ignored.
func DecodeNewLeadershipTerm(buf []byte) (NewLeadershipTerm, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return NewLeadershipTerm{}, err
	}
	if h.TemplateID != TemplateNewLeadershipTerm {
		return NewLeadershipTerm{}, fmt.Errorf("codec: template %d is not NewLeadershipTerm", h.TemplateID)
	}
	if len(buf) < HeaderLength+int(h.BlockLength) {
		return NewLeadershipTerm{}, fmt.Errorf("codec: truncated NewLeadershipTerm body")
	}
	b := buf[HeaderLength:]
	var m NewLeadershipTerm
	block := int(h.BlockLength)
	if block >= 8 {
		m.LogLeadershipTermID = int64(binary.LittleEndian.Uint64(b[0:8]))
	}
	if block >= 16 {
		m.LogTruncatePosition = int64(binary.LittleEndian.Uint64(b[8:16]))
	}
	if block >= 24 {
		m.LeadershipTermID = int64(binary.LittleEndian.Uint64(b[16:24]))
	}
	if block >= 32 {
		m.TermBaseLogPosition = int64(binary.LittleEndian.Uint64(b[24:32]))
	}
	if block >= 40 {
		m.LogPosition = int64(binary.LittleEndian.Uint64(b[32:40]))
	}
	if block >= 48 {
		m.LeaderRecordingID = int64(binary.LittleEndian.Uint64(b[40:48]))
	}
	if block >= 56 {
		m.Timestamp = int64(binary.LittleEndian.Uint64(b[48:56]))
	}
	if block >= 60 {
		m.LeaderMemberID = int32(binary.LittleEndian.Uint32(b[56:60]))
	}
	if block >= 64 {
		m.LogSessionID = int32(binary.LittleEndian.Uint32(b[60:64]))
	}
	if block >= 65 {
		m.IsStartup = getBool(b[64:65])
	}
	return m, nil
}

// CanvassPosition is a follower's report of its local replicated-log progress
// to a prospective leader during term negotiation.
type CanvassPosition struct {
	LogLeadershipTermID int64
	LogPosition         int64
	FollowerMemberID    int32
}

const CanvassPositionLength = HeaderLength + CanvassPositionBlockLength

func (m *CanvassPosition) Encode(buf []byte) int {
	EncodeHeader(buf, Header{
		BlockLength: CanvassPositionBlockLength,
		TemplateID:  TemplateCanvassPosition,
		SchemaID:    SchemaID,
		Version:     SchemaVersion,
	})
	b := buf[HeaderLength:]
	binary.LittleEndian.PutUint64(b[0:8], uint64(m.LogLeadershipTermID))
	binary.LittleEndian.PutUint64(b[8:16], uint64(m.LogPosition))
	binary.LittleEndian.PutUint32(b[16:20], uint32(m.FollowerMemberID))
	return CanvassPositionLength
}

func DecodeCanvassPosition(buf []byte) (CanvassPosition, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return CanvassPosition{}, err
	}
	if h.TemplateID != TemplateCanvassPosition {
		return CanvassPosition{}, fmt.Errorf("codec: template %d is not CanvassPosition", h.TemplateID)
	}
	block := int(h.BlockLength)
	if len(buf) < HeaderLength+block {
		return CanvassPosition{}, fmt.Errorf("codec: truncated CanvassPosition body")
	}
	b := buf[HeaderLength:]
	var m CanvassPosition
	if block >= 8 {
		m.LogLeadershipTermID = int64(binary.LittleEndian.Uint64(b[0:8]))
	}
	if block >= 16 {
		m.LogPosition = int64(binary.LittleEndian.Uint64(b[8:16]))
	}
	if block >= 20 {
		m.FollowerMemberID = int32(binary.LittleEndian.Uint32(b[16:20]))
	}
	return m, nil
}

// SessionOpen records a client session becoming part of the replicated log.
type SessionOpen struct {
	LeadershipTermID int64
	CorrelationID    int64
	ClusterSessionID int64
	Timestamp        int64
	ResponseStreamID int32
	ResponseChannel  string
}

// EncodedLength returns the full frame size for this message instance.
func (m *SessionOpen) EncodedLength() int {
	return HeaderLength + SessionOpenBlockLength + 4 + len(m.ResponseChannel)
}

func (m *SessionOpen) Encode(buf []byte) int {
	EncodeHeader(buf, Header{
		BlockLength: SessionOpenBlockLength,
		TemplateID:  TemplateSessionOpen,
		SchemaID:    SchemaID,
		Version:     SchemaVersion,
	})
	b := buf[HeaderLength:]
	binary.LittleEndian.PutUint64(b[0:8], uint64(m.LeadershipTermID))
	binary.LittleEndian.PutUint64(b[8:16], uint64(m.CorrelationID))
	binary.LittleEndian.PutUint64(b[16:24], uint64(m.ClusterSessionID))
	binary.LittleEndian.PutUint64(b[24:32], uint64(m.Timestamp))
	binary.LittleEndian.PutUint32(b[32:36], uint32(m.ResponseStreamID))
	n := putString(b[SessionOpenBlockLength:], m.ResponseChannel)
	return HeaderLength + SessionOpenBlockLength + n
}

func DecodeSessionOpen(buf []byte) (SessionOpen, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return SessionOpen{}, err
	}
	if h.TemplateID != TemplateSessionOpen {
		return SessionOpen{}, fmt.Errorf("codec: template %d is not SessionOpen", h.TemplateID)
	}
	block := int(h.BlockLength)
	if len(buf) < HeaderLength+block {
		return SessionOpen{}, fmt.Errorf("codec: truncated SessionOpen body")
	}
	b := buf[HeaderLength:]
	var m SessionOpen
	if block >= 8 {
		m.LeadershipTermID = int64(binary.LittleEndian.Uint64(b[0:8]))
	}
	if block >= 16 {
		m.CorrelationID = int64(binary.LittleEndian.Uint64(b[8:16]))
	}
	if block >= 24 {
		m.ClusterSessionID = int64(binary.LittleEndian.Uint64(b[16:24]))
	}
	if block >= 32 {
		m.Timestamp = int64(binary.LittleEndian.Uint64(b[24:32]))
	}
	if block >= 36 {
		m.ResponseStreamID = int32(binary.LittleEndian.Uint32(b[32:36]))
	}
	channel, _, err := getString(b[block:])
	if err != nil {
		return SessionOpen{}, err
	}
	m.ResponseChannel = channel
	return m, nil
}

// SessionClose records the end of a client session with its close reason code.
type SessionClose struct {
	LeadershipTermID int64
	ClusterSessionID int64
	Timestamp        int64
	CloseReason      int32
}

const SessionCloseLength = HeaderLength + SessionCloseBlockLength

func (m *SessionClose) Encode(buf []byte) int {
	EncodeHeader(buf, Header{
		BlockLength: SessionCloseBlockLength,
		TemplateID:  TemplateSessionClose,
		SchemaID:    SchemaID,
		Version:     SchemaVersion,
	})
	b := buf[HeaderLength:]
	binary.LittleEndian.PutUint64(b[0:8], uint64(m.LeadershipTermID))
	binary.LittleEndian.PutUint64(b[8:16], uint64(m.ClusterSessionID))
	binary.LittleEndian.PutUint64(b[16:24], uint64(m.Timestamp))
	binary.LittleEndian.PutUint32(b[24:28], uint32(m.CloseReason))
	return SessionCloseLength
}

func DecodeSessionClose(buf []byte) (SessionClose, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return SessionClose{}, err
	}
	if h.TemplateID != TemplateSessionClose {
		return SessionClose{}, fmt.Errorf("codec: template %d is not SessionClose", h.TemplateID)
	}
	block := int(h.BlockLength)
	if len(buf) < HeaderLength+block {
		return SessionClose{}, fmt.Errorf("codec: truncated SessionClose body")
	}
	b := buf[HeaderLength:]
	var m SessionClose
	if block >= 8 {
		m.LeadershipTermID = int64(binary.LittleEndian.Uint64(b[0:8]))
	}
	if block >= 16 {
		m.ClusterSessionID = int64(binary.LittleEndian.Uint64(b[8:16]))
	}
	if block >= 24 {
		m.Timestamp = int64(binary.LittleEndian.Uint64(b[16:24]))
	}
	if block >= 28 {
		m.CloseReason = int32(binary.LittleEndian.Uint32(b[24:28]))
	}
	return m, nil
}

// ClusterAction records an operator-driven action (suspend/resume) agreed
// through the replicated log.
type ClusterAction struct {
	LeadershipTermID int64
	LogPosition      int64
	Timestamp        int64
	Action           int32
}

const ClusterActionLength = HeaderLength + ClusterActionBlockLength

func (m *ClusterAction) Encode(buf []byte) int {
	EncodeHeader(buf, Header{
		BlockLength: ClusterActionBlockLength,
		TemplateID:  TemplateClusterAction,
		SchemaID:    SchemaID,
		Version:     SchemaVersion,
	})
	b := buf[HeaderLength:]
	binary.LittleEndian.PutUint64(b[0:8], uint64(m.LeadershipTermID))
	binary.LittleEndian.PutUint64(b[8:16], uint64(m.LogPosition))
	binary.LittleEndian.PutUint64(b[16:24], uint64(m.Timestamp))
	binary.LittleEndian.PutUint32(b[24:28], uint32(m.Action))
	return ClusterActionLength
}

func DecodeClusterAction(buf []byte) (ClusterAction, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return ClusterAction{}, err
	}
	if h.TemplateID != TemplateClusterAction {
		return ClusterAction{}, fmt.Errorf("codec: template %d is not ClusterAction", h.TemplateID)
	}
	block := int(h.BlockLength)
	if len(buf) < HeaderLength+block {
		return ClusterAction{}, fmt.Errorf("codec: truncated ClusterAction body")
	}
	b := buf[HeaderLength:]
	var m ClusterAction
	if block >= 8 {
		m.LeadershipTermID = int64(binary.LittleEndian.Uint64(b[0:8]))
	}
	if block >= 16 {
		m.LogPosition = int64(binary.LittleEndian.Uint64(b[8:16]))
	}
	if block >= 24 {
		m.Timestamp = int64(binary.LittleEndian.Uint64(b[16:24]))
	}
	if block >= 28 {
		m.Action = int32(binary.LittleEndian.Uint32(b[24:28]))
	}
	return m, nil
}
