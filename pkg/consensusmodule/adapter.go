package consensusmodule

import (
	"fmt"

	"github.com/amirimatin/go-consensus/pkg/codec"
	"github.com/amirimatin/go-consensus/pkg/concurrent"
)

type ingressKind int

const (
	ingressConnect ingressKind = iota
	ingressKeepAlive
	ingressCloseRequest
	ingressServiceAck
	ingressCanvassPosition
)

type ingressMessage struct {
	kind ingressKind

	correlationID    int64
	responseStreamID int32
	protocolVersion  int32
	responseChannel  string
	credentials      []byte

	sessionID        int64
	leadershipTermID int64

	logPosition int64
	timestamp   int64
	ackID       int64
	relevantID  int64
	serviceID   int32

	followerLogPosition int64
	followerMemberID    int32
}

// Adapter funnels messages arriving on transport goroutines into the agent's
// duty-cycle thread through a bounded queue. Offer methods are safe for
// concurrent use and report false when the queue is full so the transport can
// apply its own backpressure; Poll must only be called from the thread that
// calls Agent.DoWork.
type Adapter struct {
	agent  *Agent
	queue  chan ingressMessage
	errors concurrent.ErrorHandler
}

// NewAdapter creates an adapter with the given queue capacity.
func NewAdapter(agent *Agent, capacity int, errorHandler concurrent.ErrorHandler) *Adapter {
	if capacity <= 0 {
		capacity = 128
	}
	return &Adapter{
		agent:  agent,
		queue:  make(chan ingressMessage, capacity),
		errors: errorHandler,
	}
}

func (ad *Adapter) offer(msg ingressMessage) bool {
	select {
	case ad.queue <- msg:
		return true
	default:
		return false
	}
}

// OfferSessionConnect enqueues a client connect request.
func (ad *Adapter) OfferSessionConnect(
	correlationID int64,
	responseStreamID int32,
	protocolVersion int32,
	responseChannel string,
	credentials []byte,
) bool {
	return ad.offer(ingressMessage{
		kind:             ingressConnect,
		correlationID:    correlationID,
		responseStreamID: responseStreamID,
		protocolVersion:  protocolVersion,
		responseChannel:  responseChannel,
		credentials:      credentials,
	})
}

// OfferSessionKeepAlive enqueues a session heartbeat.
func (ad *Adapter) OfferSessionKeepAlive(sessionID, leadershipTermID int64) bool {
	return ad.offer(ingressMessage{
		kind:             ingressKeepAlive,
		sessionID:        sessionID,
		leadershipTermID: leadershipTermID,
	})
}

// OfferSessionClose enqueues a client's close request.
func (ad *Adapter) OfferSessionClose(sessionID int64) bool {
	return ad.offer(ingressMessage{kind: ingressCloseRequest, sessionID: sessionID})
}

// OfferServiceAck enqueues an attached service's acknowledgement.
func (ad *Adapter) OfferServiceAck(logPosition, timestamp, ackID, relevantID int64, serviceID int32) bool {
	return ad.offer(ingressMessage{
		kind:        ingressServiceAck,
		logPosition: logPosition,
		timestamp:   timestamp,
		ackID:       ackID,
		relevantID:  relevantID,
		serviceID:   serviceID,
	})
}

// OfferCanvassPosition enqueues a follower's log progress report.
func (ad *Adapter) OfferCanvassPosition(followerTermID, followerLogPosition int64, followerMemberID int32) bool {
	return ad.offer(ingressMessage{
		kind:                ingressCanvassPosition,
		leadershipTermID:    followerTermID,
		followerLogPosition: followerLogPosition,
		followerMemberID:    followerMemberID,
	})
}

// OnFrame decodes one consensus-channel frame and enqueues the message it
// carries. Decode faults are routed to the error sink; a malformed frame
// never reaches the agent.
func (ad *Adapter) OnFrame(frame []byte) bool {
	hdr, err := codec.DecodeHeader(frame)
	if err != nil {
		ad.onError(err)
		return true
	}
	switch hdr.TemplateID {
	case codec.TemplateCanvassPosition:
		msg, err := codec.DecodeCanvassPosition(frame)
		if err != nil {
			ad.onError(err)
			return true
		}
		return ad.OfferCanvassPosition(msg.LogLeadershipTermID, msg.LogPosition, msg.FollowerMemberID)
	default:
		ad.onError(fmt.Errorf("consensusmodule: unexpected consensus template %d", hdr.TemplateID))
		return true
	}
}

func (ad *Adapter) onError(err error) {
	if ad.errors != nil {
		ad.errors(err)
	}
}

// Poll drains up to limit queued messages into the agent. The returned error
// is ErrClusterTermination when a service acknowledgement completed the
// shutdown sequence.
func (ad *Adapter) Poll(limit int) (int, error) {
	workCount := 0
	for workCount < limit {
		select {
		case msg := <-ad.queue:
			workCount++
			if err := ad.dispatch(msg); err != nil {
				return workCount, err
			}
		default:
			return workCount, nil
		}
	}
	return workCount, nil
}

func (ad *Adapter) dispatch(msg ingressMessage) error {
	switch msg.kind {
	case ingressConnect:
		ad.agent.OnSessionConnect(
			msg.correlationID, msg.responseStreamID, msg.protocolVersion, msg.responseChannel, msg.credentials)
	case ingressKeepAlive:
		ad.agent.OnSessionKeepAlive(msg.sessionID, msg.leadershipTermID)
	case ingressCloseRequest:
		ad.agent.OnSessionCloseRequest(msg.sessionID)
	case ingressServiceAck:
		return ad.agent.OnServiceAck(msg.logPosition, msg.timestamp, msg.ackID, msg.relevantID, msg.serviceID)
	case ingressCanvassPosition:
		ad.agent.OnCanvassPosition(msg.leadershipTermID, msg.followerLogPosition, msg.followerMemberID)
	}
	return nil
}
