// Package wsfront is the sequencer's external front door: a
// JSON-over-WebSocket transport grounded on the teacher's client
// connection handler, carrying submissions in and delivered events out
// over a single duplex connection per member.
//
// This is not a full gRPC service: the corpus's generated protobuf
// message types were never part of the retrieval this module was built
// from, so wire framing here is plain JSON rather than protobuf. Error
// codes still follow the gRPC vocabulary (internal/transport) so a
// future generated-code transport can be swapped in without changing
// the error taxonomy callers observe.
package wsfront

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ledgerfabric/sequencer/internal/ack"
	"github.com/ledgerfabric/sequencer/internal/crypto"
	"github.com/ledgerfabric/sequencer/internal/logging"
	"github.com/ledgerfabric/sequencer/internal/member"
	"github.com/ledgerfabric/sequencer/internal/model"
	"github.com/ledgerfabric/sequencer/internal/pipeline"
	"github.com/ledgerfabric/sequencer/internal/signaller"
	"github.com/ledgerfabric/sequencer/internal/store"
	"github.com/ledgerfabric/sequencer/internal/subscription"
	"github.com/ledgerfabric/sequencer/internal/transport"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// inboundEnvelope is the JSON shape of a client-to-server frame. The
// first frame on a connection must be a "subscribe" envelope carrying
// the resume counter; subsequent frames are submissions.
type inboundEnvelope struct {
	Type      string         `json:"type"`
	MessageID string         `json:"message_id"`
	Batch     []wireEnvelope `json:"batch,omitempty"`
	MaxSeqMs  int64          `json:"max_sequencing_time_ms,omitempty"`
	AckThru   uint64         `json:"ack_through,omitempty"`
	Counter   uint64         `json:"counter,omitempty"`
}

type wireEnvelope struct {
	ContentB64 string   `json:"content_b64"`
	Recipients []string `json:"recipients"`
}

// outboundEnvelope is the JSON shape of a server-to-client control
// frame: acknowledgement rejections and errors, which carry no signed
// content of their own.
type outboundEnvelope struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// signedEventEnvelope is the server-to-client shape for a delivered
// event: the event content, base64-encoded, plus an HMAC tag over it so
// a subscriber can verify the sequencer actually emitted it.
type signedEventEnvelope struct {
	Type         string `json:"type"`
	ContentB64   string `json:"content_b64"`
	SignatureB64 string `json:"signature_b64,omitempty"`
}

// eventContent is the struct whose JSON encoding is what the oracle
// signs: the fields a subscriber needs to act on a delivered event.
type eventContent struct {
	Counter   uint64 `json:"counter"`
	Kind      string `json:"kind"`
	MessageID string `json:"message_id"`
	Reason    string `json:"reason,omitempty"`
}

// Front serves the sequencer's write path over WebSocket connections.
type Front struct {
	pipeline           *pipeline.Pipeline
	members            *member.Registry
	st                 store.Store
	signal             *signaller.EventSignaller
	acks               *ack.Tracker
	log                *logging.Logger
	checkpointInterval time.Duration
	oracle             crypto.Oracle
}

// New constructs a Front wired to the given write-path components.
// checkpointInterval bounds how long a subscriber can go without a
// fresh log read when wake-ups are lost; oracle signs every delivered
// event's content and may be nil, in which case events are sent
// unsigned.
func New(p *pipeline.Pipeline, members *member.Registry, st store.Store, signal *signaller.EventSignaller, acks *ack.Tracker, log *logging.Logger, checkpointInterval time.Duration, oracle crypto.Oracle) *Front {
	return &Front{pipeline: p, members: members, st: st, signal: signal, acks: acks, log: log, checkpointInterval: checkpointInterval, oracle: oracle}
}

// ServeHTTP upgrades the connection and runs the member's duplex session
// until the client disconnects or the server shuts down.
func (f *Front) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("member")
	if identity == "" {
		http.Error(w, "member query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Error("websocket upgrade failed", logging.Member(identity), logging.Error(err))
		return
	}
	defer conn.Close()

	memberID, err := f.members.Register(model.Member(identity))
	if err != nil {
		f.writeError(conn, err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	var sub inboundEnvelope
	if err := conn.ReadJSON(&sub); err != nil {
		f.log.Warn("connection closed before subscribe frame", logging.Member(identity), logging.Error(err))
		return
	}
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}

	mgr := subscription.New(model.Member(identity), memberID, f.st, f.signal, f.acks, f.checkpointInterval)
	go f.runWriter(ctx, conn, mgr, sub.Counter)
	f.runReader(ctx, cancel, conn, model.Member(identity))
}

func (f *Front) runReader(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, identity model.Member) {
	defer cancel()
	for {
		messageType, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env inboundEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			f.log.Warn("dropping invalid JSON submission", logging.Member(identity), logging.Error(err))
			continue
		}

		req := decodeSubmission(identity, env)
		event, err := f.pipeline.Submit(ctx, req)
		f.writeResult(conn, event, err)
	}
}

func (f *Front) runWriter(ctx context.Context, conn *websocket.Conn, mgr *subscription.Manager, from uint64) {
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	go mgr.Stream(streamCtx, from, func(e model.Event) error {
		return f.writeEvent(conn, e)
	})

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func decodeSubmission(identity model.Member, env inboundEnvelope) model.SubmissionRequest {
	req := model.SubmissionRequest{Sender: identity, MessageID: env.MessageID}
	if env.MaxSeqMs > 0 {
		req.MaxSequencingTime = time.UnixMilli(env.MaxSeqMs)
	}
	for _, we := range env.Batch {
		recipients := make([]model.Member, len(we.Recipients))
		for i, r := range we.Recipients {
			recipients[i] = model.Member(r)
		}
		req.Batch = append(req.Batch, model.Envelope{Content: decodeBase64(we.ContentB64), Recipients: recipients})
	}
	return req
}

func (f *Front) writeResult(conn *websocket.Conn, event model.Event, err error) {
	if err != nil {
		st := transport.ToStatus(err)
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteJSON(outboundEnvelope{Type: "rejected", Code: st.Code().String(), Error: st.Message()})
		return
	}
	_ = f.writeEvent(conn, event)
}

func (f *Front) writeEvent(conn *websocket.Conn, e model.Event) error {
	content, err := json.Marshal(eventContent{
		Counter:   e.Counter,
		Kind:      kindLabel(e.Kind),
		MessageID: e.MessageID,
		Reason:    e.Reason,
	})
	if err != nil {
		return err
	}

	env := signedEventEnvelope{Type: "event", ContentB64: base64.StdEncoding.EncodeToString(content)}
	if f.oracle != nil {
		sig, err := f.oracle.Sign(content)
		if err != nil {
			return err
		}
		env.SignatureB64 = base64.StdEncoding.EncodeToString(sig)
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(env)
}

func (f *Front) writeError(conn *websocket.Conn, err error) {
	st := transport.ToStatus(err)
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(outboundEnvelope{Type: "rejected", Code: st.Code().String(), Error: st.Message()})
}

func kindLabel(k model.EventKind) string {
	if k == model.EventDeliver {
		return "deliver"
	}
	return "deliver_error"
}

func decodeBase64(s string) []byte {
	out, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil
	}
	return out
}
