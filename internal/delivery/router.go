// Package delivery decides, per recipient, between local delivery,
// cross-node forwarding and an offline drop.
package delivery

import (
	"context"
	"errors"

	"github.com/dongzzi101/chat-sevice/internal/domain"
	"github.com/dongzzi101/chat-sevice/internal/session"
	"github.com/dongzzi101/chat-sevice/pkg/log"
)

// Directory resolves which node holds a user's connection.
type Directory interface {
	Lookup(ctx context.Context, userID int64) (string, error)
	Self() string
}

// LocalSender writes a payload to a locally connected user.
type LocalSender interface {
	SendLocal(ctx context.Context, userID int64, payload any) error
}

// NodeForwarder pushes payloads to a peer node.
type NodeForwarder interface {
	Forward(nodeAddr string, payload any)
	ForwardBatch(nodeAddr string, payload any)
}

// Router executes delivery decisions. It performs network calls only;
// it never mutates storage.
type Router struct {
	directory Directory
	local     LocalSender
	forwarder NodeForwarder
}

func NewRouter(directory Directory, local LocalSender, forwarder NodeForwarder) *Router {
	return &Router{
		directory: directory,
		local:     local,
		forwarder: forwarder,
	}
}

// Deliver pushes msg to receiverID wherever they are connected. Offline
// receivers are a no-op: the message is durably stored and will be seen
// on the next history read. Directory failures degrade to offline.
func (r *Router) Deliver(ctx context.Context, receiverID int64, msg domain.Message) {
	l := log.Ctx(ctx)

	addr, err := r.directory.Lookup(ctx, receiverID)
	if err != nil {
		if !errors.Is(err, session.ErrOffline) {
			l.Warn().Int64(log.FieldUserID, receiverID).Err(err).
				Msg("directory lookup failed, treating receiver as offline")
		}
		return
	}

	payload := msg.Push()
	payload.ReceiverID = receiverID

	if addr == r.directory.Self() {
		if err := r.local.SendLocal(ctx, receiverID, payload); err != nil {
			l.Warn().Int64(log.FieldUserID, receiverID).Err(err).
				Msg("local delivery failed")
		}
		return
	}

	l.Debug().Int64(log.FieldUserID, receiverID).Str(log.FieldNode, addr).
		Msg("forwarding message to peer node")
	r.forwarder.Forward(addr, payload)
}

// DeliverBatch pushes msg to many receivers known to live on nodeAddr:
// one node-to-node call instead of one per user, with the same retry
// contract as Deliver's forward path.
func (r *Router) DeliverBatch(ctx context.Context, nodeAddr string, receiverIDs []int64, msg domain.Message) {
	if len(receiverIDs) == 0 {
		return
	}

	push := msg.Push()
	payload := domain.BatchPushPayload{
		ReceiverIDs: receiverIDs,
		MessageID:   push.MessageID,
		SenderID:    push.SenderID,
		Content:     push.Content,
		ChatRoomID:  push.ChatRoomID,
		SentAt:      push.SentAt,
	}

	log.Ctx(ctx).Debug().Str(log.FieldNode, nodeAddr).Int("receivers", len(receiverIDs)).
		Msg("forwarding message batch to peer node")
	r.forwarder.ForwardBatch(nodeAddr, payload)
}
