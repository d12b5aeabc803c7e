package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dongzzi101/chat-sevice/internal/domain"
	"github.com/dongzzi101/chat-sevice/pkg/log"
)

type Participants interface {
	ActiveParticipants(ctx context.Context, roomID int64) ([]int64, error)
}

type Directory interface {
	LookupAll(ctx context.Context, userIDs []int64) (map[int64]string, error)
	Self() string
}

type LocalSender interface {
	SendLocal(ctx context.Context, userID int64, payload any) error
}

type BatchDeliverer interface {
	DeliverBatch(ctx context.Context, nodeAddr string, receiverIDs []int64, msg domain.Message)
}

// Handler resolves a fanout event to its recipients: room participants
// minus the sender, located through the session directory. Same-node
// recipients get a direct socket write, remote recipients are batched per
// node into a single forward call.
type Handler struct {
	participants Participants
	directory    Directory
	local        LocalSender
	deliverer    BatchDeliverer
}

func NewHandler(participants Participants, directory Directory, local LocalSender, deliverer BatchDeliverer) *Handler {
	return &Handler{
		participants: participants,
		directory:    directory,
		local:        local,
		deliverer:    deliverer,
	}
}

func (h *Handler) Handle(ctx context.Context, value []byte) error {
	l := log.Ctx(ctx)

	var event domain.Event
	if err := json.Unmarshal(value, &event); err != nil {
		l.Warn().Err(err).Msg("failed to unmarshal fanout event, skipping")
		return nil
	}

	members, err := h.participants.ActiveParticipants(ctx, event.ChatRoomID)
	if err != nil {
		// Store hiccups are retryable. Returning the error withholds the
		// offset commit so the event is delivered again.
		return fmt.Errorf("participant lookup for room %d: %w", event.ChatRoomID, err)
	}

	receivers := make([]int64, 0, len(members))
	for _, userID := range members {
		if userID == event.SenderID {
			continue
		}
		receivers = append(receivers, userID)
	}
	if len(receivers) == 0 {
		return nil
	}

	locations, err := h.directory.LookupAll(ctx, receivers)
	if err != nil {
		return fmt.Errorf("session directory lookup for room %d: %w", event.ChatRoomID, err)
	}

	self := h.directory.Self()
	remote := make(map[string][]int64)
	delivered := 0
	for _, userID := range receivers {
		addr, online := locations[userID]
		if !online {
			continue
		}
		if addr == self {
			if sendErr := h.local.SendLocal(ctx, userID, event.Push()); sendErr != nil {
				l.Debug().Int64(log.FieldUserID, userID).Err(sendErr).
					Msg("local delivery miss, session gone")
				continue
			}
			delivered++
			continue
		}
		remote[addr] = append(remote[addr], userID)
	}

	if len(remote) > 0 {
		msg := domain.Message{
			ID:        event.MessageID,
			RoomID:    event.ChatRoomID,
			SenderID:  event.SenderID,
			Body:      event.Content,
			CreatedAt: event.CreatedAt,
		}
		var wg sync.WaitGroup
		for addr, userIDs := range remote {
			wg.Add(1)
			go func(addr string, userIDs []int64) {
				defer wg.Done()
				h.deliverer.DeliverBatch(ctx, addr, userIDs, msg)
			}(addr, userIDs)
		}
		wg.Wait()
	}

	l.Debug().
		Int64(log.FieldMessageID, event.MessageID).
		Int64(log.FieldRoomID, event.ChatRoomID).
		Int("local_delivered", delivered).
		Int("remote_nodes", len(remote)).
		Msg("fanout event dispatched")

	return nil
}
