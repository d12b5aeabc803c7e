// Package chat implements the send pipeline: validate, assign an id,
// persist on the room's shard, advance or coalesce the room's last-message
// pointer, echo to the sender, and hand the message to fanout.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dongzzi101/chat-sevice/internal/domain"
	"github.com/dongzzi101/chat-sevice/internal/shard"
	"github.com/dongzzi101/chat-sevice/internal/store"
	"github.com/dongzzi101/chat-sevice/pkg/log"
)

var (
	ErrRoomNotFound   = errors.New("chat: room not found")
	ErrNotParticipant = errors.New("chat: user is not a room participant")
	ErrEmptyContent   = errors.New("chat: empty message content")
)

const defaultHistoryLimit = 50

type IDGenerator interface {
	Next() (int64, error)
}

type Publisher interface {
	Publish(ctx context.Context, event *domain.Event) error
}

type LocalSender interface {
	SendLocal(ctx context.Context, userID int64, payload any) error
}

type DirectDeliverer interface {
	Deliver(ctx context.Context, receiverID int64, msg domain.Message)
}

type HotDetector interface {
	IsHot(ctx context.Context, roomID int64) bool
	ShouldSkipUpdate(ctx context.Context, roomID int64) bool
}

type PointerFlusher interface {
	Schedule(ctx context.Context, roomID, messageID int64) error
	FlushIfPending(ctx context.Context, roomID int64) error
}

type Service struct {
	rooms    store.RoomStore
	messages store.MessageStore
	ids      IDGenerator
	shards   *shard.Router
	local    LocalSender
	direct   DirectDeliverer
	producer Publisher
	detector HotDetector
	flusher  PointerFlusher
}

func NewService(
	rooms store.RoomStore,
	messages store.MessageStore,
	ids IDGenerator,
	shards *shard.Router,
	local LocalSender,
	direct DirectDeliverer,
	producer Publisher,
	detector HotDetector,
	flusher PointerFlusher,
) *Service {
	return &Service{
		rooms:    rooms,
		messages: messages,
		ids:      ids,
		shards:   shards,
		local:    local,
		direct:   direct,
		producer: producer,
		detector: detector,
		flusher:  flusher,
	}
}

// Send persists a message and dispatches it. The sender gets a synchronous
// echo on its own socket; everyone else receives the message through the
// fanout log. When ReceiverID is set the message additionally takes the
// direct path so a same-node 1:1 peer sees it without the log round trip;
// recipients dedupe by message id.
func (s *Service) Send(ctx context.Context, senderID int64, frame domain.InboundFrame) (domain.Message, error) {
	if frame.Content == "" {
		return domain.Message{}, ErrEmptyContent
	}
	roomID := frame.ChatRoomID

	ok, err := s.rooms.Exists(ctx, roomID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("room lookup: %w", err)
	}
	if !ok {
		return domain.Message{}, ErrRoomNotFound
	}
	member, err := s.rooms.IsParticipant(ctx, roomID, senderID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("participant lookup: %w", err)
	}
	if !member {
		return domain.Message{}, ErrNotParticipant
	}

	var msg domain.Message
	err = s.shards.Do(ctx, roomID, func(ctx context.Context) error {
		id, idErr := s.ids.Next()
		if idErr != nil {
			return fmt.Errorf("id generation: %w", idErr)
		}
		msg = domain.Message{
			ID:        id,
			RoomID:    roomID,
			SenderID:  senderID,
			Body:      frame.Content,
			CreatedAt: time.Now().UTC(),
		}
		if appendErr := s.messages.Append(ctx, msg); appendErr != nil {
			return fmt.Errorf("message append: %w", appendErr)
		}
		s.advancePointer(ctx, msg)
		return nil
	})
	if err != nil {
		return domain.Message{}, err
	}

	// Sender echo is synchronous so the sending client observes its own
	// message before anyone else can reply to it.
	if echoErr := s.local.SendLocal(ctx, senderID, msg.Push()); echoErr != nil {
		log.Ctx(ctx).Debug().Int64(log.FieldUserID, senderID).Err(echoErr).
			Msg("sender echo skipped, no local session")
	}

	if frame.ReceiverID != 0 && frame.ReceiverID != senderID {
		s.direct.Deliver(ctx, frame.ReceiverID, msg)
	}

	event := msg.FanoutEvent()
	if pubErr := s.producer.Publish(ctx, &event); pubErr != nil {
		log.Ctx(ctx).Error().Int64(log.FieldMessageID, msg.ID).Err(pubErr).
			Msg("fanout publish failed, message persisted but not fanned out")
	}

	return msg, nil
}

// advancePointer writes the room's last-message pointer, unless the room
// is hot and inside the debounce interval, in which case the value is
// parked for a delayed flush. Pointer failures never fail the send.
func (s *Service) advancePointer(ctx context.Context, msg domain.Message) {
	l := log.Ctx(ctx)

	if s.detector.IsHot(ctx, msg.RoomID) {
		if s.detector.ShouldSkipUpdate(ctx, msg.RoomID) {
			if err := s.flusher.Schedule(ctx, msg.RoomID, msg.ID); err != nil {
				l.Warn().Int64(log.FieldRoomID, msg.RoomID).Err(err).
					Msg("coalesce schedule failed, writing pointer directly")
				if err := s.rooms.UpdateLastMessage(ctx, msg.RoomID, msg.ID); err != nil {
					l.Error().Int64(log.FieldRoomID, msg.RoomID).Err(err).
						Msg("last-message pointer update failed")
				}
			}
			return
		}
		if err := s.rooms.UpdateLastMessage(ctx, msg.RoomID, msg.ID); err != nil {
			l.Error().Int64(log.FieldRoomID, msg.RoomID).Err(err).
				Msg("last-message pointer update failed")
		}
		return
	}

	if err := s.rooms.UpdateLastMessage(ctx, msg.RoomID, msg.ID); err != nil {
		l.Error().Int64(log.FieldRoomID, msg.RoomID).Err(err).
			Msg("last-message pointer update failed")
	}
	// The room just left (or never entered) hot mode; drain anything a hot
	// burst parked so the pointer does not lag by a debounce interval.
	if err := s.flusher.FlushIfPending(ctx, msg.RoomID); err != nil {
		l.Warn().Int64(log.FieldRoomID, msg.RoomID).Err(err).
			Msg("pending pointer flush failed")
	}
}

// History returns up to limit messages of a room, newest first, strictly
// older than beforeID when it is non-zero.
func (s *Service) History(ctx context.Context, userID, roomID, beforeID int64, limit int) ([]domain.Message, error) {
	ok, err := s.rooms.Exists(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("room lookup: %w", err)
	}
	if !ok {
		return nil, ErrRoomNotFound
	}
	member, err := s.rooms.IsParticipant(ctx, roomID, userID)
	if err != nil {
		return nil, fmt.Errorf("participant lookup: %w", err)
	}
	if !member {
		return nil, ErrNotParticipant
	}

	if limit <= 0 || limit > 200 {
		limit = defaultHistoryLimit
	}

	var msgs []domain.Message
	err = s.shards.Do(ctx, roomID, func(ctx context.Context) error {
		var listErr error
		msgs, listErr = s.messages.ListBefore(ctx, roomID, beforeID, limit)
		return listErr
	})
	if err != nil {
		return nil, fmt.Errorf("history scan: %w", err)
	}
	return msgs, nil
}
