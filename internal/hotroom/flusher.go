package hotroom

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dongzzi101/chat-sevice/internal/config"
	"github.com/dongzzi101/chat-sevice/pkg/log"
)

const (
	pendingHashKey = "chat:pendingLastMessages"
	flushQueueKey  = "chat:lastMsg:flushQueue"

	pollInterval = 200 * time.Millisecond
	pollBatch    = 100
)

// Pointer applies a room's last-message pointer to durable storage.
type Pointer interface {
	UpdateLastMessage(ctx context.Context, roomID, messageID int64) error
}

// pendingMaxScript keeps the pending hash entry at the maximum message id
// seen, so a late low id can never regress an already parked higher one.
var pendingMaxScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if not cur or tonumber(cur) < tonumber(ARGV[2]) then
  redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
end
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// Flusher parks skipped pointer writes in a Redis hash and applies each
// room's maximum after a delay. The hash doubles as the crash journal:
// entries found at startup without a live schedule flag belong to a
// previous process and are flushed immediately.
type Flusher struct {
	client  *redis.Client
	pointer Pointer
	cfg     config.HotRoomConfig

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewFlusher(client *redis.Client, pointer Pointer, cfg config.HotRoomConfig) *Flusher {
	return &Flusher{
		client:  client,
		pointer: pointer,
		cfg:     cfg,
		stop:    make(chan struct{}),
	}
}

func scheduledKey(roomID int64) string {
	return "chat:" + strconv.FormatInt(roomID, 10) + ":flushScheduled"
}

// Schedule parks messageID as the room's pending pointer value and, if no
// flush is already scheduled for the room, enqueues one after the debounce
// delay. Parking always happens before the flag check so a concurrent
// flush can pick the value up.
func (f *Flusher) Schedule(ctx context.Context, roomID, messageID int64) error {
	field := strconv.FormatInt(roomID, 10)
	err := pendingMaxScript.Run(ctx, f.client, []string{pendingHashKey},
		field, messageID, f.cfg.PendingTTL.Milliseconds()).Err()
	if err != nil {
		return err
	}

	ok, err := f.client.SetNX(ctx, scheduledKey(roomID), "1", f.cfg.Debounce).Result()
	if err != nil {
		return err
	}
	if !ok {
		// A flush is already queued; it will carry this value too.
		return nil
	}

	due := time.Now().Add(f.cfg.Debounce).UnixMilli()
	return f.client.ZAdd(ctx, flushQueueKey, redis.Z{
		Score:  float64(due),
		Member: field,
	}).Err()
}

// FlushIfPending applies the room's parked value right away, if any.
// Called when a room drops out of hot mode so the tail of a burst does
// not wait out the full delay.
func (f *Flusher) FlushIfPending(ctx context.Context, roomID int64) error {
	exists, err := f.client.HExists(ctx, pendingHashKey, strconv.FormatInt(roomID, 10)).Result()
	if err != nil || !exists {
		return err
	}
	return f.Flush(ctx, roomID)
}

// Flush applies and clears the room's parked pointer value. The hash
// entry and schedule flag are cleared even when the pointer write fails;
// losing one coalesced advance is acceptable, a stuck entry that blocks
// future schedules is not.
func (f *Flusher) Flush(ctx context.Context, roomID int64) error {
	field := strconv.FormatInt(roomID, 10)

	raw, err := f.client.HGet(ctx, pendingHashKey, field).Result()
	if err == redis.Nil {
		f.client.Del(ctx, scheduledKey(roomID))
		return nil
	}
	if err != nil {
		return err
	}

	messageID, err := strconv.ParseInt(raw, 10, 64)
	if err == nil {
		if updateErr := f.pointer.UpdateLastMessage(ctx, roomID, messageID); updateErr != nil {
			log.Ctx(ctx).Error().Int64(log.FieldRoomID, roomID).Int64(log.FieldMessageID, messageID).
				Err(updateErr).Msg("delayed last-message flush failed")
			err = updateErr
		} else {
			log.Ctx(ctx).Debug().Int64(log.FieldRoomID, roomID).Int64(log.FieldMessageID, messageID).
				Msg("flushed coalesced last-message pointer")
		}
	} else {
		log.Ctx(ctx).Error().Int64(log.FieldRoomID, roomID).Str("raw", raw).
			Msg("invalid pending last-message value, dropping")
		err = nil
	}

	f.client.HDel(ctx, pendingHashKey, field)
	f.client.Del(ctx, scheduledKey(roomID))
	return err
}

// Start recovers pending entries orphaned by a previous process and then
// runs the due-queue poller until Stop.
func (f *Flusher) Start(ctx context.Context) error {
	pending, err := f.client.HGetAll(ctx, pendingHashKey).Result()
	if err != nil {
		return err
	}
	for field := range pending {
		roomID, parseErr := strconv.ParseInt(field, 10, 64)
		if parseErr != nil {
			f.client.HDel(ctx, pendingHashKey, field)
			continue
		}
		scheduled, flagErr := f.client.Exists(ctx, scheduledKey(roomID)).Result()
		if flagErr == nil && scheduled > 0 {
			continue
		}
		log.Ctx(ctx).Info().Int64(log.FieldRoomID, roomID).
			Msg("recovering pending last-message pointer from previous run")
		if flushErr := f.Flush(ctx, roomID); flushErr != nil {
			log.Ctx(ctx).Error().Int64(log.FieldRoomID, roomID).Err(flushErr).
				Msg("startup pointer recovery failed")
		}
	}

	f.wg.Add(1)
	go f.poll()
	return nil
}

// Stop halts the poller and flushes everything still parked, so a clean
// shutdown leaves no pending pointer behind.
func (f *Flusher) Stop(ctx context.Context) {
	close(f.stop)
	f.wg.Wait()

	pending, err := f.client.HGetAll(ctx, pendingHashKey).Result()
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to read pending pointers on shutdown")
		return
	}
	for field := range pending {
		roomID, parseErr := strconv.ParseInt(field, 10, 64)
		if parseErr != nil {
			continue
		}
		if flushErr := f.Flush(ctx, roomID); flushErr != nil {
			log.Ctx(ctx).Error().Int64(log.FieldRoomID, roomID).Err(flushErr).
				Msg("shutdown pointer flush failed")
		}
	}
}

func (f *Flusher) poll() {
	defer f.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stop:
			return
		case <-ticker.C:
			f.drainDue(context.Background())
		}
	}
}

func (f *Flusher) drainDue(ctx context.Context) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := f.client.ZRangeByScore(ctx, flushQueueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: pollBatch,
	}).Result()
	if err != nil {
		log.L().Warn().Err(err).Msg("flush queue poll failed")
		return
	}

	for _, field := range due {
		f.client.ZRem(ctx, flushQueueKey, field)
		roomID, parseErr := strconv.ParseInt(field, 10, 64)
		if parseErr != nil {
			continue
		}
		if flushErr := f.Flush(ctx, roomID); flushErr != nil {
			log.L().Error().Int64(log.FieldRoomID, roomID).Err(flushErr).
				Msg("scheduled pointer flush failed")
		}
	}
}
