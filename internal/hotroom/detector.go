// Package hotroom bounds the per-room "last message pointer" write rate.
// A room bursting past the enter threshold goes hot; hot rooms debounce
// pointer writes and park the skipped value for a delayed flush. All
// state lives in Redis so the decision is correct across node processes.
package hotroom

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dongzzi101/chat-sevice/internal/config"
	"github.com/dongzzi101/chat-sevice/pkg/log"
)

const (
	modeHot  = "hot"
	modeCool = "cool"
)

// Detector classifies rooms as hot or cool from a sliding-window message
// counter, with hysteresis (enter >= EnterThreshold, exit <= ExitThreshold)
// so a room at the boundary does not flap.
type Detector struct {
	client *redis.Client
	cfg    config.HotRoomConfig
	now    func() time.Time
}

func NewDetector(client *redis.Client, cfg config.HotRoomConfig) *Detector {
	return &Detector{
		client: client,
		cfg:    cfg,
		now:    time.Now,
	}
}

func countKey(roomID int64) string {
	return fmt.Sprintf("chat:%d:msgCount", roomID)
}

func modeKey(roomID int64) string {
	return fmt.Sprintf("chat:%d:mode", roomID)
}

func lastAppliedKey(roomID int64) string {
	return fmt.Sprintf("chat:%d:lastApplied", roomID)
}

// IsHot bumps the room's windowed counter and returns the room's mode
// after applying hysteresis. Redis failures degrade to cool: the pointer
// is then written on every message, which is safe, just not coalesced.
func (d *Detector) IsHot(ctx context.Context, roomID int64) bool {
	pipe := d.client.Pipeline()
	incr := pipe.Incr(ctx, countKey(roomID))
	pipe.Expire(ctx, countKey(roomID), d.cfg.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Ctx(ctx).Warn().Int64(log.FieldRoomID, roomID).Err(err).
			Msg("hot-room counter update failed, treating room as cool")
		return false
	}
	count := incr.Val()

	mode, err := d.client.Get(ctx, modeKey(roomID)).Result()
	if err != nil && err != redis.Nil {
		log.Ctx(ctx).Warn().Int64(log.FieldRoomID, roomID).Err(err).
			Msg("hot-room mode read failed, treating room as cool")
		return false
	}

	if count >= d.cfg.EnterThreshold {
		if mode != modeHot {
			d.client.Set(ctx, modeKey(roomID), modeHot, d.cfg.ModeTTL)
			log.Ctx(ctx).Info().Int64(log.FieldRoomID, roomID).Int64("window_count", count).
				Msg("room entered hot mode")
		}
		return true
	}

	if mode == modeHot && count <= d.cfg.ExitThreshold {
		d.client.Set(ctx, modeKey(roomID), modeCool, d.cfg.ModeTTL)
		log.Ctx(ctx).Info().Int64(log.FieldRoomID, roomID).Int64("window_count", count).
			Msg("room left hot mode")
		return false
	}

	return mode == modeHot
}

// ShouldSkipUpdate reports whether a pointer write in a hot room falls
// inside the debounce interval of the previous applied write. A write
// that is not skipped stamps the interval.
func (d *Detector) ShouldSkipUpdate(ctx context.Context, roomID int64) bool {
	now := d.now().UnixMilli()

	lastRaw, err := d.client.Get(ctx, lastAppliedKey(roomID)).Result()
	if err == nil {
		last, parseErr := strconv.ParseInt(lastRaw, 10, 64)
		if parseErr != nil {
			log.Ctx(ctx).Warn().Int64(log.FieldRoomID, roomID).
				Msg("invalid last applied timestamp")
		} else if now-last < d.cfg.Debounce.Milliseconds() {
			return true
		}
	}

	d.client.Set(ctx, lastAppliedKey(roomID), strconv.FormatInt(now, 10), d.cfg.ModeTTL)
	return false
}

// Debounce returns the configured debounce interval, which is also the
// delayed-flush delay.
func (d *Detector) Debounce() time.Duration {
	return d.cfg.Debounce
}
