package license

import (
	"context"
	"log/slog"

	"licenseguard/pkg/discovery"
)

// startWatchingLocked subscribes to the discovery transport's
// announcement stream. Caller holds the mutex. The watcher starts once,
// on the first successful validation.
func (v *Validator) startWatchingLocked() {
	if v.disc == nil || v.watching {
		return
	}
	v.watching = true
	go v.watchAnnouncements()
}

func (v *Validator) watchAnnouncements() {
	for {
		select {
		case ann, ok := <-v.disc.Announcements():
			if !ok {
				return
			}
			v.handleAnnouncement(ann)
		case <-v.watchStop:
			return
		}
	}
}

// announceLocked broadcasts the current identity. Caller holds the
// mutex. Announcements are cheap heartbeats; failures are logged only.
func (v *Validator) announceLocked(ctx context.Context) {
	if v.disc == nil || v.record == nil {
		return
	}
	ann := discovery.Announcement{
		SenderID:    v.senderID,
		UserID:      v.record.UserID,
		MachineName: v.machineName,
		UserName:    v.userName,
	}
	if err := v.disc.Announce(ctx, ann); err != nil {
		v.logDebug(ctx, "discovery", "presence announcement failed",
			slog.String("error", err.Error()),
		)
	}
}

// handleAnnouncement applies the duplicate-use policy to a received
// announcement. Self-originated announcements and announcements for a
// different license identity are ignored. A conflict raises the
// invalidation signal and the duplicate-use event, but deliberately
// does not disable future checks: duplicate detection is independent of
// the expiration-timer disable logic.
func (v *Validator) handleAnnouncement(ann discovery.Announcement) {
	ctx := context.Background()

	v.mu.Lock()
	if ann.SenderID == v.senderID {
		v.mu.Unlock()
		return
	}
	rec := v.record
	if rec == nil || ann.UserID != rec.UserID {
		v.mu.Unlock()
		return
	}
	if v.cfg.DuplicatePolicy == AllowForSameUser && ann.UserName == v.userName {
		v.mu.Unlock()
		return
	}

	v.logWarn(ctx, "duplicate_use", "license is in use on another machine",
		slog.String("code", CodeDuplicateUse),
		slog.String("license_id", maskUserID(ann.UserID)),
		slog.String("remote_machine", ann.MachineName),
		slog.String("remote_user", ann.UserName),
	)
	v.countDuplicateUse(ctx)
	v.raiseInvalidationLocked(CannotRenewRemotely)
	v.raiseDuplicateLocked(ann)
	events := v.drainEventsLocked()
	v.mu.Unlock()

	v.deliver(events)
}
