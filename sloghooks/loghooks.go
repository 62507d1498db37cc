// Package sloghooks reports cache events through log/slog.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/cachehouse"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	HitEvery      uint64
	MissEvery     uint64
	SelfHealEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	hitCtr      atomic.Uint64
	missCtr     atomic.Uint64
	selfHealCtr atomic.Uint64
}

var _ cachehouse.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) Hit(storageKey string) {
	if h.l == nil || !sample(h.opts.HitEvery, &h.hitCtr) {
		return
	}
	h.l.Debug("cachehouse.hit", "key", h.redact(storageKey))
}

func (h *Hooks) Miss(storageKey string) {
	if h.l == nil || !sample(h.opts.MissEvery, &h.missCtr) {
		return
	}
	h.l.Debug("cachehouse.miss", "key", h.redact(storageKey))
}

func (h *Hooks) Stored(storageKey string, ttl time.Duration) {
	if h.l == nil {
		return
	}
	h.l.Debug("cachehouse.stored",
		"key", h.redact(storageKey),
		"ttl", ttl)
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Info("cachehouse.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) ReadError(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("cachehouse.read_error",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) WriteError(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("cachehouse.write_error",
		"key", h.redact(storageKey),
		"err", err)
}
