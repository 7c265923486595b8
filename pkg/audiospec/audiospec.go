package audiospec

import "time"

const (
	// === IDENTITY & VERSIONING ===
	AppName      = "Podplayer"
	VersionMajor = 1
	VersionMinor = 0

	// === RENDER LOOP CADENCE ===
	UIBroadcastInterval   = 100 * time.Millisecond
	SaveBroadcastInterval = 1000 * time.Millisecond
	PausePollInterval     = 10 * time.Millisecond

	// === TRANSPORT ===
	SkipForwardSeconds         = 30
	SkipBackwardSeconds        = 15
	CompletionThresholdSeconds = 300

	// === OUTPUT ===
	DefaultOutputBufferMs = 100
	OutputChannels        = 2

	// === OPUS (RFC 7845) ===
	OpusSampleRate   = 48000
	OpusMaxFrameSize = 5760 // 120ms @ 48kHz

	// === ANALYSER ===
	SpectrumBands = 16
	SpectrumSize  = 1024

	// === UI EVENTS ===
	EventPlayerStatus    = "player-status"
	EventInvalidateCache = "invalidate-cache"
)
