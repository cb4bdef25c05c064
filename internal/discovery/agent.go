package discovery

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// pollInterval is the supervisor loop's cadence, matching r_agent's
// 60s repeating timed event.
const pollInterval = 60 * time.Second

// DiscoveryProvider is the out-of-scope ONVIF collaborator: given the
// agent's credential resolver and is-recording predicate, it returns
// every currently-reachable device's fully-interrogated stream
// configuration (codec, RTSP URL included).
type DiscoveryProvider interface {
	Poll(ctx context.Context, creds CredentialResolver, isRecording IsRecordingPredicate) ([]StreamConfig, error)
}

// CredentialResolver resolves a camera id to the username/password a
// provider should use to interrogate it. ok is false when no
// credentials are configured for that id.
type CredentialResolver func(id string) (username, password string, ok bool)

// IsRecordingPredicate reports whether a camera is already being
// recorded, so a provider can avoid contending with an active RTSP
// session while interrogating.
type IsRecordingPredicate func(id string) bool

// Publisher is the narrow slice of eventbus.Bus the agent depends
// on, kept as a local interface so this package never imports eventbus.
type Publisher interface {
	Publish(subject string, data interface{}) error
}

// Agent runs the 60s discovery supervisor loop: poll, diff against
// last-seen config hashes, emit changed_streams for anything new or
// changed. Grounded on r_disco::r_agent's entry-point/timer shape.
type Agent struct {
	mu          sync.Mutex
	provider    DiscoveryProvider
	credentials CredentialResolver
	isRecording IsRecordingPredicate
	publisher   Publisher
	cache       *interrogationCache
	lastHashes  map[string]string

	stopChan chan struct{}
	stopped  chan struct{}
	log      *slog.Logger
}

// NewAgent constructs a discovery agent. Start must be called to
// begin polling.
func NewAgent(provider DiscoveryProvider, creds CredentialResolver, isRecording IsRecordingPredicate, publisher Publisher) *Agent {
	return &Agent{
		provider:    provider,
		credentials: creds,
		isRecording: isRecording,
		publisher:   publisher,
		cache:       newInterrogationCache(),
		lastHashes:  make(map[string]string),
		stopChan:    make(chan struct{}),
		stopped:     make(chan struct{}),
		log:         slog.Default().With("component", "discovery.agent"),
	}
}

// Start begins the supervisor loop in its own goroutine.
func (a *Agent) Start(ctx context.Context) {
	go a.run(ctx)
}

// Stop signals the supervisor loop to exit and waits for it to join.
func (a *Agent) Stop() {
	close(a.stopChan)
	<-a.stopped
}

// Forget removes a camera from the last-seen hash map and
// interrogation cache, so the next poll treats it as newly
// discovered. Matches r_agent::forget.
func (a *Agent) Forget(id string) {
	a.mu.Lock()
	delete(a.lastHashes, id)
	a.mu.Unlock()
	a.cache.forget(id)
}

func (a *Agent) run(ctx context.Context) {
	defer close(a.stopped)

	a.tick(ctx)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopChan:
			return
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *Agent) tick(ctx context.Context) {
	devices, err := a.provider.Poll(ctx, a.credentials, a.isRecording)
	if err != nil {
		a.log.Error("discovery poll failed", "error", err)
		return
	}
	if len(devices) == 0 {
		return
	}

	var changed []ChangedStream
	a.mu.Lock()
	for _, sc := range devices {
		newHash := HashStreamConfig(sc)
		oldHash, ok := a.lastHashes[sc.ID]
		if !ok || oldHash != newHash {
			a.lastHashes[sc.ID] = newHash
			changed = append(changed, ChangedStream{Config: sc, Hash: newHash})
		}
	}
	a.mu.Unlock()

	for _, sc := range devices {
		a.cache.put(sc.ID, sc)
	}

	if len(changed) == 0 {
		return
	}
	if err := a.publisher.Publish(ChangedStreamsSubject, changed); err != nil {
		a.log.Error("failed to publish changed streams", "error", err, "count", len(changed))
	}
}
