package call

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const (
	testDevice      DeviceURL      = "https://wdm.example.com/devices/self"
	otherDevice     DeviceURL      = "https://wdm.example.com/devices/desk"
	testSession     SessionURL     = "https://locus.example.com/loci/1"
	testSelfURL     ParticipantURL = "https://locus.example.com/loci/1/participant/self"
	testRemoteURL   ParticipantURL = "https://locus.example.com/loci/1/participant/remote"
	testSelfMedia   MediaURL       = "https://locus.example.com/loci/1/participant/self/media"
	waitTimeout                    = 2 * time.Second
	localSDPFixture                = "local-offer"
)

// testSDP возвращает корректный SDP с аудио и, опционально, видео.
func testSDP(video bool) string {
	lines := []string{
		"v=0",
		"o=- 2890844526 2890844526 IN IP4 127.0.0.1",
		"s=-",
		"c=IN IP4 127.0.0.1",
		"t=0 0",
		"m=audio 49170 RTP/AVP 0 101",
		"a=rtpmap:0 PCMU/8000",
		"a=rtpmap:101 telephone-event/8000",
	}
	if video {
		lines = append(lines, "m=video 51372 RTP/AVP 96", "a=rtpmap:96 H264/90000")
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}

// snap собирает снапшот с одинаковой версией всех аспектов.
func snap(version uint64, self, remote ParticipantState, mods ...func(*SessionSnapshot)) *SessionSnapshot {
	s := &SessionSnapshot{
		Version: VersionToken{
			AspectState:        version,
			AspectParticipants: version,
			AspectMedia:        version,
		},
		SessionURL: testSession,
		State:      SessionActive,
		From:       "alice@example.com",
		To:         "bob@example.com",
		Participants: []Participant{
			{URL: testSelfURL, Identity: "self", State: self, IsSelf: true, DeviceURL: testDevice, MediaURL: testSelfMedia},
			{URL: testRemoteURL, Identity: "remote", State: remote},
		},
		RemoteSDP: testSDP(false),
	}
	for _, m := range mods {
		m(s)
	}
	return s
}

func withTones(s *SessionSnapshot)      { s.DTMFEnabled = true }
func withVideoMuted(s *SessionSnapshot) { s.RemoteVideoMuted = true }
func withAudioMuted(s *SessionSnapshot) { s.RemoteAudioMuted = true }
func withEnded(s *SessionSnapshot)      { s.State = SessionEnded }

// fakeTransport транспорт с подменяемыми методами и записью вызовов.
type fakeTransport struct {
	mu sync.Mutex

	JoinFn    func(ctx context.Context, req JoinRequest) (*SessionSnapshot, error)
	LeaveFn   func(ctx context.Context, participant ParticipantURL, device DeviceURL) (*SessionSnapshot, error)
	DeclineFn func(ctx context.Context, session SessionURL, device DeviceURL) error
	UpdateFn  func(ctx context.Context, media MediaURL, local LocalMedia) (*SessionSnapshot, error)
	FetchFn   func(ctx context.Context, session SessionURL) (*SessionSnapshot, error)
	TonesFn   func(ctx context.Context, participant ParticipantURL, device DeviceURL, tones string, correlationID int) error

	joins    []JoinRequest
	leaves   int
	declines int
	updates  []LocalMedia
	fetches  int
	tones    []string
}

func (f *fakeTransport) Join(ctx context.Context, req JoinRequest) (*SessionSnapshot, error) {
	f.mu.Lock()
	f.joins = append(f.joins, req)
	fn := f.JoinFn
	f.mu.Unlock()
	if fn == nil {
		return snap(1, ParticipantJoined, ParticipantJoined), nil
	}
	return fn(ctx, req)
}

func (f *fakeTransport) Leave(ctx context.Context, participant ParticipantURL, device DeviceURL) (*SessionSnapshot, error) {
	f.mu.Lock()
	f.leaves++
	fn := f.LeaveFn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx, participant, device)
}

func (f *fakeTransport) Decline(ctx context.Context, session SessionURL, device DeviceURL) error {
	f.mu.Lock()
	f.declines++
	fn := f.DeclineFn
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, session, device)
}

func (f *fakeTransport) UpdateMedia(ctx context.Context, media MediaURL, local LocalMedia) (*SessionSnapshot, error) {
	f.mu.Lock()
	f.updates = append(f.updates, local)
	fn := f.UpdateFn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx, media, local)
}

func (f *fakeTransport) FetchSnapshot(ctx context.Context, session SessionURL) (*SessionSnapshot, error) {
	f.mu.Lock()
	f.fetches++
	fn := f.FetchFn
	f.mu.Unlock()
	if fn == nil {
		return nil, context.Canceled
	}
	return fn(ctx, session)
}

func (f *fakeTransport) SendTones(ctx context.Context, participant ParticipantURL, device DeviceURL, tones string, correlationID int) error {
	f.mu.Lock()
	f.tones = append(f.tones, tones)
	fn := f.TonesFn
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, participant, device, tones, correlationID)
}

func (f *fakeTransport) joinCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.joins)
}

func (f *fakeTransport) lastJoin() JoinRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joins[len(f.joins)-1]
}

func (f *fakeTransport) leaveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leaves
}

func (f *fakeTransport) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func (f *fakeTransport) sentTones() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tones...)
}

// fakeMedia медиа движок, записывающий вызовы управления.
type fakeMedia struct {
	mu sync.Mutex

	PrepareErr error
	StartErr   error

	events         []string
	remoteSDP      string
	sendingAudio   bool
	sendingVideo   bool
	receivingAudio bool
	receivingVideo bool
	facing         FacingMode
	loudSpeaker    bool
	handle         MediaHandle
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{
		sendingAudio:   true,
		receivingAudio: true,
		facing:         FacingUser,
		handle:         "media-1",
	}
}

func (m *fakeMedia) record(event string) {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
}

func (m *fakeMedia) Prepare(opts MediaOptions) error {
	m.record("prepare")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendingVideo = opts.HasVideo
	m.receivingVideo = opts.HasVideo
	return m.PrepareErr
}

func (m *fakeMedia) LocalDescription() (string, error) {
	return localSDPFixture, nil
}

func (m *fakeMedia) SetRemoteDescription(sdp string) error {
	m.record("remote")
	m.mu.Lock()
	m.remoteSDP = sdp
	m.mu.Unlock()
	return nil
}

func (m *fakeMedia) StartMedia() error {
	m.record("start")
	return m.StartErr
}

func (m *fakeMedia) StopMedia() {
	m.record("stop")
}

func (m *fakeMedia) SendingAudio() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sendingAudio
}

func (m *fakeMedia) SetSendingAudio(enabled bool) {
	m.mu.Lock()
	m.sendingAudio = enabled
	m.mu.Unlock()
}

func (m *fakeMedia) SendingVideo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sendingVideo
}

func (m *fakeMedia) SetSendingVideo(enabled bool) {
	m.mu.Lock()
	m.sendingVideo = enabled
	m.mu.Unlock()
}

func (m *fakeMedia) ReceivingAudio() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.receivingAudio
}

func (m *fakeMedia) SetReceivingAudio(enabled bool) {
	m.mu.Lock()
	m.receivingAudio = enabled
	m.mu.Unlock()
}

func (m *fakeMedia) ReceivingVideo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.receivingVideo
}

func (m *fakeMedia) SetReceivingVideo(enabled bool) {
	m.mu.Lock()
	m.receivingVideo = enabled
	m.mu.Unlock()
}

func (m *fakeMedia) FacingMode() FacingMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.facing
}

func (m *fakeMedia) SetFacingMode(mode FacingMode) {
	m.mu.Lock()
	m.facing = mode
	m.mu.Unlock()
}

func (m *fakeMedia) LoudSpeaker() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loudSpeaker
}

func (m *fakeMedia) SetLoudSpeaker(enabled bool) {
	m.mu.Lock()
	m.loudSpeaker = enabled
	m.mu.Unlock()
}

func (m *fakeMedia) LocalVideoSize() Size  { return Size{Width: 640, Height: 480} }
func (m *fakeMedia) RemoteVideoSize() Size { return Size{Width: 1280, Height: 720} }

func (m *fakeMedia) AssociatedWith(handle MediaHandle) bool {
	return handle == m.handle
}

func (m *fakeMedia) remote() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remoteSDP
}

func (m *fakeMedia) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

func (m *fakeMedia) count(event string) int {
	n := 0
	for _, e := range m.Events() {
		if e == event {
			n++
		}
	}
	return n
}

// fakeChecker проверка активации со счетчиком вызовов.
type fakeChecker struct {
	activated atomic.Bool
	err       error
	calls     atomic.Int32
}

func (c *fakeChecker) CheckActivation(context.Context) (bool, error) {
	c.calls.Add(1)
	return c.activated.Load(), c.err
}

// recorder собирает колбэки сессии.
type recorder struct {
	mu           sync.Mutex
	transitions  []StateTransition
	mediaChanges []RemoteMediaChange
	capabilities []bool
	closed       int
}

func (r *recorder) callbacks() SessionCallbacks {
	return SessionCallbacks{
		OnStateChanged: func(from, to CallState, reason DisconnectReason) {
			r.mu.Lock()
			r.transitions = append(r.transitions, StateTransition{From: from, To: to, Reason: reason})
			r.mu.Unlock()
		},
		OnRemoteMediaChanged: func(change RemoteMediaChange) {
			r.mu.Lock()
			r.mediaChanges = append(r.mediaChanges, change)
			r.mu.Unlock()
		},
		OnCapabilityChanged: func(enabled bool) {
			r.mu.Lock()
			r.capabilities = append(r.capabilities, enabled)
			r.mu.Unlock()
		},
		OnClosed: func() {
			r.mu.Lock()
			r.closed++
			r.mu.Unlock()
		},
	}
}

func (r *recorder) Transitions() []StateTransition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StateTransition(nil), r.transitions...)
}

func (r *recorder) MediaChanges() []RemoteMediaChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RemoteMediaChange(nil), r.mediaChanges...)
}

func (r *recorder) Capabilities() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.capabilities...)
}

func (r *recorder) Closed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// harness окружение одной тестовой сессии.
type harness struct {
	transport *fakeTransport
	media     *fakeMedia
	checker   *fakeChecker
	events    *recorder
	metrics   *Metrics
	cfg       *Config
}

func newHarness() *harness {
	h := &harness{
		transport: &fakeTransport{},
		media:     newFakeMedia(),
		checker:   &fakeChecker{},
		events:    &recorder{},
		metrics:   NewMetrics(prometheus.NewRegistry(), "test"),
	}
	h.checker.activated.Store(true)
	cfg := DefaultConfig()
	cfg.Transport = h.transport
	cfg.Media = h.media
	cfg.Entitlement = h.checker
	cfg.Device = testDevice
	cfg.Callbacks = h.events.callbacks()
	cfg.Metrics = h.metrics
	h.cfg = cfg
	return h
}

func (h *harness) newSession(t *testing.T) *CallSession {
	t.Helper()
	s, err := NewSession(h.cfg)
	require.NoError(t, err, "сессия должна создаваться")
	return s
}

func (h *harness) newIncoming(t *testing.T, snapshot *SessionSnapshot) *CallSession {
	t.Helper()
	s, err := NewIncomingSession(h.cfg, snapshot)
	require.NoError(t, err, "входящая сессия должна создаваться")
	flush(t, s)
	return s
}

// result канал для колбэка завершения.
func result() (chan error, func(error)) {
	ch := make(chan error, 1)
	return ch, func(err error) { ch <- err }
}

func wait(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("колбэк завершения не вызван")
		return nil
	}
}

// flush дожидается выполнения всех задач, уже поставленных в исполнитель.
func flush(t *testing.T, s *CallSession) {
	t.Helper()
	done := make(chan struct{})
	if !s.exec.post(func() { close(done) }) {
		return
	}
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("исполнитель сессии не отвечает")
	}
}

func waitClosed(t *testing.T, s *CallSession) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(waitTimeout):
		t.Fatal("сессия не закрылась")
	}
}

// dial выполняет успешный исходящий вызов.
func dial(t *testing.T, s *CallSession) {
	t.Helper()
	ch, cb := result()
	s.Dial("bob@example.com", AudioOnly(), cb)
	require.NoError(t, wait(t, ch), "вызов должен пройти")
	flush(t, s)
}
