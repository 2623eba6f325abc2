package control

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/softcall/pkg/call"
	"github.com/arzzra/softcall/pkg/nullmedia"
)

const (
	device  call.DeviceURL  = "https://wdm.example.com/devices/self"
	session call.SessionURL = "https://locus.example.com/loci/1"
	selfURL                 = "https://locus.example.com/loci/1/participant/self"
)

const remoteSDP = "v=0\r\n" +
	"o=- 1 1 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"c=IN IP4 127.0.0.1\r\n" +
	"t=0 0\r\n" +
	"m=audio 49170 RTP/AVP 0\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n"

// stubTransport сервер вызовов, который сразу соединяет абонентов
type stubTransport struct {
	mu      sync.Mutex
	version uint64
	tones   []string
	joinErr error
}

func (t *stubTransport) next(self, remote call.ParticipantState, ended bool) *call.SessionSnapshot {
	t.mu.Lock()
	t.version++
	v := t.version
	t.mu.Unlock()
	snap := &call.SessionSnapshot{
		Version:    call.VersionToken{call.AspectState: v, call.AspectParticipants: v},
		SessionURL: session,
		State:      call.SessionActive,
		From:       "alice@example.com",
		Participants: []call.Participant{
			{URL: selfURL, State: self, IsSelf: true, DeviceURL: device, MediaURL: selfURL + "/media"},
			{URL: "https://locus.example.com/loci/1/participant/remote", State: remote},
		},
		RemoteSDP:   remoteSDP,
		DTMFEnabled: true,
	}
	if ended {
		snap.State = call.SessionEnded
	}
	return snap
}

func (t *stubTransport) Join(context.Context, call.JoinRequest) (*call.SessionSnapshot, error) {
	if t.joinErr != nil {
		return nil, t.joinErr
	}
	return t.next(call.ParticipantJoined, call.ParticipantJoined, false), nil
}

func (t *stubTransport) Leave(context.Context, call.ParticipantURL, call.DeviceURL) (*call.SessionSnapshot, error) {
	return t.next(call.ParticipantLeft, call.ParticipantJoined, true), nil
}

func (t *stubTransport) Decline(context.Context, call.SessionURL, call.DeviceURL) error {
	return nil
}

func (t *stubTransport) UpdateMedia(context.Context, call.MediaURL, call.LocalMedia) (*call.SessionSnapshot, error) {
	return t.next(call.ParticipantJoined, call.ParticipantJoined, false), nil
}

func (t *stubTransport) FetchSnapshot(context.Context, call.SessionURL) (*call.SessionSnapshot, error) {
	return t.next(call.ParticipantJoined, call.ParticipantJoined, false), nil
}

func (t *stubTransport) SendTones(_ context.Context, _ call.ParticipantURL, _ call.DeviceURL, tones string, _ int) error {
	t.mu.Lock()
	t.tones = append(t.tones, tones)
	t.mu.Unlock()
	return nil
}

func (t *stubTransport) sentTones() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.tones...)
}

type testAPI struct {
	srv       *httptest.Server
	registry  *call.Registry
	transport *stubTransport
}

func newTestAPI(t *testing.T, videoAllowed bool) *testAPI {
	t.Helper()
	api := &testAPI{registry: call.NewRegistry(nil), transport: &stubTransport{}}
	factory := func() (*call.CallSession, error) {
		cfg := call.DefaultConfig()
		cfg.Transport = api.transport
		cfg.Media = nullmedia.New(zerolog.Nop())
		cfg.Entitlement = call.EntitlementCheckerFunc(func(context.Context) (bool, error) { return videoAllowed, nil })
		cfg.Device = device
		return call.NewSession(cfg)
	}
	handler := NewHandler(api.registry, factory, time.Second, zerolog.Nop())
	api.srv = httptest.NewServer(handler.NewRouter())
	t.Cleanup(api.srv.Close)
	return api
}

func (a *testAPI) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, a.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := a.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (a *testAPI) dial(t *testing.T) string {
	t.Helper()
	status, body := a.do(t, http.MethodPost, "/calls", `{"target":"bob@example.com"}`)
	require.Equal(t, http.StatusOK, status, body)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	return id
}

// TestDialAndHangup проверяет полный цикл вызова через API
func TestDialAndHangup(t *testing.T) {
	api := newTestAPI(t, false)
	id := api.dial(t)

	status, body := api.do(t, http.MethodGet, "/calls/"+id, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, call.Connected.String(), body["state"])
	assert.Equal(t, string(session), body["sessionUrl"])
	assert.Equal(t, true, body["canSendTones"])
	assert.NotEmpty(t, body["history"])

	status, _ = api.do(t, http.MethodPost, "/calls/"+id+"/hangup", "")
	assert.Equal(t, http.StatusOK, status)
	require.Eventually(t, func() bool { return api.registry.Len() == 0 }, time.Second, 5*time.Millisecond,
		"закрытая сессия удаляется из реестра")

	status, _ = api.do(t, http.MethodGet, "/calls/"+id, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDialValidation(t *testing.T) {
	api := newTestAPI(t, false)

	status, _ := api.do(t, http.MethodPost, "/calls", `{"target":""}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = api.do(t, http.MethodPost, "/calls", `{not json`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Zero(t, api.registry.Len())
}

// TestDialVideoDenied проверяет ответ 403 без активации видео
func TestDialVideoDenied(t *testing.T) {
	api := newTestAPI(t, false)

	status, body := api.do(t, http.MethodPost, "/calls", `{"target":"bob@example.com","video":true}`)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, call.ErrorCodeEntitlementDenied.String(), body["code"])
	require.Eventually(t, func() bool { return api.registry.Len() == 0 }, time.Second, 5*time.Millisecond,
		"сессия отклоненного вызова закрывается")
}

func TestDialTransportFailure(t *testing.T) {
	api := newTestAPI(t, true)
	api.transport.joinErr = errors.New("connection refused")

	for i := 0; i < 3; i++ {
		status, body := api.do(t, http.MethodPost, "/calls", `{"target":"bob@example.com"}`)
		assert.Equal(t, http.StatusBadGateway, status)
		assert.Equal(t, call.ErrorCodeTransportFailure.String(), body["code"])
	}
	require.Eventually(t, func() bool { return api.registry.Len() == 0 }, time.Second, 5*time.Millisecond,
		"сессии неудачных вызовов не накапливаются")
}

func TestTones(t *testing.T) {
	api := newTestAPI(t, false)
	id := api.dial(t)

	status, _ := api.do(t, http.MethodPost, "/calls/"+id+"/tones", `{"tones":"12#"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"12#"}, api.transport.sentTones())

	status, body := api.do(t, http.MethodPost, "/calls/"+id+"/tones", `{"tones":"x"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, call.ErrorCodeInvalidTone.String(), body["code"])
}

func TestInvalidStateConflict(t *testing.T) {
	api := newTestAPI(t, false)
	id := api.dial(t)

	status, body := api.do(t, http.MethodPost, "/calls/"+id+"/answer", `{}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, call.ErrorCodeInvalidState.String(), body["code"])

	status, _ = api.do(t, http.MethodPost, "/calls/"+id+"/reject", "")
	assert.Equal(t, http.StatusConflict, status)
}

func TestToggleAndMedia(t *testing.T) {
	api := newTestAPI(t, false)
	id := api.dial(t)

	status, _ := api.do(t, http.MethodPost, "/calls/"+id+"/toggle/sendingAudio", "")
	assert.Equal(t, http.StatusAccepted, status)

	status, _ = api.do(t, http.MethodPost, "/calls/"+id+"/toggle/bogus", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = api.do(t, http.MethodPost, "/calls/"+id+"/media", "")
	assert.Equal(t, http.StatusOK, status)
}

func TestListAndUnknown(t *testing.T) {
	api := newTestAPI(t, false)
	first := api.dial(t)
	second := api.dial(t)

	req, err := http.NewRequest(http.MethodGet, api.srv.URL+"/calls", nil)
	require.NoError(t, err)
	resp, err := api.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var views []callView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
	ids := make([]string, 0, len(views))
	for _, v := range views {
		ids = append(ids, v.ID)
	}
	assert.ElementsMatch(t, []string{first, second}, ids)

	status, _ := api.do(t, http.MethodPost, "/calls/missing/hangup", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestWriteErrorStatuses(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{&call.CallError{Code: call.ErrorCodeSessionClosed}, http.StatusGone},
		{&call.CallError{Code: call.ErrorCodeOperationInProgress}, http.StatusConflict},
		{&call.CallError{Code: call.ErrorCodeDesynchronization}, http.StatusBadGateway},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, tc.err)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
	}
}
