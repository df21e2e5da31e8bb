package call

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-intercom/internal/sip/digest"
	"github.com/nerrad567/gray-logic-intercom/internal/sip/message"
)

type fakeOutbox struct {
	sent []*message.Request
}

func (f *fakeOutbox) Send(r *message.Request) { f.sent = append(f.sent, r) }

func (f *fakeOutbox) last() *message.Request { return f.sent[len(f.sent)-1] }

func (f *fakeOutbox) methods() []string {
	out := make([]string, 0, len(f.sent))
	for _, r := range f.sent {
		out = append(out, r.Method)
	}
	return out
}

type fakeTimers struct {
	armed map[string]time.Duration
}

func (f *fakeTimers) Arm(name string, d time.Duration) { f.armed[name] = d }
func (f *fakeTimers) Disarm(name string)               { delete(f.armed, name) }

type recorder struct {
	transitions []string
	tones       []byte
}

func (r *recorder) CallStateChanged(from, to State, reason string) {
	r.transitions = append(r.transitions, fmt.Sprintf("%s->%s:%s", from, to, reason))
}

func (r *recorder) ToneReceived(tone byte) { r.tones = append(r.tones, tone) }

type harness struct {
	engine *Engine
	out    *fakeOutbox
	timers *fakeTimers
	obs    *recorder
	now    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		out:    &fakeOutbox{},
		timers: &fakeTimers{armed: map[string]time.Duration{}},
		obs:    &recorder{},
		now:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	h.engine = New(Config{
		Credentials: digest.Credentials{Username: "door", Domain: "pbx.local", Password: "secret"},
		LocalHost:   "192.0.2.10",
		Timeout:     30 * time.Second,
		Now:         func() time.Time { return h.now },
	}, h.out, h.timers, h.obs)
	return h
}

func (h *harness) inviteReply(code int, reason string) *message.Response {
	invite := h.engine.active.invite
	return &message.Response{
		StatusCode: code,
		Reason:     reason,
		CallID:     invite.CallID,
		CSeq:       invite.CSeq,
		Method:     message.MethodInvite,
		ToTag:      "remote-tag",
	}
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.engine.Initiate(ctx, "100", true))
	require.True(t, h.engine.HandleResponse(ctx, h.inviteReply(200, "OK")))
	require.Equal(t, StateConnected, h.engine.State())
}

func (h *harness) inbound(method, contentType, body string) *message.InboundRequest {
	return &message.InboundRequest{
		Method:      method,
		CallID:      h.engine.CallID(),
		CSeq:        1,
		ContentType: contentType,
		Body:        []byte(body),
	}
}

func TestInitiate_Preconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("not registered", func(t *testing.T) {
		h := newHarness(t)
		assert.ErrorIs(t, h.engine.Initiate(ctx, "100", false), ErrInvalidState)
		assert.Empty(t, h.out.sent)
		assert.Zero(t, h.engine.Statistics().Attempts)
	})

	t.Run("call already active", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.engine.Initiate(ctx, "100", true))
		assert.ErrorIs(t, h.engine.Initiate(ctx, "100", true), ErrInvalidState)
		assert.Len(t, h.out.sent, 1, "reentrant initiate is rejected, not queued")
		assert.Equal(t, uint32(1), h.engine.Statistics().Attempts)
	})

	t.Run("empty target", func(t *testing.T) {
		h := newHarness(t)
		assert.ErrorIs(t, h.engine.Initiate(ctx, "  ", true), ErrInvalidTarget)
		assert.Equal(t, StateIdle, h.engine.State())
	})
}

func TestInitiate_SendsInvite(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Initiate(context.Background(), "100", true))

	assert.Equal(t, StateCalling, h.engine.State())
	invite := h.out.last()
	assert.Equal(t, message.MethodInvite, invite.Method)
	assert.Equal(t, "sip:100@pbx.local", invite.URI)
	assert.Equal(t, "sip:door@pbx.local", invite.From)
	assert.Equal(t, uint32(1), invite.CSeq)
	assert.Equal(t, 30*time.Second, h.timers.armed[TimerTimeout])
	assert.Equal(t, uint32(1), h.engine.Statistics().Attempts)
}

func TestTargetURI(t *testing.T) {
	h := newHarness(t)
	tests := map[string]string{
		"100":                "sip:100@pbx.local",
		"alice@example.com":  "sip:alice@example.com",
		"sip:200@pbx.remote": "sip:200@pbx.remote",
	}
	for in, want := range tests {
		assert.Equal(t, want, h.engine.targetURI(in), in)
	}
}

func TestAnswer_Connects(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	ack := h.out.last()
	assert.Equal(t, message.MethodAck, ack.Method)
	assert.Equal(t, "remote-tag", ack.ToTag)
	assert.Equal(t, h.out.sent[0].CSeq, ack.CSeq, "ACK reuses the INVITE sequence number")
	assert.NotContains(t, h.timers.armed, TimerTimeout)
	assert.Equal(t, []string{"idle->calling:", "calling->connected:"}, h.obs.transitions)
}

func TestTerminate_Connected_CountsSuccess(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.now = h.now.Add(42 * time.Second)
	assert.Equal(t, 42*time.Second, h.engine.Statistics().CurrentDuration)

	h.engine.Terminate(context.Background())

	assert.Equal(t, StateIdle, h.engine.State())
	assert.Equal(t, message.MethodBye, h.out.last().Method)
	assert.Greater(t, h.out.last().CSeq, h.out.sent[0].CSeq)
	stats := h.engine.Statistics()
	assert.Equal(t, uint32(1), stats.Successes)
	assert.Equal(t, uint32(0), stats.Failures)
	assert.Equal(t, 42*time.Second, stats.TotalDuration)
}

func TestTerminate_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.engine.Terminate(ctx)
	assert.Empty(t, h.out.sent)

	h.connect(t)
	h.engine.Terminate(ctx)
	sent := len(h.out.sent)
	h.engine.Terminate(ctx)

	assert.Len(t, h.out.sent, sent)
	assert.Equal(t, uint32(1), h.engine.Statistics().Successes)
}

func TestTerminate_Calling_SendsCancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Initiate(ctx, "100", true))
	invite := h.out.last()

	h.engine.Terminate(ctx)

	cancel := h.out.last()
	assert.Equal(t, message.MethodCancel, cancel.Method)
	assert.Equal(t, invite.Branch, cancel.Branch)
	assert.Equal(t, invite.CSeq, cancel.CSeq)
	assert.Equal(t, StateIdle, h.engine.State())
	stats := h.engine.Statistics()
	assert.Equal(t, uint32(1), stats.Failures)
	assert.Equal(t, ReasonCancelled, stats.LastFailureReason)

	// The server answers the cancelled INVITE with 487; it is acknowledged.
	res := &message.Response{StatusCode: 487, Reason: "Request Terminated",
		CallID: invite.CallID, CSeq: invite.CSeq, Method: message.MethodInvite}
	assert.True(t, h.engine.HandleResponse(ctx, res))
	assert.Equal(t, message.MethodAck, h.out.last().Method)
	assert.Equal(t, invite.Branch, h.out.last().Branch)
}

func TestRejected_RecoversToIdle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Initiate(ctx, "100", true))

	h.engine.HandleResponse(ctx, h.inviteReply(486, "Busy Here"))

	assert.Equal(t, StateIdle, h.engine.State())
	assert.Equal(t, []string{
		"idle->calling:",
		"calling->error:486 Busy Here",
		"error->idle:486 Busy Here",
	}, h.obs.transitions)
	assert.Equal(t, []string{"INVITE", "ACK"}, h.out.methods())
	stats := h.engine.Statistics()
	assert.Equal(t, uint32(1), stats.Failures)
	assert.Equal(t, "486 Busy Here", stats.LastFailureReason)

	require.NoError(t, h.engine.Initiate(ctx, "100", true), "a new call can follow a failure")
}

func TestTimeout_FailsAndCancels(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Initiate(ctx, "100", true))

	h.engine.Timeout(ctx)

	assert.Equal(t, StateIdle, h.engine.State())
	assert.Equal(t, message.MethodCancel, h.out.last().Method)
	assert.Equal(t, ReasonTimeout, h.engine.Statistics().LastFailureReason)

	// A late timer after the call ended does nothing.
	sent := len(h.out.sent)
	h.engine.Timeout(ctx)
	assert.Len(t, h.out.sent, sent)
	assert.Equal(t, uint32(1), h.engine.Statistics().Failures)
}

func TestInviteChallenge_RetriesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Initiate(ctx, "100", true))
	first := h.out.last()

	res := h.inviteReply(407, "Proxy Authentication Required")
	res.ChallengeHeader = digest.HeaderProxyAuthenticate
	res.ChallengeValue = `Digest realm="pbx", nonce="n1"`
	h.engine.HandleResponse(ctx, res)

	retry := h.out.last()
	assert.Equal(t, message.MethodInvite, retry.Method)
	assert.Equal(t, first.CallID, retry.CallID)
	assert.Equal(t, first.CSeq+1, retry.CSeq)
	assert.Equal(t, digest.HeaderProxyAuthorization, retry.AuthHeader)
	assert.Equal(t, StateCalling, h.engine.State())

	again := h.inviteReply(407, "Proxy Authentication Required")
	again.ChallengeHeader = digest.HeaderProxyAuthenticate
	again.ChallengeValue = `Digest realm="pbx", nonce="n2"`
	h.engine.HandleResponse(ctx, again)

	assert.Equal(t, StateIdle, h.engine.State())
	assert.Equal(t, ReasonAuthRejected, h.engine.Statistics().LastFailureReason)
}

func TestRemoteBye(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.now = h.now.Add(10 * time.Second)

	reply := h.engine.HandleRequest(context.Background(), h.inbound(message.MethodBye, "", ""))

	assert.Equal(t, Reply{Code: 200, Reason: "OK"}, reply)
	assert.Equal(t, StateIdle, h.engine.State())
	assert.Equal(t, uint32(1), h.engine.Statistics().Successes)
	assert.Equal(t, 10*time.Second, h.engine.Statistics().TotalDuration)
}

func TestInfo_TonesOnlyWhileConnected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Initiate(ctx, "100", true))

	reply := h.engine.HandleRequest(ctx, h.inbound(message.MethodInfo, message.ContentTypeDTMFRelay, "Signal=1\r\n"))
	assert.Equal(t, 200, reply.Code)
	assert.Empty(t, h.obs.tones, "tones before answer are dropped")

	h.engine.HandleResponse(ctx, h.inviteReply(200, "OK"))
	h.engine.HandleRequest(ctx, h.inbound(message.MethodInfo, message.ContentTypeDTMFRelay, "Signal=1\r\n"))
	h.engine.HandleRequest(ctx, h.inbound(message.MethodInfo, message.ContentTypeDTMF, "#"))

	assert.Equal(t, []byte{'1', '#'}, h.obs.tones)
}

// debugLog records Debug messages.
type debugLog struct {
	msgs []string
}

func (l *debugLog) Debug(msg string, _ ...any) { l.msgs = append(l.msgs, msg) }
func (l *debugLog) Info(string, ...any)        {}
func (l *debugLog) Warn(string, ...any)        {}
func (l *debugLog) Error(string, ...any)       {}

func TestHandleRequest_Unmatched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.Equal(t, 481, h.engine.HandleRequest(ctx, &message.InboundRequest{Method: message.MethodBye, CallID: "x"}).Code)
	assert.Equal(t, 486, h.engine.HandleRequest(ctx, &message.InboundRequest{Method: message.MethodInvite, CallID: "x"}).Code)
}

func TestHandleRequest_ToneWithoutCallLogged(t *testing.T) {
	h := newHarness(t)
	log := &debugLog{}
	h.engine.SetLogger(log)

	reply := h.engine.HandleRequest(context.Background(), &message.InboundRequest{
		Method:      message.MethodInfo,
		CallID:      "stale",
		ContentType: message.ContentTypeDTMFRelay,
		Body:        []byte("Signal=1\r\n"),
	})

	assert.Equal(t, 481, reply.Code)
	assert.Empty(t, h.obs.tones)
	assert.Contains(t, log.msgs, "tone dropped outside any call")
}

func TestStatisticsInvariant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	outcomes := []func(){
		func() { h.connect(t); h.engine.Terminate(ctx) },
		func() {
			require.NoError(t, h.engine.Initiate(ctx, "100", true))
			h.engine.HandleResponse(ctx, h.inviteReply(603, "Decline"))
		},
		func() { require.NoError(t, h.engine.Initiate(ctx, "100", true)); h.engine.Timeout(ctx) },
		func() {
			h.connect(t)
			h.engine.HandleRequest(ctx, h.inbound(message.MethodBye, "", ""))
		},
		func() { require.NoError(t, h.engine.Initiate(ctx, "100", true)); h.engine.Terminate(ctx) },
	}

	for i, outcome := range outcomes {
		outcome()
		s := h.engine.Statistics()
		require.LessOrEqual(t, s.Successes+s.Failures, s.Attempts, "after outcome %d", i)
		require.Equal(t, s.Attempts, s.Successes+s.Failures, "all calls terminal after outcome %d", i)
	}

	s := h.engine.Statistics()
	assert.Equal(t, uint32(5), s.Attempts)
	assert.Equal(t, uint32(2), s.Successes)
	assert.Equal(t, uint32(3), s.Failures)

	h.engine.ResetStatistics()
	assert.Equal(t, Statistics{}, h.engine.Statistics())
}

func TestSendFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Initiate(ctx, "100", true))

	assert.False(t, h.engine.SendFailed(ctx, "other"))
	assert.True(t, h.engine.SendFailed(ctx, h.engine.CallID()))
	assert.Equal(t, StateIdle, h.engine.State())
	assert.Equal(t, ReasonSendFailed, h.engine.Statistics().LastFailureReason)
}

func TestRestoreStatistics(t *testing.T) {
	h := newHarness(t)
	prev := Statistics{Attempts: 4, Successes: 3, Failures: 1, TotalDuration: time.Minute, CurrentDuration: time.Second, LastFailureReason: ReasonTimeout}

	h.engine.RestoreStatistics(prev)
	got := h.engine.Statistics()
	assert.Equal(t, uint32(4), got.Attempts)
	assert.Equal(t, time.Minute, got.TotalDuration)
	assert.Zero(t, got.CurrentDuration)

	h.connect(t)
	h.engine.RestoreStatistics(Statistics{})
	assert.Equal(t, uint32(5), h.engine.Statistics().Attempts, "ignored while a call is active")
}

func TestLastCallID(t *testing.T) {
	h := newHarness(t)
	assert.Empty(t, h.engine.LastCallID())

	h.connect(t)
	id := h.engine.CallID()
	require.NotEmpty(t, id)

	h.engine.Terminate(context.Background())
	assert.Empty(t, h.engine.CallID())
	assert.Equal(t, id, h.engine.LastCallID())
}
