package executorsim

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"macroctl/internal/editor"
	"macroctl/internal/log"
	"macroctl/internal/network"
	"macroctl/internal/protocol"
	"macroctl/internal/run"
	"macroctl/internal/step"
	"macroctl/internal/store"
)

func newServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.TimeScale == 0 {
		opts.TimeScale = 0.001
	}
	if opts.NewID == nil {
		var mu sync.Mutex
		n := 0
		opts.NewID = func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("x%d", n)
		}
	}
	sim := New(opts)
	srv := httptest.NewServer(sim.Handler())
	t.Cleanup(func() {
		srv.Close()
		sim.Close()
	})
	return sim, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, cmd protocol.Command) {
	t.Helper()
	raw, err := protocol.Encode(cmd)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

// next reads events until one of type E arrives.
func next[E protocol.Event](t *testing.T, conn *websocket.Conn) E {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		ev, err := protocol.DecodeEvent(data)
		require.NoError(t, err)
		if e, ok := ev.(E); ok {
			return e
		}
	}
}

func moveStep(id string, x, y int) step.Step {
	return step.Step{ID: id, Type: step.TypeMouseMove, Data: step.Data{X: step.Int(x), Y: step.Int(y), WaitTime: step.Float(0)}}
}

func TestGetStepsRepliesWithList(t *testing.T) {
	sim, srv := newServer(t, Options{})
	conn := dial(t, srv)
	require.Eventually(t, func() bool { return sim.Clients() == 1 }, time.Second, 5*time.Millisecond)
	sim.SetSteps([]step.Step{moveStep("a", 1, 2)})
	next[protocol.StepsUpdated](t, conn)

	send(t, conn, protocol.GetSteps{})
	ev := next[protocol.StepsUpdated](t, conn)
	require.Len(t, ev.Steps, 1)
	assert.Equal(t, "a", ev.Steps[0].ID)
	assert.Nil(t, ev.Version)

	send(t, conn, protocol.GetRandomTiming{})
	rt := next[protocol.RandomTimingUpdated](t, conn)
	assert.Equal(t, protocol.DefaultRandomTiming(), rt.RandomTiming)
}

func TestEditsBroadcast(t *testing.T) {
	sim, srv := newServer(t, Options{})
	conn := dial(t, srv)

	send(t, conn, protocol.AddStep{Data: step.Data{StepType: string(step.TypeWait), WaitTime: step.Float(2)}})
	ev := next[protocol.StepsUpdated](t, conn)
	require.Len(t, ev.Steps, 1)
	assert.Equal(t, "x1", ev.Steps[0].ID)
	assert.Equal(t, step.TypeWait, ev.Steps[0].Type)

	send(t, conn, protocol.UpdateStepsOrder{Steps: []step.Step{moveStep("a", 0, 0), moveStep("b", 0, 0)}, Version: 7})
	ev = next[protocol.StepsUpdated](t, conn)
	require.NotNil(t, ev.Version)
	assert.Equal(t, uint64(7), *ev.Version)
	assert.Len(t, ev.Steps, 2)

	send(t, conn, protocol.DeleteSteps{StepIDs: []string{"a"}})
	ev = next[protocol.StepsUpdated](t, conn)
	require.Len(t, ev.Steps, 1)
	assert.Equal(t, "b", ev.Steps[0].ID)

	send(t, conn, protocol.ClearSteps{})
	ev = next[protocol.StepsUpdated](t, conn)
	assert.Empty(t, ev.Steps)
	assert.Empty(t, sim.Steps())
}

func TestVersionEchoCanBeDisabled(t *testing.T) {
	_, srv := newServer(t, Options{DisableVersionEcho: true})
	conn := dial(t, srv)

	send(t, conn, protocol.UpdateStepsOrder{Steps: []step.Step{moveStep("a", 0, 0)}, Version: 3})
	ev := next[protocol.StepsUpdated](t, conn)
	assert.Nil(t, ev.Version)
}

func TestRunPlaysTelemetry(t *testing.T) {
	_, srv := newServer(t, Options{})
	conn := dial(t, srv)

	steps := []step.Step{moveStep("a", 5, 6), moveStep("b", 7, 8)}
	send(t, conn, protocol.RunAutomation{LoopCount: 2, Steps: steps})

	status := next[protocol.StatusUpdate](t, conn)
	assert.Equal(t, protocol.StatusRunning, status.Status)

	var progress []protocol.StepExecuting
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		ev, err := protocol.DecodeEvent(data)
		require.NoError(t, err)
		if p, ok := ev.(protocol.StepExecuting); ok {
			progress = append(progress, p)
		}
		if done, ok := ev.(protocol.AutomationCompleted); ok {
			assert.Equal(t, 2, done.CompletedLoops)
			break
		}
	}
	require.Len(t, progress, 4)
	assert.Equal(t, 1, progress[3].Index)
	assert.Equal(t, 1, *progress[3].LoopIndex)
	assert.Equal(t, 2, *progress[3].TotalSteps)

	idle := next[protocol.StatusUpdate](t, conn)
	assert.Equal(t, protocol.StatusIdle, idle.Status)
}

func TestLoopForeverUntilStopped(t *testing.T) {
	sim, srv := newServer(t, Options{MinStepDelay: 5 * time.Millisecond})
	conn := dial(t, srv)

	send(t, conn, protocol.RunAutomation{LoopCount: protocol.LoopForever, Steps: []step.Step{moveStep("a", 1, 1)}})
	p := next[protocol.StepExecuting](t, conn)
	assert.Equal(t, -1, *p.TotalLoops)

	for {
		p = next[protocol.StepExecuting](t, conn)
		if *p.LoopIndex >= 3 {
			break
		}
	}
	assert.True(t, sim.Running())

	send(t, conn, protocol.StopAutomation{})
	for {
		st := next[protocol.StatusUpdate](t, conn)
		if st.Status == protocol.StatusStopped {
			break
		}
	}
	assert.Eventually(t, func() bool { return !sim.Running() }, time.Second, 5*time.Millisecond)
}

func TestRecordingStatus(t *testing.T) {
	sim, srv := newServer(t, Options{})
	conn := dial(t, srv)

	send(t, conn, protocol.StartRecording{})
	assert.Equal(t, protocol.StatusRecording, next[protocol.StatusUpdate](t, conn).Status)
	assert.True(t, sim.Recording())

	send(t, conn, protocol.StopRecording{})
	assert.Equal(t, protocol.StatusIdle, next[protocol.StatusUpdate](t, conn).Status)
	assert.False(t, sim.Recording())
}

func TestDeviceCommands(t *testing.T) {
	sim, srv := newServer(t, Options{})
	conn := dial(t, srv)

	send(t, conn, protocol.SetClipboard{Text: "hello"})
	ack := next[protocol.ActionCompleted](t, conn)
	assert.Equal(t, "set_clipboard", ack.Action)
	assert.Equal(t, "hello", sim.Clipboard())

	send(t, conn, protocol.GetClipboard{})
	assert.Equal(t, "hello", next[protocol.ClipboardText](t, conn).Text)

	send(t, conn, protocol.PerformCopy{})
	ack = next[protocol.ActionCompleted](t, conn)
	assert.Equal(t, "copy", ack.Action)
	assert.Equal(t, "hello", ack.ClipboardText)

	send(t, conn, protocol.KeyPress{Key: "ctrl+v"})
	ack = next[protocol.ActionCompleted](t, conn)
	assert.Equal(t, "ctrl+v", ack.Key)
}

func TestRandomTimingBroadcast(t *testing.T) {
	sim, srv := newServer(t, Options{})
	a := dial(t, srv)
	b := dial(t, srv)
	require.Eventually(t, func() bool { return sim.Clients() == 2 }, time.Second, 5*time.Millisecond)

	rt := protocol.RandomTiming{Enabled: true, MinFactor: 0.5, MaxFactor: 2}
	send(t, a, protocol.UpdateRandomTiming{RandomTiming: rt})
	assert.Equal(t, rt, next[protocol.RandomTimingUpdated](t, a).RandomTiming)
	assert.Equal(t, rt, next[protocol.RandomTimingUpdated](t, b).RandomTiming)
	assert.Equal(t, rt, sim.RandomTiming())
}

func TestTokenRequired(t *testing.T) {
	_, srv := newServer(t, Options{Token: "s3cret"})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{"Authorization": []string{"Bearer s3cret"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	require.NoError(t, err)
	conn.Close()

	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

type quietNotifier struct{}

func (quietNotifier) Info(string, ...any)    {}
func (quietNotifier) Success(string, ...any) {}
func (quietNotifier) Warn(string, ...any)    {}
func (quietNotifier) Error(string, ...any)   {}

// TestEditorAgainstSimulator drives the real connection manager and
// editor against the simulator end to end.
func TestEditorAgainstSimulator(t *testing.T) {
	sim, srv := newServer(t, Options{})
	sim.SetSteps([]step.Step{moveStep("seed", 3, 4)})

	mgr := network.NewManager(network.Options{
		URL:            wsURL(srv),
		ReconnectDelay: 50 * time.Millisecond,
		SettleDelay:    10 * time.Millisecond,
		Logger:         log.Discard(),
	})
	st := store.New()
	rc := run.NewController(log.Discard())
	ed := editor.New(st, rc, mgr, quietNotifier{}, editor.Options{DefaultWaitTime: 0, Logger: log.Discard()})
	mgr.SetHandler(ed)
	mgr.OnStateChange(ed.HandleConnectionState)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		mgr.Close()
	})
	mgr.Start(ctx)

	require.Eventually(t, func() bool { return st.Len() == 1 }, 2*time.Second, 10*time.Millisecond, "initial pull")
	assert.Equal(t, "seed", st.Steps()[0].ID)

	_, err := ed.AddWait(0)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(sim.Steps()) == 2 && st.Pending() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, sim.Steps(), st.Steps(), "client adopts executor ids")

	st.SetSelection([]string{"seed"})
	_, err = ed.DeleteSelected()
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(sim.Steps()) == 1 && st.Pending() == 0 }, 2*time.Second, 10*time.Millisecond)

	var sawRunning sync.Once
	running := make(chan struct{})
	rc.OnChange(func(tel run.Telemetry) {
		if tel.Status == run.Running {
			sawRunning.Do(func() { close(running) })
		}
	})
	require.NoError(t, ed.Run(2))
	select {
	case <-running:
	case <-time.After(2 * time.Second):
		t.Fatal("run never started")
	}
	require.Eventually(t, func() bool { return rc.State() == run.Idle }, 2*time.Second, 10*time.Millisecond)
}
