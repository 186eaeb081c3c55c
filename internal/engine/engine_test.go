package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ashureev/campus-companion/internal/domain"
)

const ventEnvelope = `{
  "success": true,
  "data": {
    "playbook_id": "overwhelmed",
    "stage": "vent",
    "validation": "That's a lot to carry.",
    "action_title": "",
    "actions": [],
    "resource_ids": ["counseling"],
    "resources": [{"id": "counseling", "name": "Counseling Center", "description": "Free sessions", "categories": ["mental-health"]}],
    "next_state": {"playbook_id": "overwhelmed", "stage": "vent", "context": {"turns": 1}}
  }
}`

func TestHTTPEngineRun(t *testing.T) {
	t.Parallel()

	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(ventEnvelope))
	}))
	defer srv.Close()

	eng := NewHTTPEngine(srv.URL, srv.Client(), nil)
	reply, err := eng.Run(context.Background(), Request{
		Message: "I'm feeling overwhelmed with school",
		State:   &domain.PlaybookState{PlaybookID: "overwhelmed", Stage: domain.StageVent},
	})
	require.NoError(t, err)

	assert.Equal(t, "I'm feeling overwhelmed with school", got.Message)
	require.NotNil(t, got.State)
	assert.Equal(t, domain.StageVent, got.State.Stage)

	assert.Equal(t, "overwhelmed", reply.PlaybookID)
	assert.Equal(t, domain.StageVent, reply.Stage)
	require.Len(t, reply.Resources, 1)
	assert.Equal(t, "Counseling Center", reply.Resources[0].Name)
	assert.Equal(t, float64(1), reply.NextState.Context["turns"])
}

func TestHTTPEngineFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		body     string
		rejected bool
	}{
		{"non-success envelope", http.StatusOK, `{"success":false,"error":"quota exceeded"}`, true},
		{"missing data", http.StatusOK, `{"success":true}`, true},
		{"error envelope with 500", http.StatusInternalServerError, `{"success":false,"error":"boom"}`, true},
		{"plain 502", http.StatusBadGateway, `upstream down`, false},
		{"garbage", http.StatusOK, `<html>`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			reply, err := NewHTTPEngine(srv.URL, srv.Client(), nil).Run(context.Background(), Request{Message: "hi there"})
			require.Error(t, err)
			assert.Nil(t, reply)
			assert.Equal(t, tt.rejected, errors.Is(err, ErrRejected), "err = %v", err)
		})
	}
}

func startGRPCEngine(t *testing.T, handler grpc.StreamHandler) *GRPCEngine {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnknownServiceHandler(handler))
	healthpb.RegisterHealthServer(srv, health.NewServer())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cfg := DefaultGRPCConfig("passthrough:///bufnet")
	cfg.DialOptions = []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	}
	eng, err := NewGRPCEngine(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func TestGRPCEngineRun(t *testing.T) {
	t.Parallel()

	eng := startGRPCEngine(t, func(_ any, stream grpc.ServerStream) error {
		method, _ := grpc.MethodFromServerStream(stream)
		if method != RunMethod {
			return status.Errorf(codes.Unimplemented, "unknown method %s", method)
		}
		in := &structpb.Struct{}
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		stage := in.GetFields()["state"].GetStructValue().GetFields()["stage"].GetStringValue()
		out, err := structpb.NewStruct(map[string]any{
			"success": true,
			"data": map[string]any{
				"playbook_id":  "overwhelmed",
				"stage":        "triage",
				"validation":   "You said: " + in.GetFields()["message"].GetStringValue(),
				"action_title": "",
				"actions":      []any{},
				"next_state":   map[string]any{"playbook_id": "overwhelmed", "stage": "triage", "context": map[string]any{"from": stage}},
			},
		})
		if err != nil {
			return err
		}
		return stream.SendMsg(out)
	})

	require.NoError(t, eng.Health(context.Background()))

	reply, err := eng.Run(context.Background(), Request{
		Message: "mostly academics",
		State:   &domain.PlaybookState{PlaybookID: "overwhelmed", Stage: domain.StageVent},
	})
	require.NoError(t, err)
	assert.Equal(t, "You said: mostly academics", reply.Validation)
	assert.Equal(t, domain.StageTriage, reply.Stage)
	assert.Equal(t, "vent", reply.NextState.Context["from"])
}

func TestGRPCEngineRejected(t *testing.T) {
	t.Parallel()

	eng := startGRPCEngine(t, func(_ any, stream grpc.ServerStream) error {
		in := &structpb.Struct{}
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		out, _ := structpb.NewStruct(map[string]any{"success": false, "error": "no playbook"})
		return stream.SendMsg(out)
	})

	_, err := eng.Run(context.Background(), Request{Message: "hello there"})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestHTTPPersonalizer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("playbook_id") {
		case "overwhelmed":
			assert.Equal(t, "anon_1", r.URL.Query().Get("device_id"))
			_, _ = w.Write([]byte(`{"coping_style":"planner","suggested_routine_id":"overwhelmed-plan","repeat_suggestion":"Last time the mini plan helped."}`))
		case "lonely":
			_, _ = w.Write([]byte(`null`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewHTTPPersonalizer(srv.URL+"/personalization", srv.Client(), nil)
	ctx := context.Background()

	got, err := p.Resolve(ctx, "anon_1", "overwhelmed")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "overwhelmed-plan", got.SuggestedRoutineID)
	assert.Equal(t, "Last time the mini plan helped.", got.RepeatSuggestion)

	got, err = p.Resolve(ctx, "anon_1", "lonely")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = p.Resolve(ctx, "anon_1", "unknown")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHTTPEventLoggerDeliversAndSwallowsFailures(t *testing.T) {
	t.Parallel()

	var (
		mu  sync.Mutex
		got []Event
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		if ev.Name == EventRoutineFeedback {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	l := NewHTTPEventLogger(srv.URL, 8, srv.Client(), nil)
	l.Log(Event{Name: EventRoutineUsed, DeviceID: "anon_1", Payload: map[string]any{"routine_id": "overwhelmed-plan"}})
	l.Log(Event{Name: EventRoutineFeedback, DeviceID: "anon_1"})
	require.NoError(t, l.Close())
	l.Log(Event{Name: "after_close"})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, EventRoutineUsed, got[0].Name)
	assert.Equal(t, "overwhelmed-plan", got[0].Payload["routine_id"])
	assert.WithinDuration(t, time.Now(), got[0].At, time.Minute)
}

func TestHTTPEventLoggerUnreachableSink(t *testing.T) {
	t.Parallel()

	l := NewHTTPEventLogger("http://127.0.0.1:1/events", 4, &http.Client{Timeout: 200 * time.Millisecond}, nil)
	l.Log(Event{Name: EventRoutineUsed})
	assert.NoError(t, l.Close())
}
