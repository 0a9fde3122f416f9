package sink

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/AlsinafiAziz/metricpal-kiro/internal/config"
)

type recordingWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSinkSend(t *testing.T) {
	events, identities := &recordingWriter{}, &recordingWriter{}
	s := &KafkaSink{writers: map[string]messageWriter{"events": events, "identities": identities}}

	batch := Batch{
		Events:     []Event{{EventID: "e1", WorkspaceID: "ws-1"}, {EventID: "e2", WorkspaceID: "ws-1"}},
		Identities: []Identity{{WorkspaceID: "ws-1", EmailHash: "h"}},
	}
	if err := s.Send(context.Background(), batch); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(events.msgs) != 2 || len(identities.msgs) != 1 {
		t.Fatalf("messages = %d events, %d identities", len(events.msgs), len(identities.msgs))
	}
	if string(events.msgs[0].Key) != "ws-1" {
		t.Errorf("key = %q", events.msgs[0].Key)
	}
	var ev Event
	if err := json.Unmarshal(events.msgs[1].Value, &ev); err != nil || ev.EventID != "e2" {
		t.Errorf("value = %s (%v)", events.msgs[1].Value, err)
	}

	s.Close()
	if !events.closed || !identities.closed {
		t.Error("writers not closed")
	}
}

func TestKafkaSinkMissingTopic(t *testing.T) {
	s := &KafkaSink{writers: map[string]messageWriter{"events": &recordingWriter{}}}
	err := s.Send(context.Background(), Batch{Identities: []Identity{{EmailHash: "h"}}})
	if err == nil || !strings.Contains(err.Error(), "identities") {
		t.Errorf("err = %v", err)
	}
}

func TestNewKafkaSinkNeedsBrokers(t *testing.T) {
	if _, err := NewKafkaSink(config.KafkaConfig{}); err == nil {
		t.Error("expected error without brokers")
	}
}

type fakeSink struct {
	name  string
	err   error
	mu    sync.Mutex
	sent  []Batch
	close int
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Send(_ context.Context, b Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, b)
	return f.err
}

func (f *fakeSink) Close() error {
	f.close++
	return nil
}

func TestFanoutSendsToEverySink(t *testing.T) {
	boom := errors.New("down")
	ok, failing := &fakeSink{name: "a"}, &fakeSink{name: "b", err: boom}
	f := NewFanout(ok, failing)

	err := f.Send(context.Background(), Batch{Events: []Event{{EventID: "e"}}})
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "b:") {
		t.Errorf("err = %v", err)
	}
	if len(ok.sent) != 1 || len(failing.sent) != 1 {
		t.Errorf("sent = %d, %d", len(ok.sent), len(failing.sent))
	}

	if err := f.Send(context.Background(), Batch{}); err != nil || len(ok.sent) != 1 {
		t.Errorf("empty batch forwarded (err %v)", err)
	}

	f.Close()
	if ok.close != 1 || failing.close != 1 {
		t.Error("sinks not closed")
	}
	if got := f.Names(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("names = %v", got)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := &config.Config{
		Sink:     config.SinkConfig{Targets: []string{config.SinkTinybird, config.SinkKafka}},
		Tinybird: config.TinybirdConfig{APIURL: "http://tb.local", Token: "t"},
		Kafka:    config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topics: map[string]string{"events": "e"}},
	}
	f, err := FromConfig(cfg)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	defer f.Close()
	if got := f.Names(); len(got) != 2 || got[0] != config.SinkTinybird || got[1] != config.SinkKafka {
		t.Errorf("names = %v", got)
	}

	cfg.Tinybird.Token = ""
	if _, err := FromConfig(cfg); err == nil {
		t.Error("expected error for tinybird without token")
	}
}

type pingingSink struct {
	fakeSink
	pingErr error
}

func (p *pingingSink) Ping(context.Context) error { return p.pingErr }

func TestFanoutPing(t *testing.T) {
	down := errors.New("unreachable")
	f := NewFanout(&fakeSink{name: "kafka"}, &pingingSink{fakeSink: fakeSink{name: "tinybird"}, pingErr: down})

	err := f.Ping(context.Background())
	if !errors.Is(err, down) || !strings.HasPrefix(err.Error(), "tinybird:") {
		t.Errorf("err = %v", err)
	}

	if err := NewFanout(&pingingSink{fakeSink: fakeSink{name: "ok"}}).Ping(context.Background()); err != nil {
		t.Errorf("healthy ping = %v", err)
	}
}
