package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mesh-logger/pkg/metrics"
	"mesh-logger/pkg/store"
	"mesh-logger/pkg/types"
)

// --- mocks ---

type fakeRadio struct {
	names   map[string]string
	sent    []string
	sendErr error
}

func (r *fakeRadio) LongName(id string) (string, bool) {
	name, ok := r.names[id]
	return name, ok
}

func (r *fakeRadio) SendText(_ context.Context, text string) error {
	if r.sendErr != nil {
		return r.sendErr
	}
	r.sent = append(r.sent, text)
	return nil
}

type failingStore struct {
	*store.MemoryStore
	err error
}

func (s *failingStore) Transaction(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.err
}

// commitFailingStore 执行 fn 后提交失败
type commitFailingStore struct {
	*store.MemoryStore
	err error
}

func (s *commitFailingStore) Transaction(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.MemoryStore.Transaction(ctx, func(tx store.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return s.err
	})
}

type harness struct {
	pipeline *Pipeline
	store    *store.MemoryStore
	radio    *fakeRadio
	clock    *clockwork.FakeClock
	console  *bytes.Buffer
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		store:   store.NewMemoryStore(),
		radio:   &fakeRadio{names: map[string]string{}},
		clock:   clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
		console: &bytes.Buffer{},
	}
	opts.Clock = h.clock
	opts.Console = h.console
	h.pipeline = New(h.store, zerolog.Nop(), opts)
	return h
}

func (h *harness) handle(t *testing.T, doc string) error {
	t.Helper()
	pkt, err := types.DecodePacket([]byte(doc))
	require.NoError(t, err)
	return h.pipeline.Handle(context.Background(), pkt, h.radio)
}

func positionPacket(lat, lng int32) string {
	return fmt.Sprintf(`{"from": 7, "rxSnr": 4.5, "hopLimit": 2, "decoded": {"portnum": "POSITION_APP", "position": {"latitudeI": %d, "longitudeI": %d}}}`, lat, lng)
}

func textPacket(text string) string {
	return fmt.Sprintf(`{"from": 9, "rxSnr": 5.25, "hopLimit": 3, "decoded": {"portnum": "TEXT_MESSAGE_APP", "payload": %q}}`,
		base64.StdEncoding.EncodeToString([]byte(text)))
}

// --- tests ---

func TestPipeline_MinimalPacket(t *testing.T) {
	h := newHarness(t, Options{})

	require.NoError(t, h.handle(t, `{"from": 42}`))

	logs := h.store.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, types.LogEntry{Time: h.clock.Now().Unix(), Src: 42, SNR: 0, Hops: 0}, logs[0])
	assert.Empty(t, h.store.Positions())
	assert.Empty(t, h.store.Messages())

	counts, err := h.store.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts.Nodes)

	line := h.console.String()
	assert.True(t, strings.HasPrefix(line, "42 "))
	assert.Contains(t, line, h.clock.Now().Local().Format("2006-01-02T15:04:05"))
	assert.Contains(t, line, "  0.0 dB")
	assert.NotContains(t, line, "hops")
	assert.Equal(t, 1, strings.Count(line, "\n"))
}

func TestPipeline_SummaryLine(t *testing.T) {
	h := newHarness(t, Options{})
	h.radio.names["!0000002a"] = "Base Camp"

	require.NoError(t, h.handle(t, `{"from": 42, "fromId": "!0000002a", "rxSnr": -3.25, "hopLimit": 3}`))

	want := fmt.Sprintf("%-16s  %s     % 5.1f dB    %s\n", "Base Camp", h.clock.Now().Local().Format("2006-01-02T15:04:05"), -3.25, "3 hops")
	assert.Equal(t, want, h.console.String())
}

func TestPipeline_NodeNames(t *testing.T) {
	h := newHarness(t, Options{})
	h.radio.names["!0000002a"] = "Base Camp"

	for i := 0; i < 3; i++ {
		require.NoError(t, h.handle(t, `{"from": 42, "fromId": "!0000002a"}`))
	}
	h.radio.names["!0000002a"] = "Base Camp 2"
	require.NoError(t, h.handle(t, `{"from": 42, "fromId": "!0000002a"}`))

	nodes, err := h.store.ListNodes(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "Base Camp", nodes[0].Name)
	assert.Equal(t, "Base Camp 2", nodes[1].Name)
	assert.Len(t, h.store.Logs(), 4)
}

func TestPipeline_LogPerPacket(t *testing.T) {
	h := newHarness(t, Options{})

	docs := []string{
		`{"from": 1}`,
		positionPacket(baseLat, baseLng),
		textPacket("hi"),
		`{"from": 2, "rxSnr": 1.0}`,
		positionPacket(baseLat, baseLng),
	}
	for _, doc := range docs {
		require.NoError(t, h.handle(t, doc))
	}

	assert.Len(t, h.store.Logs(), len(docs))
	assert.Equal(t, int64(len(docs)), h.pipeline.Stats().Packets)
}

func TestPipeline_PositionDedup(t *testing.T) {
	tests := []struct {
		name   string
		second int32
		after  time.Duration
		stored int
	}{
		{"10m apart, 5s apart", baseLat + near, 5 * time.Second, 1},
		{"5000m apart, 5s apart", baseLat + far, 5 * time.Second, 1},
		{"10m apart, 200s apart", baseLat + near, 200 * time.Second, 1},
		{"5000m apart, 200s apart", baseLat + far, 200 * time.Second, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{})

			require.NoError(t, h.handle(t, positionPacket(baseLat, baseLng)))
			first := h.clock.Now().Unix()
			h.clock.Advance(tt.after)
			require.NoError(t, h.handle(t, positionPacket(tt.second, baseLng)))

			positions := h.store.Positions()
			require.Len(t, positions, tt.stored)
			assert.Equal(t, types.GeoEntry{Node: 7, Lat: baseLat, Lng: baseLng, Time: first}, positions[0])
			if tt.stored == 2 {
				assert.Equal(t, types.GeoEntry{Node: 7, Lat: tt.second, Lng: baseLng, Time: h.clock.Now().Unix()}, positions[1])
			}

			st := h.pipeline.Stats()
			assert.Equal(t, int64(tt.stored), st.PositionsStored)
			assert.Equal(t, int64(2-tt.stored), st.PositionsSuppressed)
			assert.Len(t, h.store.Logs(), 2)
		})
	}
}

func TestPipeline_PositionPerNode(t *testing.T) {
	h := newHarness(t, Options{})

	require.NoError(t, h.handle(t, positionPacket(baseLat, baseLng)))
	require.NoError(t, h.handle(t, fmt.Sprintf(`{"from": 8, "decoded": {"position": {"latitudeI": %d, "longitudeI": %d}}}`, baseLat, baseLng)))

	assert.Len(t, h.store.Positions(), 2)
}

func TestPipeline_TextMessage(t *testing.T) {
	h := newHarness(t, Options{})

	require.NoError(t, h.handle(t, textPacket("hello mesh")))

	msgs := h.store.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, types.MessageEntry{Time: h.clock.Now().Unix(), Src: 9, Text: "hello mesh"}, msgs[0])
	assert.Empty(t, h.radio.sent)

	lines := strings.Split(h.console.String(), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "    hello mesh", lines[1])
	assert.Equal(t, "-- ", lines[2])
}

func TestPipeline_AutoReply(t *testing.T) {
	h := newHarness(t, Options{})

	require.NoError(t, h.handle(t, textPacket("QSA")))
	require.Equal(t, []string{"SNR 5.2, TTL 3."}, h.radio.sent)

	// 只有完全相同的文本才触发
	for _, text := range []string{"qsa", "QSA?", " QSA", "hello"} {
		require.NoError(t, h.handle(t, textPacket(text)))
	}
	assert.Len(t, h.radio.sent, 1)
	assert.Equal(t, int64(1), h.pipeline.Stats().Replies)
	assert.Equal(t, int64(5), h.pipeline.Stats().Messages)
}

func TestPipeline_AutoReplyDefaults(t *testing.T) {
	h := newHarness(t, Options{ReplyTrigger: "PING"})

	require.NoError(t, h.handle(t, `{"from": 3, "decoded": {"portnum": "TEXT_MESSAGE_APP", "payload": "UElORw=="}}`))
	assert.Equal(t, []string{"SNR 0.0, TTL 0."}, h.radio.sent)
}

func TestFormatReply(t *testing.T) {
	assert.Equal(t, "SNR 6.2, TTL 3.", FormatReply(6.25, 3))
	assert.Equal(t, "SNR -12.5, TTL 0.", FormatReply(-12.5, 0))
}

func TestPipeline_CrashPolicy(t *testing.T) {
	h := newHarness(t, Options{})

	err := h.handle(t, `{"rxSnr": 1.0}`)
	assert.ErrorIs(t, err, ErrMissingSource)
	assert.Empty(t, h.store.Logs())

	pkt := &types.Packet{
		From:    new(int64),
		Decoded: &types.Decoded{Portnum: types.PortTextMessage, Payload: []byte{0xc3, 0x28}},
	}
	err = h.pipeline.Handle(context.Background(), pkt, h.radio)
	assert.ErrorIs(t, err, ErrInvalidText)
	assert.Equal(t, int64(2), h.pipeline.Stats().Errors)
}

func TestPipeline_LogPerPacketWithMalformedFields(t *testing.T) {
	h := newHarness(t, Options{})

	docs := []string{
		`{"from": 1, "rxSnr": "bad"}`,
		`{"from": 2, "hopLimit": "3"}`,
		`{"from": 3, "decoded": {"portnum": "POSITION_APP", "payload": "%%%"}}`,
		`{"from": 4, "decoded": {"portnum": "TEXT_MESSAGE_APP", "payload": 17}}`,
		`{"from": 5, "decoded": {"position": {"latitudeI": "n", "longitudeI": 1}}}`,
	}
	for _, doc := range docs {
		require.NoError(t, h.handle(t, doc))
	}

	logs := h.store.Logs()
	require.Len(t, logs, len(docs))
	for _, entry := range logs {
		assert.Equal(t, 0.0, entry.SNR)
		assert.Equal(t, 0, entry.Hops)
	}
	assert.Empty(t, h.store.Positions())
	assert.Empty(t, h.store.Messages())
}

func TestPipeline_MalformedSourceIsFatal(t *testing.T) {
	h := newHarness(t, Options{})

	err := h.handle(t, `{"from": "x", "rxSnr": 2.0}`)
	assert.ErrorIs(t, err, ErrMalformedSource)
	assert.Empty(t, h.store.Logs())
}

func TestPipeline_SkipPolicy(t *testing.T) {
	h := newHarness(t, Options{OnError: FailSkip})

	assert.NoError(t, h.handle(t, `{"hopLimit": 1}`))
	assert.NoError(t, h.handle(t, `{"from": 5}`))

	assert.Len(t, h.store.Logs(), 1)
	st := h.pipeline.Stats()
	assert.Equal(t, int64(2), st.Packets)
	assert.Equal(t, int64(1), st.Errors)
}

func TestPipeline_ReplyFailureRollsBack(t *testing.T) {
	h := newHarness(t, Options{})
	h.radio.sendErr = errors.New("radio unplugged")

	err := h.handle(t, textPacket("QSA"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "radio unplugged")

	// 事务回滚，没有留下部分写入
	assert.Empty(t, h.store.Logs())
	assert.Empty(t, h.store.Messages())
}

func TestPipeline_StoreError(t *testing.T) {
	boom := errors.New("disk full")
	st := &failingStore{MemoryStore: store.NewMemoryStore(), err: boom}
	p := New(st, zerolog.Nop(), Options{Console: &bytes.Buffer{}})

	pkt, err := types.DecodePacket([]byte(`{"from": 1}`))
	require.NoError(t, err)

	err = p.Handle(context.Background(), pkt, &fakeRadio{})
	assert.ErrorIs(t, err, boom)
}

func TestPipeline_StatsLastPacket(t *testing.T) {
	h := newHarness(t, Options{})
	assert.True(t, h.pipeline.Stats().LastPacket.IsZero())

	require.NoError(t, h.handle(t, `{"from": 1}`))
	assert.Equal(t, h.clock.Now().Unix(), h.pipeline.Stats().LastPacket.Unix())
}

func TestPipeline_Metrics(t *testing.T) {
	m := metrics.NewMetricsForTesting()
	h := newHarness(t, Options{Metrics: m, OnError: FailSkip})
	h.radio.names["!00000007"] = "Rover"

	require.NoError(t, h.handle(t, `{"from": 7, "fromId": "!00000007"}`))
	require.NoError(t, h.handle(t, positionPacket(baseLat, baseLng)))
	require.NoError(t, h.handle(t, positionPacket(baseLat, baseLng)))
	require.NoError(t, h.handle(t, textPacket("QSA")))
	require.NoError(t, h.handle(t, `{}`))

	assert.Equal(t, 5.0, testutil.ToFloat64(m.PacketsReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PacketErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PositionsStored))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PositionsSuppressed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RepliesSent))
	// fromId 缺失时由 from 推导，位置包同样能解析出名称
	assert.Equal(t, 3.0, testutil.ToFloat64(m.NodesSeen))
}

func TestPipeline_CommitFailureAfterReply(t *testing.T) {
	boom := errors.New("commit failed")
	st := &commitFailingStore{MemoryStore: store.NewMemoryStore(), err: boom}
	radio := &fakeRadio{}
	p := New(st, zerolog.Nop(), Options{Console: &bytes.Buffer{}})

	pkt, err := types.DecodePacket([]byte(textPacket("QSA")))
	require.NoError(t, err)

	err = p.Handle(context.Background(), pkt, radio)
	assert.ErrorIs(t, err, boom)

	// 回复先于提交发出，提交失败时已发送的回复保留，写入全部回滚
	assert.Equal(t, []string{"SNR 5.2, TTL 3."}, radio.sent)
	assert.Empty(t, st.Logs())
	assert.Empty(t, st.Messages())
	assert.Zero(t, p.Stats().Replies)
}
