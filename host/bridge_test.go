package host_test

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/reglet-dev/portbridge/config"
	"github.com/reglet-dev/portbridge/domain/entities"
	"github.com/reglet-dev/portbridge/domain/errors"
	"github.com/reglet-dev/portbridge/domain/ports"
	"github.com/reglet-dev/portbridge/host"
	"github.com/reglet-dev/portbridge/hostfuncs"
	"github.com/reglet-dev/portbridge/internal/testutil"
	"github.com/stretchr/testify/suite"
	"github.com/tetratelabs/wazero/api"
)

type reported struct {
	port string
	err  error
}

// BridgeSuite loads the bridge fixture once per test and records everything the
// registry reports and logs.
type BridgeSuite struct {
	suite.Suite

	ctx      context.Context
	logs     *testutil.LogRecorder
	executor *host.Executor
	inst     *host.Instance

	mu      sync.Mutex
	reports []reported
}

func (s *BridgeSuite) SetupTest() {
	s.ctx = context.Background()
	s.reports = nil

	var logger *slog.Logger
	s.logs, logger = testutil.NewLogRecorder()

	e, err := host.NewExecutor(s.ctx,
		host.WithLogger(logger),
		host.WithErrorReporter(ports.ErrorReporterFunc(func(_ context.Context, port string, err error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.reports = append(s.reports, reported{port: port, err: err})
		})),
	)
	s.Require().NoError(err)
	s.executor = e

	s.inst, err = e.LoadBytes(s.ctx, "bridge.wasm", testutil.Compile(s.T(), testutil.BridgeModule()), config.Default())
	s.Require().NoError(err)
}

func (s *BridgeSuite) TearDownTest() {
	s.Require().NoError(s.executor.Close(s.ctx))
}

func (s *BridgeSuite) errorsReported() []reported {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]reported(nil), s.reports...)
}

func (s *BridgeSuite) callI32(export string, params ...uint64) int32 {
	results, err := s.inst.Call(s.ctx, export, params...)
	s.Require().NoError(err)
	s.Require().Len(results, 1)
	return api.DecodeI32(results[0])
}

func (s *BridgeSuite) TestPortTable() {
	table := s.inst.Table()

	s.Equal([]entities.Port{
		{Name: "ping", Direction: entities.Inbound, Symbol: "inPort$ping"},
		{Name: "submit", Direction: entities.Inbound, Symbol: "inPort$submit"},
	}, table.Inbound)
	s.Equal([]entities.Port{
		{Name: "log", Direction: entities.Outbound, Symbol: "outPorts.log"},
		{Name: "onResult", Direction: entities.Outbound, Symbol: "outPorts.onResult"},
	}, table.Outbound)
	s.True(table.Memory.Imported)
	s.True(table.HasAllocator)
	s.True(table.HasInitializer)
	s.False(table.ImportsWASI)
	s.Empty(table.ForeignNamespaces)
}

func (s *BridgeSuite) TestLookalikeExportsAreNotPorts() {
	_, err := s.inst.InPort("decoy")
	s.Error(err)
	_, err = s.inst.InPort("lower")
	s.Error(err)
	_, err = s.inst.OutPort("decoy")
	s.Error(err)
}

func (s *BridgeSuite) TestInitializeRunsOnLoad() {
	s.Equal(int32(1), s.callI32("initialized"))
}

// Scenario A: the module sees the exact UTF-16 byte length of the JSON text.
func (s *BridgeSuite) TestSendDeliversByteLength() {
	s.Require().NoError(s.inst.Send(s.ctx, "submit", map[string]int{"x": 1}))

	s.Equal(int32(2*len(`{"x":1}`)), s.callI32("lastLength"))
	s.Equal(int32(testutil.HeapBase), s.callI32("lastOffset"))
}

func (s *BridgeSuite) TestSendEchoRoundTrip() {
	var got []any
	s.Require().NoError(s.inst.Subscribe("onResult", func(_ context.Context, v any) error {
		got = append(got, v)
		return nil
	}))

	msg := map[string]any{"text": "naïve 😀", "n": float64(2), "list": []any{true, nil}}
	s.Require().NoError(s.inst.Send(s.ctx, "submit", msg))

	s.Require().Len(got, 1)
	s.Equal(msg, got[0])
}

// Scenario B: a late subscription receives a message written by the module itself.
func (s *BridgeSuite) TestModuleEmitsPrefilledMessage() {
	var got any
	s.Require().NoError(s.inst.Subscribe("onResult", func(_ context.Context, v any) error {
		got = v
		return nil
	}))

	_, err := s.inst.Call(s.ctx, "emit", testutil.OkOffset, uint64(2*len(testutil.OkText)))
	s.Require().NoError(err)
	s.Equal(map[string]any{"ok": true}, got)
}

// Scenario C: no subscriber means a warning and nothing else.
func (s *BridgeSuite) TestUnsubscribedPortDropsWithWarning() {
	s.Require().NoError(s.inst.Send(s.ctx, "ping", "hello"))

	entry, ok := s.logs.Find("portbridge: no subscriber for outbound port, message dropped")
	s.Require().True(ok)
	s.Equal(slog.LevelWarn, entry.Level)
	s.Equal("log", entry.Attrs["port"])
	s.Empty(s.errorsReported())
}

// Scenario D: a malformed message is reported and the module keeps working.
func (s *BridgeSuite) TestMalformedMessageIsReported() {
	var got []any
	s.Require().NoError(s.inst.Subscribe("onResult", func(_ context.Context, v any) error {
		got = append(got, v)
		return nil
	}))

	_, err := s.inst.Call(s.ctx, "emit", testutil.BadOffset, uint64(2*len(testutil.BadText)))
	s.Require().NoError(err, "a decode failure must not trap the module")
	s.Empty(got)

	reports := s.errorsReported()
	s.Require().Len(reports, 1)
	s.Equal("onResult", reports[0].port)
	decodeErr := testutil.RequireErrorAs[errors.DecodeError](s.T(), reports[0].err)
	s.Equal(uint32(testutil.BadOffset), decodeErr.Offset)
	s.Equal(uint32(2*len(testutil.BadText)), decodeErr.ByteLength)

	_, err = s.inst.Call(s.ctx, "emit", testutil.OkOffset, uint64(2*len(testutil.OkText)))
	s.Require().NoError(err)
	s.Equal([]any{map[string]any{"ok": true}}, got)
}

func (s *BridgeSuite) TestOddByteLengthIsDecodeError() {
	s.Require().NoError(s.inst.Subscribe("onResult", func(context.Context, any) error { return nil }))

	_, err := s.inst.Call(s.ctx, "emit", testutil.OkOffset, 3)
	s.Require().NoError(err)

	reports := s.errorsReported()
	s.Require().Len(reports, 1)
	testutil.RequireErrorAs[errors.DecodeError](s.T(), reports[0].err)
}

func (s *BridgeSuite) TestOutOfBoundsRegionIsMemoryError() {
	s.Require().NoError(s.inst.Subscribe("onResult", func(context.Context, any) error { return nil }))

	_, err := s.inst.Call(s.ctx, "emit", uint64(entities.PageSize-2), 8)
	s.Require().NoError(err)

	reports := s.errorsReported()
	s.Require().Len(reports, 1)
	memErr := testutil.RequireErrorAs[errors.MemoryError](s.T(), reports[0].err)
	s.Equal(uint32(entities.PageSize), memErr.Size)
}

func (s *BridgeSuite) TestHandlerErrorIsReportedNotTrapped() {
	boom := stdErrors.New("boom")
	s.Require().NoError(s.inst.Subscribe("onResult", func(context.Context, any) error { return boom }))

	s.Require().NoError(s.inst.Send(s.ctx, "submit", 1))

	reports := s.errorsReported()
	s.Require().Len(reports, 1)
	s.ErrorIs(reports[0].err, boom)
}

func (s *BridgeSuite) TestHandlerPanicIsRecovered() {
	s.Require().NoError(s.inst.Subscribe("onResult", func(context.Context, any) error { panic("handler exploded") }))

	s.Require().NoError(s.inst.Send(s.ctx, "submit", 1))

	reports := s.errorsReported()
	s.Require().Len(reports, 1)
	panicErr := testutil.RequireErrorAs[errors.PanicError](s.T(), reports[0].err)
	s.Equal("onResult", panicErr.Port)
}

func (s *BridgeSuite) TestSubscribeReplacesHandler() {
	var first, second int
	s.Require().NoError(s.inst.Subscribe("onResult", func(context.Context, any) error { first++; return nil }))
	s.Require().NoError(s.inst.Send(s.ctx, "submit", 1))
	s.Require().NoError(s.inst.Subscribe("onResult", func(context.Context, any) error { second++; return nil }))
	s.Require().NoError(s.inst.Send(s.ctx, "submit", 2))

	s.Equal(1, first)
	s.Equal(1, second)
}

func (s *BridgeSuite) TestUnsubscribeDropsAgain() {
	calls := 0
	s.Require().NoError(s.inst.Subscribe("onResult", func(context.Context, any) error { calls++; return nil }))
	s.Require().NoError(s.inst.Subscribe("onResult", nil))
	s.Require().NoError(s.inst.Send(s.ctx, "submit", 1))

	s.Zero(calls)
	_, ok := s.logs.Find("portbridge: no subscriber for outbound port, message dropped")
	s.True(ok)
}

func (s *BridgeSuite) TestSubscribeAs() {
	type result struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	out, err := s.inst.OutPort("onResult")
	s.Require().NoError(err)

	var got result
	s.Require().NoError(host.SubscribeAs(out, func(_ context.Context, r result) error {
		got = r
		return nil
	}))
	s.Require().NoError(s.inst.Send(s.ctx, "submit", result{Name: "widgets", Count: 3}))
	s.Equal(result{Name: "widgets", Count: 3}, got)
}

func (s *BridgeSuite) TestSubscribeBytesReceivesJSONText() {
	out, err := s.inst.OutPort("onResult")
	s.Require().NoError(err)

	var got []byte
	s.Require().NoError(out.SubscribeBytes(func(_ context.Context, text []byte) error {
		got = text
		return nil
	}))
	s.Require().NoError(s.inst.Send(s.ctx, "submit", []string{"a", "<b>"}))
	s.JSONEq(`["a","<b>"]`, string(got))
}

func (s *BridgeSuite) TestUnknownPorts() {
	err := s.inst.Send(s.ctx, "missing", 1)
	portErr := testutil.RequireErrorAs[errors.PortError](s.T(), err)
	s.Equal(entities.Inbound, portErr.Direction)

	err = s.inst.Subscribe("missing", func(context.Context, any) error { return nil })
	portErr = testutil.RequireErrorAs[errors.PortError](s.T(), err)
	s.Equal(entities.Outbound, portErr.Direction)
}

func (s *BridgeSuite) TestUnencodableValue() {
	err := s.inst.Send(s.ctx, "submit", make(chan int))
	encErr := testutil.RequireErrorAs[errors.EncodeError](s.T(), err)
	s.Equal("submit", encErr.Port)
	s.Equal(int32(-1), s.callI32("lastLength"), "the port must not be called")
}

func (s *BridgeSuite) TestReentrantSendFails() {
	var inner error
	s.Require().NoError(s.inst.Subscribe("onResult", func(ctx context.Context, _ any) error {
		inner = s.inst.Send(ctx, "ping", 1)
		return nil
	}))

	s.Require().NoError(s.inst.Send(s.ctx, "submit", 1))
	s.ErrorIs(inner, errors.ErrReentrantSend)
}

func (s *BridgeSuite) TestSendFromHandlerGoroutineWaitsForTurn() {
	var (
		wg    sync.WaitGroup
		inner error
		pings []any
	)
	s.Require().NoError(s.inst.Subscribe("log", func(_ context.Context, v any) error {
		pings = append(pings, v)
		return nil
	}))
	s.Require().NoError(s.inst.Subscribe("onResult", func(context.Context, any) error {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inner = s.inst.Send(context.Background(), "ping", "later")
		}()
		return nil
	}))

	s.Require().NoError(s.inst.Send(s.ctx, "submit", 1))
	wg.Wait()
	s.NoError(inner)
	s.Equal([]any{"later"}, pings)
}

func (s *BridgeSuite) TestHandlerSeesHostContext() {
	var port string
	s.Require().NoError(s.inst.Subscribe("onResult", func(ctx context.Context, _ any) error {
		hc, ok := hostfuncs.FromContext(ctx)
		if ok {
			port = hc.Port()
		}
		return nil
	}))

	s.Require().NoError(s.inst.Send(s.ctx, "submit", 1))
	s.Equal("onResult", port)
}

func (s *BridgeSuite) TestEncodeDecodeRoundTrip() {
	msg, err := s.inst.Encode(s.ctx, map[string]any{"k": "v"})
	s.Require().NoError(err)
	s.Equal(uint32(2*len(`{"k":"v"}`)), msg.ByteLength)

	got, err := s.inst.Decode(msg)
	s.Require().NoError(err)
	s.Equal(map[string]any{"k": "v"}, got)
}

func (s *BridgeSuite) TestDecodeAfterNextAllocationIsStale() {
	first, err := s.inst.Encode(s.ctx, "first")
	s.Require().NoError(err)
	_, err = s.inst.Encode(s.ctx, "second")
	s.Require().NoError(err)

	_, err = s.inst.Decode(first)
	s.ErrorIs(err, errors.ErrStaleRegion)

	_, err = s.inst.Decode(host.EncodedMessage{})
	s.ErrorIs(err, errors.ErrStaleRegion)
}

func (s *BridgeSuite) TestDecodeSurvivesGrowth() {
	msg, err := s.inst.Encode(s.ctx, map[string]any{"k": "v"})
	s.Require().NoError(err)
	gen := s.inst.Memory().Generation()

	s.Equal(int32(1), s.callI32("grow", 1))
	s.Greater(s.inst.Memory().Generation(), gen)

	got, err := s.inst.Decode(msg)
	s.Require().NoError(err)
	s.Equal(map[string]any{"k": "v"}, got)
}

func (s *BridgeSuite) TestMemoryGrowthChangesGeneration() {
	mem := s.inst.Memory()
	gen := mem.Generation()
	s.Equal(uint32(1), mem.Pages())

	s.Equal(int32(1), s.callI32("grow", 1))

	s.Equal(uint32(2), mem.Pages())
	s.Greater(mem.Generation(), gen)

	// Messages still flow after the buffer was replaced.
	var got any
	s.Require().NoError(s.inst.Subscribe("onResult", func(_ context.Context, v any) error {
		got = v
		return nil
	}))
	s.Require().NoError(s.inst.Send(s.ctx, "submit", "after growth"))
	s.Equal("after growth", got)
}

func (s *BridgeSuite) TestOversizedMessageIsDropped() {
	e, err := host.NewExecutor(s.ctx, host.WithLogger(slog.New(s.logs)), host.WithMaxMessageSize(8))
	s.Require().NoError(err)
	defer e.Close(s.ctx)

	inst, err := e.LoadBytes(s.ctx, "small.wasm", testutil.Compile(s.T(), testutil.BridgeModule()), config.Default())
	s.Require().NoError(err)

	called := false
	s.Require().NoError(inst.Subscribe("onResult", func(context.Context, any) error { called = true; return nil }))
	s.Require().NoError(inst.Send(s.ctx, "submit", "longer than eight bytes"))

	s.False(called)
	entry, ok := s.logs.Find("portbridge: outbound message exceeds maximum size, dropped")
	s.Require().True(ok)
	s.Equal(slog.LevelError, entry.Level)
}

func (s *BridgeSuite) TestConcurrentSendsAreSerialized() {
	var mu sync.Mutex
	count := 0
	s.Require().NoError(s.inst.Subscribe("onResult", func(context.Context, any) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s.NoError(s.inst.Send(s.ctx, "submit", n))
		}(i)
	}
	wg.Wait()
	s.Equal(16, count)
}

func (s *BridgeSuite) TestClose() {
	s.Require().NoError(s.inst.Close(s.ctx))
	s.Require().NoError(s.inst.Close(s.ctx), "close is idempotent")

	s.ErrorIs(s.inst.Send(s.ctx, "submit", 1), errors.ErrClosed)
	_, err := s.inst.Call(s.ctx, "lastLength")
	s.ErrorIs(err, errors.ErrClosed)
}

func (s *BridgeSuite) TestCloseFromHandlerFails() {
	var closeErr error
	s.Require().NoError(s.inst.Subscribe("onResult", func(ctx context.Context, _ any) error {
		closeErr = s.inst.Close(ctx)
		return nil
	}))
	s.Require().NoError(s.inst.Send(s.ctx, "submit", 1))
	s.ErrorIs(closeErr, errors.ErrReentrantSend)
}

func TestBridgeSuite(t *testing.T) {
	suite.Run(t, new(BridgeSuite))
}
