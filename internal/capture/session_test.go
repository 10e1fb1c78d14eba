package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSource fails or succeeds according to a script of booleans
// (true = frame). Once the script runs out every read succeeds.
type scriptedSource struct {
	mu      sync.Mutex
	script  []bool
	reads   int
	rewinds int
	closed  bool
	rewindErr error
}

func (s *scriptedSource) Read() (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	ok := true
	if len(s.script) > 0 {
		ok, s.script = s.script[0], s.script[1:]
	}
	if !ok {
		return nil, ErrReadFailure
	}
	return &Frame{Image: image.NewRGBA(image.Rect(0, 0, 8, 6))}, nil
}

func (s *scriptedSource) Rewind() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rewinds++
	return s.rewindErr
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// fakeOpener hands out sources in order and records every Open call.
type fakeOpener struct {
	mu      sync.Mutex
	sources []*scriptedSource
	errs    []error
	opens   int
}

func (o *fakeOpener) Open(ctx context.Context, cfg Config) (Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	i := o.opens
	o.opens++
	if i < len(o.errs) && o.errs[i] != nil {
		return nil, o.errs[i]
	}
	if i < len(o.sources) {
		return o.sources[i], nil
	}
	return &scriptedSource{}, nil
}

func failures(n int) []bool {
	return make([]bool, n)
}

func newTestSession(op Opener, cfg Config) (*Session, *[]time.Duration) {
	s := NewSession(op, cfg, DefaultPolicy())
	var waits []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return s, &waits
}

var deviceCfg = Config{Kind: KindDevice, Index: 0}

func TestFourteenFailuresDoNotReopen(t *testing.T) {
	src := &scriptedSource{script: append([]bool{true}, failures(14)...)}
	op := &fakeOpener{sources: []*scriptedSource{src}}
	s, waits := newTestSession(op, deviceCfg)

	_, err := s.Start(context.Background())
	require.NoError(t, err)

	f, err := s.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, f)

	assert.Equal(t, 1, op.opens, "no reopen before 15 failures")
	assert.Len(t, *waits, 14)
	for _, w := range *waits {
		assert.Equal(t, 20*time.Millisecond, w)
	}
	assert.Equal(t, StateReading, s.State())
}

func TestFifteenFailuresReopenExactlyOnce(t *testing.T) {
	first := &scriptedSource{script: append([]bool{true}, failures(15)...)}
	second := &scriptedSource{}
	op := &fakeOpener{sources: []*scriptedSource{first, second}}
	s, _ := newTestSession(op, deviceCfg)

	_, err := s.Start(context.Background())
	require.NoError(t, err)

	_, err = s.Next(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, op.opens)
	assert.True(t, first.closed, "old handle released before reopening")
	assert.Equal(t, uint64(1), s.Reopens())
	assert.Equal(t, uint64(15), s.ReadFailures())
}

func TestLoopingFileRewindsInsteadOfReopening(t *testing.T) {
	src := &scriptedSource{script: []bool{true, false, false, true}}
	op := &fakeOpener{sources: []*scriptedSource{src}}
	s, _ := newTestSession(op, Config{Kind: KindFile, Path: "clip.mp4", Loop: true})

	_, err := s.Start(context.Background())
	require.NoError(t, err)

	_, err = s.Next(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, src.rewinds)
	assert.Equal(t, 1, op.opens)
	assert.Zero(t, s.Reopens())
}

func TestNonLoopingFileDoesNotRewind(t *testing.T) {
	src := &scriptedSource{script: append([]bool{true}, failures(3)...)}
	op := &fakeOpener{sources: []*scriptedSource{src}}
	s, _ := newTestSession(op, Config{Kind: KindFile, Path: "clip.mp4", Loop: false})

	_, err := s.Start(context.Background())
	require.NoError(t, err)
	_, err = s.Next(context.Background())
	require.NoError(t, err)

	assert.Zero(t, src.rewinds)
}

func TestFailedRewindFallsBackToReopen(t *testing.T) {
	first := &scriptedSource{script: append([]bool{true}, failures(15)...), rewindErr: errors.New("seek unsupported")}
	op := &fakeOpener{sources: []*scriptedSource{first, {}}}
	s, _ := newTestSession(op, Config{Kind: KindFile, Path: "clip.mp4", Loop: true})

	_, err := s.Start(context.Background())
	require.NoError(t, err)
	_, err = s.Next(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, op.opens)
	assert.Equal(t, 14, first.rewinds, "rewind tried from the second failure on")
}

func TestFailedReopenBacksOffAndRetries(t *testing.T) {
	first := &scriptedSource{script: append([]bool{true}, failures(15)...)}
	op := &fakeOpener{
		sources: []*scriptedSource{first, nil, {}},
		errs:    []error{nil, errors.New("device busy"), nil},
	}
	s, waits := newTestSession(op, deviceCfg)

	_, err := s.Start(context.Background())
	require.NoError(t, err)
	_, err = s.Next(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, op.opens)
	assert.Contains(t, *waits, time.Second)

	var oe *OpenError
	require.ErrorAs(t, s.LastError(), &oe)
}

func TestFirstReadFailureReopensOnce(t *testing.T) {
	bad := &scriptedSource{script: []bool{false}}
	good := &scriptedSource{}
	op := &fakeOpener{sources: []*scriptedSource{bad, good}}
	s, _ := newTestSession(op, deviceCfg)

	f, err := s.Start(context.Background())
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, uint64(1), f.Seq)
	assert.True(t, bad.closed)
	assert.Equal(t, 2, op.opens)
}

func TestNoInitialFrameAfterRetryIsFatal(t *testing.T) {
	bad1 := &scriptedSource{script: []bool{false}}
	bad2 := &scriptedSource{script: []bool{false}}
	op := &fakeOpener{sources: []*scriptedSource{bad1, bad2}}
	s, _ := newTestSession(op, deviceCfg)

	_, err := s.Start(context.Background())
	require.ErrorIs(t, err, ErrNoInitialFrame)
	assert.Equal(t, 2, op.opens)
	assert.True(t, bad1.closed)
	assert.True(t, bad2.closed)
	assert.Equal(t, StateClosed, s.State())
}

func TestOpenFailureIsOpenError(t *testing.T) {
	op := &fakeOpener{errs: []error{errors.New("no such device")}}
	s, _ := newTestSession(op, deviceCfg)

	_, err := s.Start(context.Background())
	var oe *OpenError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, KindDevice, oe.Kind)
}

func TestNilSourceIsNotOpened(t *testing.T) {
	op := OpenerFunc(func(ctx context.Context, cfg Config) (Source, error) { return nil, nil })
	s, _ := newTestSession(op, deviceCfg)

	_, err := s.Start(context.Background())
	require.ErrorIs(t, err, ErrNotOpened)
}

func TestNextStopsOnCancel(t *testing.T) {
	src := &scriptedSource{script: append([]bool{true}, failures(100)...)}
	op := &fakeOpener{sources: []*scriptedSource{src}}
	s, _ := newTestSession(op, deviceCfg)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := s.Start(ctx)
	require.NoError(t, err)

	cancel()
	_, err = s.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, s.Close())
	assert.True(t, src.closed)
	require.NoError(t, s.Close(), "closing twice is harmless")
}

func TestSequenceNumbersIncrease(t *testing.T) {
	op := &fakeOpener{}
	s, _ := newTestSession(op, deviceCfg)

	f1, err := s.Start(context.Background())
	require.NoError(t, err)
	f2, err := s.Next(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(1), f1.Seq)
	assert.Equal(t, uint64(2), f2.Seq)
	assert.False(t, f2.Timestamp.IsZero())
	assert.Equal(t, 8, f2.Width())
	assert.Equal(t, 6, f2.Height())
}
