package engine

import (
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/developingchet/leroy/internal/address"
	"github.com/developingchet/leroy/internal/input"
	"github.com/developingchet/leroy/internal/metrics"
	"github.com/developingchet/leroy/internal/sink"
	"github.com/developingchet/leroy/internal/testutil"
)

func baseConfig() Config {
	return Config{
		Threshold:       2,
		Period:          10 * time.Second,
		BaseTime:        100 * time.Second,
		RecidivismTTL:   1000 * time.Second,
		SafetyMargin:    time.Second,
		InitialCapacity: 16,
		MaxSize:         1024,
		Mask:            address.SingleIP(),
	}
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *testutil.MockSink, *testutil.FakeClock) {
	t.Helper()
	s := testutil.NewMockSink()
	clk := testutil.NewFakeClock(time.Time{})
	e, err := New(cfg, s, zerolog.Nop(), WithClock(clk))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, s, clk
}

func feed(e *Engine, line string) Outcome {
	return e.HandleLine(context.Background(), []byte(line))
}

func durations(bans []sink.Ban) []time.Duration {
	out := make([]time.Duration, len(bans))
	for i, b := range bans {
		out[i] = b.Duration
	}
	return out
}

func TestNewValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero base time", func(c *Config) { c.BaseTime = 0 }},
		{"zero recidivism ttl", func(c *Config) { c.RecidivismTTL = 0 }},
		{"negative margin", func(c *Config) { c.SafetyMargin = -time.Second }},
		{"zero period with threshold", func(c *Config) { c.Period = 0 }},
		{"zero capacity", func(c *Config) { c.InitialCapacity = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig()
			tc.mutate(&cfg)
			if _, err := New(cfg, testutil.NewMockSink(), zerolog.Nop()); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := New(baseConfig(), nil, zerolog.Nop()); err == nil {
		t.Error("expected error for nil sink")
	}
}

// TestEscalationScenario walks one key through a first ban, a suppressed
// repeat and an escalated second ban.
func TestEscalationScenario(t *testing.T) {
	e, s, clk := newTestEngine(t, baseConfig())
	const k = "198.51.100.23"

	// t=0,1: within quota.
	if o := feed(e, k); o != OutcomePassed {
		t.Fatalf("t=0: %v", o)
	}
	clk.Advance(time.Second)
	if o := feed(e, k); o != OutcomePassed {
		t.Fatalf("t=1: %v", o)
	}

	// t=2: third event inside the window.
	clk.Advance(time.Second)
	if o := feed(e, k); o != OutcomeBanned {
		t.Fatalf("t=2: %v", o)
	}
	bans := s.Bans()
	if len(bans) != 1 || bans[0].Duration != 100*time.Second || bans[0].Recidivism != 1 {
		t.Fatalf("first ban: %+v", bans)
	}
	if bans[0].Key.String() != k {
		t.Errorf("ban key = %s", bans[0].Key)
	}

	// t=3: still limited, but the ban is in force.
	clk.Advance(time.Second)
	if o := feed(e, k); o != OutcomeSuppressed {
		t.Fatalf("t=3: %v", o)
	}
	if len(s.Bans()) != 1 {
		t.Fatalf("suppressed event reached the sink: %+v", s.Bans())
	}

	// t=150: dedup window (99s) has lapsed, recidivism (1000s) has not.
	// A burst pushes the key over quota again.
	clk.Set(clk.Now().Add(147 * time.Second))
	feed(e, k)
	clk.Advance(500 * time.Millisecond)
	feed(e, k)
	clk.Advance(500 * time.Millisecond)
	if o := feed(e, k); o != OutcomeBanned {
		t.Fatalf("t=151: %v", o)
	}

	bans = s.Bans()
	if len(bans) != 2 {
		t.Fatalf("expected 2 bans, got %+v", bans)
	}
	// The suppressed offense at t=3 also counted: 1 (t=2) + 1 (t=3) + 1.
	if bans[1].Recidivism != 3 || bans[1].Duration != 300*time.Second {
		t.Errorf("second ban: %+v", bans[1])
	}
}

// TestEscalationAfterQuietSpell is the same walk without the offense inside
// the live ban, so the second ban carries multiplier 2.
func TestEscalationAfterQuietSpell(t *testing.T) {
	e, s, clk := newTestEngine(t, baseConfig())
	const k = "2001:db8::23"

	for i := 0; i < 3; i++ {
		feed(e, k)
		clk.Advance(time.Second)
	}
	if got := durations(s.Bans()); len(got) != 1 || got[0] != 100*time.Second {
		t.Fatalf("first ban: %v", got)
	}

	clk.Set(clk.Now().Add(147 * time.Second))
	feed(e, k)
	feed(e, k)
	if o := feed(e, k); o != OutcomeBanned {
		t.Fatalf("burst at t=150: %v", o)
	}
	bans := s.Bans()
	if len(bans) != 2 || bans[1].Recidivism != 2 || bans[1].Duration != 200*time.Second {
		t.Errorf("second ban: %+v", bans)
	}
}

func TestKthBanEscalates(t *testing.T) {
	cfg := baseConfig()
	cfg.Threshold = 1
	cfg.Period = time.Second
	cfg.BaseTime = 10 * time.Second
	cfg.RecidivismTTL = time.Hour
	e, s, clk := newTestEngine(t, cfg)

	for k := 1; k <= 4; k++ {
		if o := feed(e, "192.0.2.1"); o != OutcomePassed {
			t.Fatalf("round %d first event: %v", k, o)
		}
		if o := feed(e, "192.0.2.1"); o != OutcomeBanned {
			t.Fatalf("round %d second event: %v", k, o)
		}
		// Wait out the ban without reoffending inside it.
		clk.Advance(time.Duration(k) * 10 * time.Second)
	}

	want := []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second, 40 * time.Second}
	got := durations(s.Bans())
	if len(got) != len(want) {
		t.Fatalf("bans = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ban %d = %s, want %s", i+1, got[i], want[i])
		}
		if s.Bans()[i].Recidivism != uint32(i+1) {
			t.Errorf("ban %d recidivism = %d", i+1, s.Bans()[i].Recidivism)
		}
	}
}

func TestZeroThresholdBansOnSight(t *testing.T) {
	cfg := baseConfig()
	cfg.Threshold = 0
	cfg.Period = 0
	e, s, _ := newTestEngine(t, cfg)

	for _, ip := range []string{"192.0.2.1", "192.0.2.2", "2001:db8::1"} {
		if o := feed(e, ip); o != OutcomeBanned {
			t.Errorf("%s: %v", ip, o)
		}
	}
	if len(s.Bans()) != 3 {
		t.Errorf("expected 3 bans, got %d", len(s.Bans()))
	}
	if e.state.V4.limiter.Len() != 0 {
		t.Error("ban-on-sight should keep no limiter state")
	}
}

func TestSuppressedOffensesStillCount(t *testing.T) {
	cfg := baseConfig()
	cfg.Threshold = 0
	cfg.Period = 0
	cfg.BaseTime = 10 * time.Second
	e, s, clk := newTestEngine(t, cfg)

	feed(e, "192.0.2.1") // banned, count 1
	if o := feed(e, "192.0.2.1"); o != OutcomeSuppressed {
		t.Fatalf("expected suppression, got %v", o)
	}
	clk.Advance(10 * time.Second)
	feed(e, "192.0.2.1")

	got := durations(s.Bans())
	if len(got) != 2 || got[1] != 30*time.Second {
		t.Errorf("bans = %v, want second ban of 30s", got)
	}
}

func TestRecidivismResetsAfterQuietWindow(t *testing.T) {
	cfg := baseConfig()
	cfg.Threshold = 0
	cfg.Period = 0
	cfg.BaseTime = time.Second
	cfg.SafetyMargin = 0
	cfg.RecidivismTTL = 5 * time.Second
	e, s, clk := newTestEngine(t, cfg)

	feed(e, "2001:db8::1")
	clk.Advance(2 * time.Second)
	feed(e, "2001:db8::1")

	// Six quiet seconds is longer than the window, measured from the
	// latest offense.
	clk.Advance(6 * time.Second)
	feed(e, "2001:db8::1")

	got := durations(s.Bans())
	want := []time.Duration{time.Second, 2 * time.Second, time.Second}
	if len(got) != 3 {
		t.Fatalf("bans = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ban %d = %s, want %s", i+1, got[i], want[i])
		}
	}
}

func TestReoffenderKeepsEscalatingPastFirstWindow(t *testing.T) {
	cfg := baseConfig()
	cfg.Threshold = 0
	cfg.Period = 0
	cfg.BaseTime = time.Second
	cfg.SafetyMargin = 0
	cfg.RecidivismTTL = 10 * time.Second
	e, s, clk := newTestEngine(t, cfg)

	// One offense every 6s: each is inside the window restarted by the last.
	for i := 0; i < 4; i++ {
		feed(e, "192.0.2.9")
		clk.Advance(6 * time.Second)
	}

	got := durations(s.Bans())
	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 4 * time.Second}
	if len(got) != len(want) {
		t.Fatalf("bans = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ban %d = %s, want %s", i+1, got[i], want[i])
		}
	}
}

func TestMalformedLinesSkipped(t *testing.T) {
	cfg := baseConfig()
	cfg.Threshold = 1
	e, s, _ := newTestEngine(t, cfg)

	malformed := []string{"", "   ", "not-an-ip", "300.1.1.1", "192.0.2.0/24", "1.2.3.4 extra", "2001:db8::zz"}
	for range 3 {
		for _, line := range malformed {
			if o := feed(e, line); o != OutcomeInvalid {
				t.Errorf("%q: %v", line, o)
			}
		}
	}
	if len(s.Bans()) != 0 {
		t.Errorf("malformed lines produced bans: %+v", s.Bans())
	}
	e.state.Each(func(f address.Family, st *familyState) {
		if st.limiter.Len() != 0 || st.dedup.Len() != 0 || st.recidivism.Len() != 0 {
			t.Errorf("%s: malformed lines left state: limiter=%d dedup=%d recidivism=%d",
				f, st.limiter.Len(), st.dedup.Len(), st.recidivism.Len())
		}
	})

	if o := feed(e, "  192.0.2.1\r"); o != OutcomePassed {
		t.Errorf("surrounding whitespace should be ignored, got %v", o)
	}
	if e.state.V4.limiter.Len() != 1 {
		t.Errorf("valid line should create limiter state, got %d keys", e.state.V4.limiter.Len())
	}
}

func TestSinkErrorIsNonFatal(t *testing.T) {
	cfg := baseConfig()
	cfg.Threshold = 0
	cfg.Period = 0
	e, s, clk := newTestEngine(t, cfg)

	s.SetError("ApplyBan", errors.New("ipset: set does not exist"))
	if o := feed(e, "192.0.2.1"); o != OutcomeBanFailed {
		t.Fatalf("expected ban_failed, got %v", o)
	}
	// The dedup mark stays, so the key is retried only after it lapses.
	if o := feed(e, "192.0.2.1"); o != OutcomeSuppressed {
		t.Errorf("expected suppression after failed ban, got %v", o)
	}
	if o := feed(e, "192.0.2.2"); o != OutcomeBanned {
		t.Errorf("other keys should still be banned, got %v", o)
	}

	clk.Advance(cfg.BaseTime * 3)
	if o := feed(e, "192.0.2.1"); o != OutcomeBanned {
		t.Errorf("key should be retried after dedup lapses, got %v", o)
	}
}

func TestAllowlist(t *testing.T) {
	al, err := address.ParseAllowlist([]string{"10.0.0.0/8", "2001:db8:ffff::/48"})
	if err != nil {
		t.Fatal(err)
	}
	cfg := baseConfig()
	cfg.Threshold = 0
	cfg.Period = 0
	cfg.Allowlist = al
	e, s, _ := newTestEngine(t, cfg)

	for _, ip := range []string{"10.1.2.3", "2001:db8:ffff::9"} {
		if o := feed(e, ip); o != OutcomeAllowlisted {
			t.Errorf("%s: %v", ip, o)
		}
	}
	if len(s.Bans()) != 0 {
		t.Errorf("allowlisted addresses banned: %+v", s.Bans())
	}
	if o := feed(e, "11.0.0.1"); o != OutcomeBanned {
		t.Errorf("non-allowlisted address: %v", o)
	}
}

func TestMaskGroupsAddresses(t *testing.T) {
	mask, err := address.NewMask(24, 64)
	if err != nil {
		t.Fatal(err)
	}
	cfg := baseConfig()
	cfg.Threshold = 1
	cfg.Mask = mask
	e, s, _ := newTestEngine(t, cfg)

	if o := feed(e, "203.0.113.1"); o != OutcomePassed {
		t.Fatalf("first: %v", o)
	}
	if o := feed(e, "203.0.113.200"); o != OutcomeBanned {
		t.Fatalf("second address in the same /24 should share the quota: %v", o)
	}
	bans := s.Bans()
	if len(bans) != 1 || bans[0].Key.String() != "203.0.113.0/24" {
		t.Errorf("bans = %+v", bans)
	}

	feed(e, "2001:db8:0:1::1")
	if o := feed(e, "2001:db8:0:1:ffff::2"); o != OutcomeBanned {
		t.Fatalf("same /64: %v", o)
	}
	if got := s.Bans()[1].Key.String(); got != "2001:db8:0:1::/64" {
		t.Errorf("v6 key = %s", got)
	}
}

func TestFamiliesKeepSeparateState(t *testing.T) {
	cfg := baseConfig()
	cfg.Threshold = 1
	e, _, _ := newTestEngine(t, cfg)

	feed(e, "192.0.2.1")
	feed(e, "2001:db8::1")
	feed(e, "2001:db8::2")

	if e.state.V4.limiter.Len() != 1 || e.state.V6.limiter.Len() != 2 {
		t.Errorf("limiter sizes v4=%d v6=%d", e.state.V4.limiter.Len(), e.state.V6.limiter.Len())
	}

	// An IPv4-mapped IPv6 address is the same IPv4 key.
	if o := feed(e, "::ffff:192.0.2.1"); o != OutcomeBanned {
		t.Errorf("mapped address should share the IPv4 key's quota, got %v", o)
	}
}

func TestBanDurationCapAndSaturation(t *testing.T) {
	cfg := baseConfig()
	cfg.BaseTime = 10 * time.Second
	cfg.MaxTime = 25 * time.Second
	e, _, _ := newTestEngine(t, cfg)

	cases := []struct {
		count uint32
		want  time.Duration
	}{
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 25 * time.Second},
		{math.MaxUint32, 25 * time.Second},
	}
	for _, c := range cases {
		if got := e.banDuration(c.count); got != c.want {
			t.Errorf("banDuration(%d) = %s, want %s", c.count, got, c.want)
		}
	}

	cfg.MaxTime = 0
	cfg.BaseTime = time.Hour
	e, _, _ = newTestEngine(t, cfg)
	if got := e.banDuration(math.MaxUint32); got != time.Duration(math.MaxInt64) {
		t.Errorf("uncapped huge count should saturate, got %s", got)
	}
}

func TestZeroTTLWhenMarginExceedsDuration(t *testing.T) {
	cfg := baseConfig()
	cfg.Threshold = 0
	cfg.Period = 0
	cfg.BaseTime = time.Second
	cfg.SafetyMargin = 5 * time.Second
	e, s, _ := newTestEngine(t, cfg)

	feed(e, "192.0.2.1")
	feed(e, "192.0.2.1")
	if len(s.Bans()) != 2 {
		t.Errorf("zero dedup window should not suppress, got %d bans", len(s.Bans()))
	}
}

func TestRunUntilEOF(t *testing.T) {
	cfg := baseConfig()
	cfg.Threshold = 0
	cfg.Period = 0
	e, s, _ := newTestEngine(t, cfg)

	src := input.NewReader(strings.NewReader("192.0.2.1\ngarbage\n192.0.2.2\n192.0.2.1\n"), 4096, zerolog.Nop())
	defer src.Close()
	if err := e.Run(context.Background(), src); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(s.Bans()) != 2 {
		t.Errorf("expected 2 bans, got %+v", s.Bans())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	e, _, _ := newTestEngine(t, baseConfig())
	pr, pw := io.Pipe()
	defer pw.Close()
	src := input.NewReader(pr, 4096, zerolog.Nop())
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, src) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestOutcomeString(t *testing.T) {
	if OutcomeBanFailed.String() != "ban_failed" || Outcome(99).String() != "unknown" {
		t.Errorf("unexpected names: %q %q", OutcomeBanFailed, Outcome(99))
	}
}

func TestReporterResetsCounters(t *testing.T) {
	cfg := baseConfig()
	cfg.ReportInterval = 10 * time.Second
	e, _, clk := newTestEngine(t, cfg)

	feed(e, "192.0.2.1")
	feed(e, "192.0.2.2")
	if e.report.lines != 2 {
		t.Fatalf("lines = %d", e.report.lines)
	}
	clk.Advance(11 * time.Second)
	feed(e, "192.0.2.3")
	if e.report.lines != 0 {
		t.Errorf("lines should reset after a report, got %d", e.report.lines)
	}
}

func TestReporterRefreshesTableGauges(t *testing.T) {
	cfg := baseConfig()
	cfg.Threshold = 0
	cfg.Period = 0
	cfg.ReportInterval = 10 * time.Second
	e, _, clk := newTestEngine(t, cfg)

	feed(e, "192.0.2.1")
	feed(e, "192.0.2.2")
	clk.Advance(11 * time.Second)
	feed(e, "2001:db8::1")

	if got := promtest.ToFloat64(metrics.RecidivismEntries.WithLabelValues("ipv4")); got != 2 {
		t.Errorf("ipv4 recidivism gauge = %v, want 2", got)
	}
	if got := promtest.ToFloat64(metrics.DedupEntries.WithLabelValues("ipv4")); got != 2 {
		t.Errorf("ipv4 dedup gauge = %v, want 2", got)
	}
	if got := promtest.ToFloat64(metrics.RecidivismEntries.WithLabelValues("ipv6")); got != 1 {
		t.Errorf("ipv6 recidivism gauge = %v, want 1", got)
	}
}
