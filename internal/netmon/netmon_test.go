package netmon

import (
	"context"
	"testing"
	"time"
)

func online(link LinkType, reachable bool) Status {
	return Status{Connected: true, LinkType: link, InternetReachable: reachable}
}

func offline() Status {
	return Status{Connected: false, LinkType: LinkNone}
}

func newTestMonitor() *Monitor {
	// Samples are injected directly; the interval only drives WaitForStable.
	return NewMonitor(nil, 10*time.Millisecond)
}

func TestScoreTable(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		want   int
	}{
		{"wifi reachable", online(LinkWifi, true), 100},
		{"ethernet reachable", online(LinkEthernet, true), 100},
		{"wifi unreachable", online(LinkWifi, false), 80},
		{"cellular reachable", online(LinkCellular, true), 70},
		{"cellular unreachable", online(LinkCellular, false), 50},
		{"other reachable", online(LinkOther, true), 30},
		{"other unreachable", online(LinkOther, false), 10},
		{"offline", offline(), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMonitor()
			m.Observe(tt.status)
			if got := m.Score(); got != tt.want {
				t.Errorf("expected score %d, got %d", tt.want, got)
			}
		})
	}
}

func TestHistoryCapped(t *testing.T) {
	m := newTestMonitor()
	for i := 0; i < 25; i++ {
		m.Observe(online(LinkWifi, true))
	}
	if got := len(m.History()); got != 10 {
		t.Errorf("expected history capped at 10, got %d", got)
	}
}

func TestStability(t *testing.T) {
	tests := []struct {
		name    string
		samples []Status
		want    Stability
	}{
		{"no samples", nil, StabilityUnknown},
		{"one sample", []Status{online(LinkWifi, true)}, StabilityUnknown},
		{"steady online", []Status{
			online(LinkWifi, true), online(LinkWifi, true), online(LinkWifi, true),
		}, StabilityStable},
		{"single flip", []Status{
			offline(), online(LinkWifi, true), online(LinkWifi, true),
		}, StabilityStable},
		{"bouncing", []Status{
			online(LinkWifi, true), offline(), online(LinkWifi, true), offline(),
		}, StabilityUnstable},
		{"old churn outside window", []Status{
			online(LinkWifi, true), offline(), online(LinkWifi, true),
			online(LinkWifi, true), online(LinkWifi, true), online(LinkWifi, true),
			online(LinkWifi, true), online(LinkWifi, true),
		}, StabilityStable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMonitor()
			for _, s := range tt.samples {
				m.Observe(s)
			}
			if got := m.CurrentStability(); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestRestoredFiresOncePerEdge(t *testing.T) {
	m := newTestMonitor()
	restored, cancel := m.SubscribeRestored()
	defer cancel()

	for _, s := range []Status{
		online(LinkWifi, true), online(LinkWifi, true),
		offline(), offline(),
		online(LinkWifi, true),
	} {
		m.Observe(s)
	}

	count := 0
	for {
		select {
		case <-restored:
			count++
		default:
			if count != 1 {
				t.Errorf("expected exactly 1 restored event, got %d", count)
			}
			return
		}
	}
}

func TestRestoredNotFiredOnFirstSample(t *testing.T) {
	m := newTestMonitor()
	restored, cancel := m.SubscribeRestored()
	defer cancel()

	m.Observe(online(LinkWifi, true))

	select {
	case <-restored:
		t.Error("first sample must not count as a restoration")
	default:
	}
}

func TestSubscribeReceivesChangesOnly(t *testing.T) {
	m := newTestMonitor()
	changes, cancel := m.Subscribe()
	defer cancel()

	m.Observe(online(LinkWifi, true))
	m.Observe(online(LinkWifi, true)) // identical, no event
	m.Observe(online(LinkCellular, true))

	count := 0
	for {
		select {
		case <-changes:
			count++
		default:
			if count != 2 {
				t.Errorf("expected 2 change events, got %d", count)
			}
			return
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	m := newTestMonitor()
	changes, cancel := m.Subscribe()
	cancel()

	m.Observe(online(LinkWifi, true))

	select {
	case <-changes:
		t.Error("unsubscribed channel must not receive")
	default:
	}
}

func TestWaitForStable(t *testing.T) {
	m := newTestMonitor()
	m.Observe(online(LinkWifi, true))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.WaitForStable(ctx) }()

	m.Observe(online(LinkWifi, true))
	m.Observe(online(LinkWifi, true))

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitForStable failed: %v", err)
		}
	case <-ctx.Done():
		t.Error("WaitForStable did not return for a stable link")
	}
}

func TestWaitForStableHonorsContext(t *testing.T) {
	m := newTestMonitor()
	m.Observe(online(LinkWifi, true))
	m.Observe(offline())
	m.Observe(online(LinkWifi, true))
	m.Observe(offline())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := m.WaitForStable(ctx); err == nil {
		t.Error("expected context error for an unstable link")
	}
}

type scriptedProber struct {
	samples []Status
	idx     int
}

func (p *scriptedProber) Probe(ctx context.Context) Status {
	if p.idx >= len(p.samples) {
		return p.samples[len(p.samples)-1]
	}
	s := p.samples[p.idx]
	p.idx++
	return s
}

func TestMonitorLoopSamplesProber(t *testing.T) {
	prober := &scriptedProber{samples: []Status{
		offline(), online(LinkWifi, true),
	}}
	m := NewMonitor(prober, 5*time.Millisecond)

	restored, cancelSub := m.SubscribeRestored()
	defer cancelSub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	select {
	case s := <-restored:
		if !s.Connected {
			t.Error("restored event carries a disconnected status")
		}
	case <-time.After(time.Second):
		t.Fatal("restored event never fired")
	}
}

func TestClassifyInterface(t *testing.T) {
	tests := []struct {
		name string
		want LinkType
	}{
		{"wlan0", LinkWifi},
		{"wlp3s0", LinkWifi},
		{"eth0", LinkEthernet},
		{"enp0s31f6", LinkEthernet},
		{"wwan0", LinkCellular},
		{"rmnet_data0", LinkCellular},
		{"tun0", LinkOther},
	}
	for _, tt := range tests {
		if got := classifyInterface(tt.name); got != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.name, tt.want, got)
		}
	}
}
