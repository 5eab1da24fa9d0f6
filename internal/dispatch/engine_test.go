package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"messaging-platform/internal/session"
)

// fakeConn scripts per-address send outcomes.
type fakeConn struct {
	mu           sync.Mutex
	sent         []string
	failFor      map[string]error
	unregistered map[string]bool
	payloads     []session.Payload
}

func newFakeConn() *fakeConn {
	return &fakeConn{failFor: map[string]error{}, unregistered: map[string]bool{}}
}

func (c *fakeConn) Events() <-chan session.Event { return nil }

func (c *fakeConn) Send(ctx context.Context, address string, msg session.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.failFor[address]; ok {
		return err
	}
	c.sent = append(c.sent, address)
	c.payloads = append(c.payloads, msg)
	return nil
}

func (c *fakeConn) CheckRegistered(ctx context.Context, address string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.unregistered[address], nil
}

func (c *fakeConn) Close() error { return nil }

type countingFetcher struct {
	mu    sync.Mutex
	calls int
	data  []byte
	err   error
}

func (f *countingFetcher) Fetch(ctx context.Context, ref string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	return f.data, "image/jpeg", nil
}

func newTestEngine(fetcher MediaFetcher) *Engine {
	e := NewEngine(NormalizeConfig{DefaultCountryPrefix: "62", LocalNumberLength: 10, MinAddressDigits: 8}, fetcher, nil)
	e.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return e
}

func TestRun_BulkTalliesMalformedAsSkipped(t *testing.T) {
	conn := newFakeConn()
	conn.failFor["628111222333"] = errors.New("transport down")
	e := newTestEngine(nil)

	res, err := e.Run(context.Background(), conn, Message{Text: "hi"},
		[]string{"8111222333", "123", "8111222444"}, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Skipped != 1 {
		t.Fatalf("expected skipped=1, got %+v", res)
	}
	if res.Sent+res.Failed+res.Skipped != 3 {
		t.Fatalf("tallies must cover all recipients, got %+v", res)
	}
	if res.Sent != 1 || res.Failed != 1 {
		t.Fatalf("expected sent=1 failed=1, got %+v", res)
	}
}

func TestRun_BulkFailureDoesNotAbortBatch(t *testing.T) {
	conn := newFakeConn()
	conn.failFor["628111222333"] = errors.New("boom")
	e := newTestEngine(nil)

	res, err := e.Run(context.Background(), conn, Message{Text: "hi"},
		[]string{"8111222333", "8111222444", "8111222555"}, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Sent != 2 || res.Failed != 1 {
		t.Fatalf("expected sent=2 failed=1, got %+v", res)
	}
}

func TestRun_FailFastReturnsTransportError(t *testing.T) {
	conn := newFakeConn()
	sendErr := errors.New("socket closed")
	conn.failFor["628111222333"] = sendErr
	e := newTestEngine(nil)

	_, err := e.Run(context.Background(), conn, Message{Text: "hi"},
		[]string{"8111222333"}, Options{FailFast: true})
	if !errors.Is(err, sendErr) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
}

func TestRun_FetchesMediaExactlyOnce(t *testing.T) {
	conn := newFakeConn()
	fetcher := &countingFetcher{data: []byte("jpegbytes")}
	e := newTestEngine(fetcher)

	res, err := e.Run(context.Background(), conn, Message{Text: "pic", MediaRef: "https://cdn/x.jpg", Caption: "cap"},
		[]string{"8111222333", "8111222444", "8111222555"}, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected exactly one media fetch, got %d", fetcher.calls)
	}
	if res.Sent != 3 {
		t.Fatalf("expected sent=3, got %+v", res)
	}
	for _, p := range conn.payloads {
		if string(p.Media) != "jpegbytes" || p.Caption != "cap" {
			t.Fatalf("payload missing media/caption: %+v", p)
		}
	}
}

func TestRun_MediaFetchFailureIsFatal(t *testing.T) {
	conn := newFakeConn()
	fetcher := &countingFetcher{err: errors.New("404")}
	e := newTestEngine(fetcher)

	_, err := e.Run(context.Background(), conn, Message{MediaRef: "https://cdn/x.jpg"},
		[]string{"8111222333"}, Options{})
	if err == nil {
		t.Fatalf("expected media fetch error")
	}
	if len(conn.sent) != 0 {
		t.Fatalf("no sends should happen after a media fetch failure")
	}
}

func TestRun_UnregisteredRecipientSkipped(t *testing.T) {
	conn := newFakeConn()
	conn.unregistered["628111222333"] = true
	e := newTestEngine(nil)

	res, err := e.Run(context.Background(), conn, Message{Text: "hi"},
		[]string{"8111222333", "8111222444"}, Options{VerifyRegistration: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Skipped != 1 || res.Sent != 1 {
		t.Fatalf("expected skipped=1 sent=1, got %+v", res)
	}
}

func TestRun_DelayBetweenRecipientsNeverAfterLast(t *testing.T) {
	conn := newFakeConn()
	e := newTestEngine(nil)
	var sleeps int
	e.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		return nil
	}

	_, err := e.Run(context.Background(), conn, Message{Text: "hi"},
		[]string{"8111222333", "8111222444", "8111222555"}, Options{Delay: time.Second})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sleeps != 2 {
		t.Fatalf("expected 2 inter-message delays for 3 recipients, got %d", sleeps)
	}
}

func TestRun_CancellationStopsBetweenRecipients(t *testing.T) {
	conn := newFakeConn()
	e := newTestEngine(nil)

	ctx, cancel := context.WithCancel(context.Background())
	var sends int
	e.sleep = func(ctx context.Context, d time.Duration) error {
		// Cancel after the first send's trailing delay.
		sends++
		cancel()
		return ctx.Err()
	}

	res, err := e.Run(ctx, conn, Message{Text: "hi"},
		[]string{"8111222333", "8111222444", "8111222555"}, Options{Delay: time.Second})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res.Sent != 1 {
		t.Fatalf("expected partial tally sent=1, got %+v", res)
	}
	_ = sends
}
