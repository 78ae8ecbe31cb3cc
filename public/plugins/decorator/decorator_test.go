package decorator

import (
	"context"
	"log/slog"
	"testing"

	"github.com/fujin-io/evstore/public/plugins/decorator/config"
	"github.com/fujin-io/evstore/public/plugins/sink"
)

type nopSink struct{}

func (nopSink) Publish(_ context.Context, _ []byte, _ [][]byte, callback func(err error)) {
	callback(nil)
}
func (nopSink) Flush(context.Context) error { return nil }
func (nopSink) Close() error                { return nil }

// taggingSink records the order decorators were applied in.
type taggingSink struct {
	sink.Sink
	tag   string
	order *[]string
}

func (t taggingSink) Publish(ctx context.Context, msg []byte, hs [][]byte, callback func(err error)) {
	*t.order = append(*t.order, t.tag)
	t.Sink.Publish(ctx, msg, hs, callback)
}

type taggingDecorator struct {
	tag   string
	order *[]string
	calls int
}

func (d *taggingDecorator) Wrap(s sink.Sink, _ string) sink.Sink {
	d.calls++
	return taggingSink{Sink: s, tag: d.tag, order: d.order}
}

func TestRegister(t *testing.T) {
	f := func(config any, l *slog.Logger) (Decorator, error) {
		return &taggingDecorator{}, nil
	}
	if err := Register("test_decorator", f); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := Register("test_decorator", f); err == nil {
		t.Fatal("Register() should have failed for duplicate name")
	}
}

func TestGet(t *testing.T) {
	_ = Register("get_test", func(config any, l *slog.Logger) (Decorator, error) {
		return &taggingDecorator{}, nil
	})

	factory, ok := Get("get_test")
	if !ok || factory == nil {
		t.Fatal("Get() should find registered decorator")
	}
	if _, ok := Get("nonexistent"); ok {
		t.Fatal("Get() should not find unregistered decorator")
	}
}

func TestChain(t *testing.T) {
	var order []string
	for _, tag := range []string{"inner", "outer", "off"} {
		_ = Register("chain_"+tag, func(config any, l *slog.Logger) (Decorator, error) {
			return &taggingDecorator{tag: tag, order: &order}, nil
		})
	}

	s, err := Chain(nopSink{}, "nats_core", []config.Config{
		{Name: "chain_inner"},
		{Name: "chain_off", Disabled: true},
		{Name: "chain_outer"},
	}, slog.Default())
	if err != nil {
		t.Fatalf("Chain() error = %v", err)
	}

	s.Publish(context.Background(), nil, nil, func(error) {})
	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Fatalf("unexpected wrap order %v", order)
	}
}

func TestChain_Unknown(t *testing.T) {
	_, err := Chain(nopSink{}, "nats_core", []config.Config{{Name: "missing"}}, slog.Default())
	if err == nil {
		t.Fatal("Chain() should fail for unknown decorator")
	}
}
