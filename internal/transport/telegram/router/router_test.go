package router

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	kit "tweetfwd/internal/transport"
	logx "tweetfwd/pkg/logx"
)

type sent struct {
	chat int64
	text string
}

type fakeAdapter struct {
	mu    sync.Mutex
	sent  []sent
	menu  []kit.BotCommand
	notif chan struct{}
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{notif: make(chan struct{}, 64)} }

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.sent = append(f.sent, sent{to.ChatID, text})
	f.mu.Unlock()
	f.notif <- struct{}{}
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) SendPhoto(ctx context.Context, to kit.ChatTarget, _, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return f.SendText(ctx, to, caption, opt)
}

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	f.menu = cmds
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) wait(t *testing.T) sent {
	t.Helper()
	select {
	case <-f.notif:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a reply")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func TestTokenize(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want []string
	}{
		{"/sub a b", []string{"/sub", "a", "b"}},
		{`/sub "a b" c`, []string{"/sub", "a b", "c"}},
		{`/x 'q' a\ b`, []string{"/x", "q", "a b"}},
		{"   ", nil},
	}
	for _, tc := range cases {
		if got := tokenize(tc.in); !slices.Equal(got, tc.want) {
			t.Fatalf("tokenize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeCommand(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"Sub":          "sub",
		"set-timezone": "set_timezone",
		"a__b":         "a_b",
		"9lives":       "",
		"":             "",
	}
	for in, want := range cases {
		if got := sanitizeCommand(in); got != want {
			t.Fatalf("sanitizeCommand(%q) = %q, want %q", in, got, want)
		}
	}
}

func startRouter(t *testing.T, ad *fakeAdapter, cmds []Command) (*Router, chan kit.Update) {
	t.Helper()
	r := New(ad, Config{Workers: 2}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	r.Register(ctx, cmds)
	updates := make(chan kit.Update, 8)
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx, updates)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r, updates
}

func msg(chat, from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chat, FromID: from, Text: text}}
}

func TestRouteDispatch(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	var gotArgs []string
	cmds := []Command{
		{Name: "sub", Aliases: []string{"follow"}, Description: "subscribe", Handle: func(ctx context.Context, req *Request) error {
			gotArgs = req.Args
			return req.Reply(ctx, "ok")
		}},
		{Name: "stats", Access: AccessAdminOnly, Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, "stats")
		}},
		{Name: "boom", Handle: func(ctx context.Context, req *Request) error {
			return Userf("bad input %d", 7)
		}},
		{Name: "fail", Handle: func(ctx context.Context, req *Request) error {
			return errors.New("db down")
		}},
	}
	r, updates := startRouter(t, ad, cmds)
	r.SetAdmins([]int64{99})

	updates <- msg(1, 5, "/follow@tweetfwd_bot Alice bob")
	if s := ad.wait(t); s.text != "ok" || s.chat != 1 {
		t.Fatalf("reply = %+v", s)
	}
	if !slices.Equal(gotArgs, []string{"Alice", "bob"}) {
		t.Fatalf("args = %v", gotArgs)
	}

	updates <- msg(1, 5, "/stats")
	if s := ad.wait(t); s.text != "unauthorized" {
		t.Fatalf("non-admin reply = %q", s.text)
	}
	updates <- msg(1, 99, "/stats")
	if s := ad.wait(t); s.text != "stats" {
		t.Fatalf("admin reply = %q", s.text)
	}

	updates <- msg(1, 5, "/boom")
	if s := ad.wait(t); s.text != "bad input 7" {
		t.Fatalf("user error reply = %q", s.text)
	}
	updates <- msg(1, 5, "/fail")
	if s := ad.wait(t); s.text != "Something went wrong, please try again later." {
		t.Fatalf("generic error reply = %q", s.text)
	}
	updates <- msg(1, 5, "/nope")
	if s := ad.wait(t); s.text != "Unknown command. Try /help" {
		t.Fatalf("unknown reply = %q", s.text)
	}

	ad.mu.Lock()
	menu := ad.menu
	ad.mu.Unlock()
	if len(menu) != 4 || menu[0].Command != "sub" || menu[3].Command != "stats" {
		t.Fatalf("menu = %+v", menu)
	}
}
