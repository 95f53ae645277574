package commands

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"tweetfwd/internal/source"
	"tweetfwd/internal/storage"
	kit "tweetfwd/internal/transport"
	"tweetfwd/internal/transport/telegram/router"
	logx "tweetfwd/pkg/logx"
)

type fakeAdapter struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) SendPhoto(ctx context.Context, to kit.ChatTarget, _, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return f.SendText(ctx, to, caption, opt)
}

func (f *fakeAdapter) all() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := strings.Join(f.sent, "\n---\n")
	f.sent = nil
	return out
}

type fakeSource struct {
	profiles map[string]source.Profile
	err      map[string]error
	lookups  int
}

func (f *fakeSource) FetchLatest(context.Context, string) ([]source.Post, error) { return nil, nil }
func (f *fakeSource) FetchSince(context.Context, string, int64) ([]source.Post, error) {
	return nil, nil
}

func (f *fakeSource) LookupAccount(_ context.Context, handle string) (source.Profile, error) {
	f.lookups++
	if err := f.err[handle]; err != nil {
		return source.Profile{}, err
	}
	p, ok := f.profiles[handle]
	if !ok {
		return source.Profile{}, &source.Error{Kind: source.KindNotFound, Status: 404}
	}
	return p, nil
}

type harness struct {
	store storage.Store
	src   *fakeSource
	ad    *fakeAdapter
	h     *Handlers
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := storage.OpenMemory("", logx.Nop())
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	src := &fakeSource{
		profiles: map[string]source.Profile{
			"alice": {Handle: "Alice"},
			"bob":   {Handle: "bob"},
			"priv":  {Handle: "priv", Protected: true},
		},
		err: map[string]error{
			"flaky": &source.Error{Kind: source.KindOther, Status: 502},
		},
	}
	return &harness{store: st, src: src, ad: &fakeAdapter{}, h: New(st, src, logx.Nop())}
}

// run executes a handler through the same error middleware the router uses.
func (hs *harness) run(t *testing.T, chat int64, fn router.HandlerFunc, args ...string) string {
	t.Helper()
	req := &router.Request{Chat: kit.ChatTarget{ChatID: chat}, Args: args, Adapter: hs.ad, Logger: logx.Nop()}
	if err := router.Chain(fn, router.MWReplyOnError())(context.Background(), req); err != nil {
		t.Fatalf("handler: %v", err)
	}
	return hs.ad.all()
}

func TestParseHandles(t *testing.T) {
	t.Parallel()
	valid, invalid := parseHandles([]string{"@Alice,bob", "alice", "no-dash", "", "toolonghandle_12345"})
	if strings.Join(valid, ",") != "alice,bob" {
		t.Fatalf("valid = %v", valid)
	}
	if strings.Join(invalid, ",") != "no-dash,toolonghandle_12345" {
		t.Fatalf("invalid = %v", invalid)
	}
}

func TestSubGroupsOutcomes(t *testing.T) {
	t.Parallel()
	hs := newHarness(t)
	ctx := context.Background()

	out := hs.run(t, 1, hs.h.cmdSub, "@Alice", "ghost", "priv", "flaky", "bad-name")
	for _, want := range []string{"Subscribed", "@alice", "Not found", "@ghost", "bad-name", "Protected", "@priv", "Failed", "@flaky"} {
		if !strings.Contains(out, want) {
			t.Fatalf("reply missing %q:\n%s", want, out)
		}
	}

	acct, err := hs.store.GetAccountByHandle(ctx, "alice")
	if err != nil {
		t.Fatalf("account not created: %v", err)
	}
	subs, _ := hs.store.SubscribersOf(ctx, acct.ID)
	if len(subs) != 1 || subs[0].ChatID != 1 || subs[0].LastDeliveredPostID != 0 {
		t.Fatalf("subscribers = %+v", subs)
	}
	for _, h := range []string{"ghost", "priv", "flaky"} {
		if _, err := hs.store.GetAccountByHandle(ctx, h); err == nil {
			t.Fatalf("account %q should not be tracked", h)
		}
	}

	// Known accounts skip the upstream lookup.
	before := hs.src.lookups
	out = hs.run(t, 1, hs.h.cmdSub, "alice")
	if !strings.Contains(out, "Already subscribed") {
		t.Fatalf("reply = %s", out)
	}
	hs.run(t, 2, hs.h.cmdSub, "alice")
	if hs.src.lookups != before {
		t.Fatalf("lookup repeated for a tracked account")
	}
}

func TestSubUsage(t *testing.T) {
	t.Parallel()
	hs := newHarness(t)
	if out := hs.run(t, 1, hs.h.cmdSub); !strings.HasPrefix(out, "Usage: /sub") {
		t.Fatalf("reply = %q", out)
	}
}

func TestUnsubPrunesOrphans(t *testing.T) {
	t.Parallel()
	hs := newHarness(t)
	ctx := context.Background()
	hs.run(t, 1, hs.h.cmdSub, "alice", "bob")
	hs.run(t, 2, hs.h.cmdSub, "bob")

	out := hs.run(t, 1, hs.h.cmdUnsub, "alice", "bob", "carol")
	if !strings.Contains(out, "Unsubscribed") || !strings.Contains(out, "@carol") {
		t.Fatalf("reply = %s", out)
	}
	if _, err := hs.store.GetAccountByHandle(ctx, "alice"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("orphan alice should be pruned, err = %v", err)
	}
	if _, err := hs.store.GetAccountByHandle(ctx, "bob"); err != nil {
		t.Fatalf("bob still has a subscriber: %v", err)
	}
}

func TestListExportAndWipe(t *testing.T) {
	t.Parallel()
	hs := newHarness(t)
	ctx := context.Background()

	if out := hs.run(t, 1, hs.h.cmdList); !strings.Contains(out, "no subscriptions") {
		t.Fatalf("empty list reply = %q", out)
	}
	hs.run(t, 1, hs.h.cmdSub, "bob", "alice")

	out := hs.run(t, 1, hs.h.cmdList)
	if !strings.Contains(out, "Subscriptions (2)") || strings.Index(out, "@alice") > strings.Index(out, "@bob") {
		t.Fatalf("list reply = %s", out)
	}
	if out := hs.run(t, 1, hs.h.cmdExport); !strings.Contains(out, "/sub alice bob") {
		t.Fatalf("export reply = %s", out)
	}

	if out := hs.run(t, 1, hs.h.cmdWipe); !strings.Contains(out, "removed") {
		t.Fatalf("wipe reply = %s", out)
	}
	if _, err := hs.store.GetChat(ctx, 1); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("chat should be gone, err = %v", err)
	}
	if n, _ := hs.store.CountTrackedAccounts(ctx); n != 0 {
		t.Fatalf("tracked accounts = %d", n)
	}
}

func TestAllShowsLatestPost(t *testing.T) {
	t.Parallel()
	hs := newHarness(t)
	ctx := context.Background()
	hs.run(t, 1, hs.h.cmdSub, "alice", "bob")
	acct, _ := hs.store.GetAccountByHandle(ctx, "alice")
	at := time.Date(2024, 1, 2, 3, 4, 0, 0, time.UTC)
	if _, err := hs.store.InsertPosts(ctx, []storage.Post{
		{ID: 10, AccountID: acct.ID, Text: "old", CreatedAt: at},
		{ID: 11, AccountID: acct.ID, Text: "new <b>", CreatedAt: at},
	}); err != nil {
		t.Fatalf("InsertPosts: %v", err)
	}

	out := hs.run(t, 1, hs.h.cmdAll)
	if !strings.Contains(out, "new &lt;b&gt;") || strings.Contains(out, "old") {
		t.Fatalf("all reply = %s", out)
	}
	if !strings.Contains(out, "no posts yet") {
		t.Fatalf("bob should have no posts: %s", out)
	}
}

func TestTimezone(t *testing.T) {
	t.Parallel()
	hs := newHarness(t)
	ctx := context.Background()

	if out := hs.run(t, 1, hs.h.cmdTimezone); !strings.Contains(out, "UTC") {
		t.Fatalf("default reply = %s", out)
	}
	if out := hs.run(t, 1, hs.h.cmdTimezone, "Mars/Olympus"); !strings.Contains(out, "Unknown timezone") {
		t.Fatalf("invalid reply = %s", out)
	}
	if out := hs.run(t, 1, hs.h.cmdTimezone, "Europe/Berlin"); !strings.Contains(out, "Europe/Berlin") {
		t.Fatalf("set reply = %s", out)
	}
	chat, err := hs.store.GetChat(ctx, 1)
	if err != nil || chat.Timezone != "Europe/Berlin" {
		t.Fatalf("chat = %+v, err = %v", chat, err)
	}
}

func TestStatsAndHelp(t *testing.T) {
	t.Parallel()
	hs := newHarness(t)
	next := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	hs.h = New(hs.store, hs.src, logx.Nop(), WithStatus(func() (time.Time, time.Duration, bool) {
		return next, 90 * time.Second, false
	}))
	hs.run(t, 1, hs.h.cmdSub, "alice")

	out := hs.run(t, 1, hs.h.cmdStats)
	for _, want := range []string{"tracked accounts</b>: 1", "1m30s", "2024-05-01T12:00:00Z"} {
		if !strings.Contains(out, want) {
			t.Fatalf("stats missing %q:\n%s", want, out)
		}
	}

	out = hs.run(t, 1, hs.h.cmdHelp)
	if !strings.Contains(out, "/sub &lt;handle&gt;") || strings.Contains(out, "statistics") {
		t.Fatalf("help = %s", out)
	}
}
