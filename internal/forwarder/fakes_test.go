package forwarder

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"tweetfwd/internal/delivery"
	"tweetfwd/internal/source"
	"tweetfwd/internal/storage"
	kit "tweetfwd/internal/transport"
	logx "tweetfwd/pkg/logx"
)

type fetchCall struct {
	handle  string
	sinceID int64 // 0 for FetchLatest
}

// fakeSource serves a per-handle timeline; posts newer than sinceID are
// returned, or the newest one for FetchLatest.
type fakeSource struct {
	mu       sync.Mutex
	timeline map[string][]source.Post
	errs     map[string]error
	calls    []fetchCall
	block    chan struct{}
	// delay slows down successful fetches.
	delay time.Duration
	// onFetch runs inside every fetch, before posts are returned.
	onFetch func(handle string)
}

func newFakeSource() *fakeSource {
	return &fakeSource{timeline: map[string][]source.Post{}, errs: map[string]error{}}
}

func (f *fakeSource) add(handle string, posts ...source.Post) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeline[handle] = append(f.timeline[handle], posts...)
}

func (f *fakeSource) fail(handle string, kind source.Kind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[handle] = &source.Error{Kind: kind, Err: errors.New(kind.String())}
}

func (f *fakeSource) called() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetchCall(nil), f.calls...)
}

func (f *fakeSource) fetch(ctx context.Context, handle string, sinceID int64, latest bool) ([]source.Post, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{handle: handle, sinceID: sinceID})
	block := f.block
	err := f.errs[handle]
	posts := append([]source.Post(nil), f.timeline[handle]...)
	hook := f.onFetch
	f.mu.Unlock()

	if hook != nil {
		hook(handle)
	}

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	sort.Slice(posts, func(i, j int) bool { return posts[i].ID > posts[j].ID })
	if latest {
		if len(posts) == 0 {
			return nil, nil
		}
		return posts[:1], nil
	}
	var out []source.Post
	for _, p := range posts {
		if p.ID > sinceID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeSource) FetchLatest(ctx context.Context, handle string) ([]source.Post, error) {
	return f.fetch(ctx, handle, 0, true)
}

func (f *fakeSource) FetchSince(ctx context.Context, handle string, sinceID int64) ([]source.Post, error) {
	return f.fetch(ctx, handle, sinceID, false)
}

func (f *fakeSource) LookupAccount(_ context.Context, handle string) (source.Profile, error) {
	return source.Profile{Handle: handle}, nil
}

type delivered struct {
	chatID int64
	handle string
	postID int64
}

type fakeDeliverer struct {
	mu       sync.Mutex
	posts    []delivered
	notices  map[int64][]string
	failChat map[int64]error
}

func newFakeDeliverer() *fakeDeliverer {
	return &fakeDeliverer{notices: map[int64][]string{}, failChat: map[int64]error{}}
}

func (f *fakeDeliverer) setFailure(chatID int64, kind kit.FailureKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failChat[chatID] = &kit.SendError{Kind: kind, Err: errors.New(kind.String())}
}

func (f *fakeDeliverer) Deliver(_ context.Context, chat storage.Chat, handle string, p storage.Post) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failChat[chat.ID]; err != nil {
		return err
	}
	f.posts = append(f.posts, delivered{chatID: chat.ID, handle: handle, postID: p.ID})
	return nil
}

func (f *fakeDeliverer) Notify(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failChat[chatID]; err != nil {
		return err
	}
	f.notices[chatID] = append(f.notices[chatID], text)
	return nil
}

// to returns the post IDs delivered to a chat, in delivery order.
func (f *fakeDeliverer) to(chatID int64) []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int64
	for _, d := range f.posts {
		if d.chatID == chatID {
			out = append(out, d.postID)
		}
	}
	return out
}

var _ delivery.Deliverer = (*fakeDeliverer)(nil)

// batchRecorder records the size of every InsertPosts call.
type batchRecorder struct {
	storage.Store
	mu    sync.Mutex
	sizes []int
}

func (b *batchRecorder) InsertPosts(ctx context.Context, posts []storage.Post) (int, error) {
	b.mu.Lock()
	b.sizes = append(b.sizes, len(posts))
	b.mu.Unlock()
	return b.Store.InsertPosts(ctx, posts)
}

func (b *batchRecorder) take() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.sizes
	b.sizes = nil
	return out
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	store storage.Store
	src   *fakeSource
	dl    *fakeDeliverer
	job   *Job
	clock time.Time
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	st, err := storage.OpenMemory("", logx.Nop())
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		store: st,
		src:   newFakeSource(),
		dl:    newFakeDeliverer(),
		clock: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	opts = append([]Option{WithClock(func() time.Time { return h.clock })}, opts...)
	h.job = New(st, h.src, h.dl, cfg, logx.Nop(), opts...)
	return h
}

func (h *harness) subscribe(chatID int64, handle string) storage.Account {
	h.t.Helper()
	if _, err := h.store.EnsureChat(h.ctx, chatID); err != nil {
		h.t.Fatalf("EnsureChat: %v", err)
	}
	a, err := h.store.EnsureAccount(h.ctx, handle)
	if err != nil {
		h.t.Fatalf("EnsureAccount: %v", err)
	}
	if _, err := h.store.Subscribe(h.ctx, chatID, a.ID); err != nil {
		h.t.Fatalf("Subscribe: %v", err)
	}
	return a
}

func (h *harness) run() CycleReport {
	h.t.Helper()
	rep, err := h.job.RunCycle(h.ctx)
	if err != nil {
		h.t.Fatalf("RunCycle: %v", err)
	}
	h.clock = h.clock.Add(time.Minute)
	return rep
}

func (h *harness) cursor(chatID, accountID int64) int64 {
	h.t.Helper()
	subs, err := h.store.SubscriptionsOf(h.ctx, chatID)
	if err != nil {
		h.t.Fatalf("SubscriptionsOf: %v", err)
	}
	for _, s := range subs {
		if s.AccountID == accountID {
			return s.LastDeliveredPostID
		}
	}
	h.t.Fatalf("chat %d is not subscribed to account %d", chatID, accountID)
	return 0
}

func post(id int64, text string) source.Post {
	return source.Post{ID: id, Text: text, CreatedAt: time.Unix(id, 0)}
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
