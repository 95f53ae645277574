package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "tweetfwd/pkg/logx"
)

// memStore keeps everything in maps. When snapshotPath is set the state is
// loaded from it on open and written back (tmp + rename) every
// snapshotEvery mutations and on Close.
type memStore struct {
	log logx.Logger

	mu       sync.Mutex
	closed   bool
	nextAcct int64
	accounts map[int64]Account
	byHandle map[string]int64
	posts    map[int64]Post
	chats    map[int64]Chat
	subs     map[subKey]Subscriber

	snapshotPath  string
	writes        int
	snapshotEvery int
}

type subKey struct{ chat, account int64 }

type memSnapshot struct {
	NextAccountID int64        `json:"next_account_id"`
	Accounts      []Account    `json:"accounts"`
	Posts         []Post       `json:"posts"`
	Chats         []Chat       `json:"chats"`
	Subscribers   []Subscriber `json:"subscribers"`
}

// OpenMemory returns an in-process store. path is optional.
func OpenMemory(path string, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &memStore{
		log:           log,
		accounts:      map[int64]Account{},
		byHandle:      map[string]int64{},
		posts:         map[int64]Post{},
		chats:         map[int64]Chat{},
		subs:          map[subKey]Subscriber{},
		snapshotPath:  strings.TrimSpace(path),
		snapshotEvery: 200,
	}
	if s.snapshotPath == "" {
		return s, nil
	}
	if dir := filepath.Dir(s.snapshotPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	if err := s.load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return s, nil
}

func (s *memStore) load() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap memSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	s.nextAcct = snap.NextAccountID
	for _, a := range snap.Accounts {
		s.accounts[a.ID] = a
		s.byHandle[a.Handle] = a.ID
		if a.ID > s.nextAcct {
			s.nextAcct = a.ID
		}
	}
	for _, p := range snap.Posts {
		s.posts[p.ID] = p
	}
	for _, c := range snap.Chats {
		s.chats[c.ID] = c
	}
	for _, sub := range snap.Subscribers {
		sub.Handle, sub.ChatPendingDeletion, sub.ChatTimezone = "", false, ""
		s.subs[subKey{sub.ChatID, sub.AccountID}] = sub
	}
	return nil
}

func (s *memStore) saveLocked() error {
	if s.snapshotPath == "" {
		return nil
	}
	snap := memSnapshot{NextAccountID: s.nextAcct}
	for _, a := range s.accounts {
		snap.Accounts = append(snap.Accounts, a)
	}
	for _, p := range s.posts {
		snap.Posts = append(snap.Posts, p)
	}
	for _, c := range s.chats {
		snap.Chats = append(snap.Chats, c)
	}
	for _, sub := range s.subs {
		snap.Subscribers = append(snap.Subscribers, sub)
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.snapshotPath)
}

// dirtyLocked counts a mutation and snapshots periodically.
func (s *memStore) dirtyLocked() {
	if s.snapshotPath == "" {
		return
	}
	s.writes++
	if s.writes%s.snapshotEvery != 0 {
		return
	}
	if err := s.saveLocked(); err != nil {
		s.log.Warn("memory snapshot failed", logx.Err(err))
	}
}

func (s *memStore) lock() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	return nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.saveLocked()
}

func (s *memStore) EnsureAccount(ctx context.Context, handle string) (Account, error) {
	handle = NormalizeHandle(handle)
	if handle == "" {
		return Account{}, errors.New("storage: empty handle")
	}
	if err := s.lock(); err != nil {
		return Account{}, err
	}
	defer s.mu.Unlock()
	if id, ok := s.byHandle[handle]; ok {
		return s.accounts[id], nil
	}
	s.nextAcct++
	a := Account{ID: s.nextAcct, Handle: handle, CreatedAt: time.UnixMilli(time.Now().UnixMilli())}
	s.accounts[a.ID] = a
	s.byHandle[handle] = a.ID
	s.dirtyLocked()
	return a, nil
}

func (s *memStore) GetAccount(ctx context.Context, id int64) (Account, error) {
	if err := s.lock(); err != nil {
		return Account{}, err
	}
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (s *memStore) GetAccountByHandle(ctx context.Context, handle string) (Account, error) {
	if err := s.lock(); err != nil {
		return Account{}, err
	}
	defer s.mu.Unlock()
	id, ok := s.byHandle[NormalizeHandle(handle)]
	if !ok {
		return Account{}, ErrNotFound
	}
	return s.accounts[id], nil
}

func (s *memStore) trackedLocked() map[int64]struct{} {
	out := map[int64]struct{}{}
	for k := range s.subs {
		out[k.account] = struct{}{}
	}
	return out
}

func (s *memStore) TrackedAccounts(ctx context.Context) ([]Account, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	var out []Account
	for id := range s.trackedLocked() {
		if a, ok := s.accounts[id]; ok {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].LastFetchedAt, out[j].LastFetchedAt
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memStore) CountTrackedAccounts(ctx context.Context) (int, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	return len(s.trackedLocked()), nil
}

func (s *memStore) TouchAccounts(ctx context.Context, ids []int64, at time.Time) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	for _, id := range ids {
		if a, ok := s.accounts[id]; ok {
			a.LastFetchedAt = at
			s.accounts[id] = a
		}
	}
	s.dirtyLocked()
	return nil
}

func (s *memStore) RefreshLastPostIDs(ctx context.Context, ids []int64) (map[int64]int64, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	maxID := map[int64]int64{}
	for _, p := range s.posts {
		if want[p.AccountID] && p.ID > maxID[p.AccountID] {
			maxID[p.AccountID] = p.ID
		}
	}
	out := make(map[int64]int64, len(ids))
	for _, id := range ids {
		a, ok := s.accounts[id]
		if !ok {
			continue
		}
		if m, ok := maxID[id]; ok {
			a.LastPostID = m
			s.accounts[id] = a
		}
		out[id] = a.LastPostID
	}
	s.dirtyLocked()
	return out, nil
}

func (s *memStore) deleteAccountLocked(id int64) {
	for k := range s.subs {
		if k.account == id {
			delete(s.subs, k)
		}
	}
	for pid, p := range s.posts {
		if p.AccountID == id {
			delete(s.posts, pid)
		}
	}
	if a, ok := s.accounts[id]; ok {
		delete(s.byHandle, a.Handle)
		delete(s.accounts, id)
	}
}

func (s *memStore) DeleteAccount(ctx context.Context, id int64) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.deleteAccountLocked(id)
	s.dirtyLocked()
	return nil
}

func (s *memStore) DeleteOrphanAccounts(ctx context.Context) (int, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	tracked := s.trackedLocked()
	n := 0
	for id := range s.accounts {
		if _, ok := tracked[id]; ok {
			continue
		}
		s.deleteAccountLocked(id)
		n++
	}
	if n > 0 {
		s.dirtyLocked()
	}
	return n, nil
}

func (s *memStore) PostExists(ctx context.Context, id int64) (bool, error) {
	if err := s.lock(); err != nil {
		return false, err
	}
	defer s.mu.Unlock()
	_, ok := s.posts[id]
	return ok, nil
}

func (s *memStore) InsertPosts(ctx context.Context, posts []Post) (int, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	n := 0
	for _, p := range posts {
		if _, ok := s.posts[p.ID]; ok {
			continue
		}
		if _, ok := s.accounts[p.AccountID]; !ok {
			continue
		}
		s.posts[p.ID] = p
		n++
	}
	if n > 0 {
		s.dirtyLocked()
	}
	return n, nil
}

func (s *memStore) LatestPost(ctx context.Context, accountID int64) (Post, error) {
	if err := s.lock(); err != nil {
		return Post{}, err
	}
	defer s.mu.Unlock()
	var best Post
	found := false
	for _, p := range s.posts {
		if p.AccountID == accountID && (!found || p.ID > best.ID) {
			best, found = p, true
		}
	}
	if !found {
		return Post{}, ErrNotFound
	}
	return best, nil
}

func (s *memStore) PostsAfter(ctx context.Context, accountID, afterID int64) ([]Post, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	var out []Post
	for _, p := range s.posts {
		if p.AccountID == accountID && p.ID > afterID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) EnsureChat(ctx context.Context, chatID int64) (Chat, error) {
	if err := s.lock(); err != nil {
		return Chat{}, err
	}
	defer s.mu.Unlock()
	if c, ok := s.chats[chatID]; ok {
		return c, nil
	}
	c := Chat{ID: chatID, CreatedAt: time.UnixMilli(time.Now().UnixMilli())}
	s.chats[chatID] = c
	s.dirtyLocked()
	return c, nil
}

func (s *memStore) GetChat(ctx context.Context, chatID int64) (Chat, error) {
	if err := s.lock(); err != nil {
		return Chat{}, err
	}
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return Chat{}, ErrNotFound
	}
	return c, nil
}

func (s *memStore) updateChat(chatID int64, fn func(*Chat)) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return ErrNotFound
	}
	fn(&c)
	s.chats[chatID] = c
	s.dirtyLocked()
	return nil
}

func (s *memStore) SetChatTimezone(ctx context.Context, chatID int64, tz string) error {
	return s.updateChat(chatID, func(c *Chat) { c.Timezone = tz })
}

func (s *memStore) MarkChatPendingDeletion(ctx context.Context, chatID int64) error {
	return s.updateChat(chatID, func(c *Chat) { c.PendingDeletion = true })
}

func (s *memStore) PendingDeletionChats(ctx context.Context) ([]Chat, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	var out []Chat
	for _, c := range s.chats {
		if c.PendingDeletion {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) DeleteChat(ctx context.Context, chatID int64) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	for k := range s.subs {
		if k.chat == chatID {
			delete(s.subs, k)
		}
	}
	delete(s.chats, chatID)
	s.dirtyLocked()
	return nil
}

func (s *memStore) Subscribe(ctx context.Context, chatID, accountID int64) (bool, error) {
	if err := s.lock(); err != nil {
		return false, err
	}
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; !ok {
		return false, ErrNotFound
	}
	if _, ok := s.accounts[accountID]; !ok {
		return false, ErrNotFound
	}
	k := subKey{chatID, accountID}
	if _, ok := s.subs[k]; ok {
		return false, nil
	}
	s.subs[k] = Subscriber{ChatID: chatID, AccountID: accountID, CreatedAt: time.UnixMilli(time.Now().UnixMilli())}
	s.dirtyLocked()
	return true, nil
}

func (s *memStore) Unsubscribe(ctx context.Context, chatID, accountID int64) (bool, error) {
	if err := s.lock(); err != nil {
		return false, err
	}
	defer s.mu.Unlock()
	k := subKey{chatID, accountID}
	if _, ok := s.subs[k]; !ok {
		return false, nil
	}
	delete(s.subs, k)
	s.dirtyLocked()
	return true, nil
}

func (s *memStore) project(sub Subscriber) Subscriber {
	sub.Handle = s.accounts[sub.AccountID].Handle
	c := s.chats[sub.ChatID]
	sub.ChatPendingDeletion = c.PendingDeletion
	sub.ChatTimezone = c.Timezone
	return sub
}

func (s *memStore) SubscribersOf(ctx context.Context, accountID int64) ([]Subscriber, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	var out []Subscriber
	for k, sub := range s.subs {
		if k.account == accountID {
			out = append(out, s.project(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}

func (s *memStore) SubscriptionsOf(ctx context.Context, chatID int64) ([]Subscriber, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	var out []Subscriber
	for k, sub := range s.subs {
		if k.chat == chatID {
			out = append(out, s.project(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out, nil
}

func (s *memStore) SetDeliveredCursor(ctx context.Context, chatID, accountID, postID int64) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	k := subKey{chatID, accountID}
	sub, ok := s.subs[k]
	if !ok {
		return ErrNotFound
	}
	sub.LastDeliveredPostID = postID
	s.subs[k] = sub
	s.dirtyLocked()
	return nil
}

func (s *memStore) Stats(ctx context.Context) (Stats, error) {
	if err := s.lock(); err != nil {
		return Stats{}, err
	}
	defer s.mu.Unlock()
	st := Stats{
		Accounts:        len(s.accounts),
		TrackedAccounts: len(s.trackedLocked()),
		Posts:           len(s.posts),
		Chats:           len(s.chats),
		Subscribers:     len(s.subs),
	}
	for _, c := range s.chats {
		if c.PendingDeletion {
			st.PendingChats++
		}
	}
	return st, nil
}
