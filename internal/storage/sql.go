package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	logx "tweetfwd/pkg/logx"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// sqlStore implements Store over database/sql. Queries are written with
// "?" placeholders and rebound for postgres.
type sqlStore struct {
	db      *sql.DB
	log     logx.Logger
	dialect dialect
}

func (s *sqlStore) q(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	return rebindDollar(query)
}

// rebindDollar rewrites "?" placeholders to "$1", "$2", ...
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// idMatch returns a predicate suffix ("IN (?,?)" or "= ANY(?)") and its args.
func (s *sqlStore) idMatch(ids []int64) (string, []any) {
	if s.dialect == dialectPostgres {
		return "= ANY(?)", []any{pq.Array(ids)}
	}
	ph := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		ph[i] = "?"
		args[i] = id
	}
	return "IN (" + strings.Join(ph, ",") + ")", args
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

const accountCols = `a.id, a.handle, a.last_fetched_at, a.last_post_id, a.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(r rowScanner) (Account, error) {
	var a Account
	var fetched, created int64
	if err := r.Scan(&a.ID, &a.Handle, &fetched, &a.LastPostID, &created); err != nil {
		return Account{}, err
	}
	a.LastFetchedAt = fromMillis(fetched)
	a.CreatedAt = fromMillis(created)
	return a, nil
}

func (s *sqlStore) EnsureAccount(ctx context.Context, handle string) (Account, error) {
	handle = NormalizeHandle(handle)
	if handle == "" {
		return Account{}, errors.New("storage: empty handle")
	}
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO accounts(handle, last_fetched_at, last_post_id, created_at) VALUES(?, 0, 0, ?)
		 ON CONFLICT(handle) DO NOTHING`),
		handle, time.Now().UnixMilli())
	if err != nil {
		return Account{}, err
	}
	return s.GetAccountByHandle(ctx, handle)
}

func (s *sqlStore) GetAccount(ctx context.Context, id int64) (Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, s.q(`SELECT `+accountCols+` FROM accounts a WHERE a.id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	return a, err
}

func (s *sqlStore) GetAccountByHandle(ctx context.Context, handle string) (Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx,
		s.q(`SELECT `+accountCols+` FROM accounts a WHERE a.handle = ?`), NormalizeHandle(handle)))
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	return a, err
}

func (s *sqlStore) TrackedAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountCols+` FROM accounts a
		WHERE EXISTS (SELECT 1 FROM subscribers s WHERE s.account_id = a.id)
		ORDER BY a.last_fetched_at ASC, a.id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqlStore) CountTrackedAccounts(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT account_id) FROM subscribers`).Scan(&n)
	return n, err
}

func (s *sqlStore) TouchAccounts(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	in, args := s.idMatch(ids)
	args = append([]any{toMillis(at)}, args...)
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE accounts SET last_fetched_at = ? WHERE id `+in), args...)
	return err
}

func (s *sqlStore) RefreshLastPostIDs(ctx context.Context, ids []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	in, args := s.idMatch(ids)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.q(`UPDATE accounts
			SET last_post_id = (SELECT MAX(p.id) FROM posts p WHERE p.account_id = accounts.id)
			WHERE id `+in+` AND EXISTS (SELECT 1 FROM posts p WHERE p.account_id = accounts.id)`), args...)
		if err != nil {
			return err
		}
		rows, err := tx.QueryContext(ctx, s.q(`SELECT id, last_post_id FROM accounts WHERE id `+in), args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id, last int64
			if err := rows.Scan(&id, &last); err != nil {
				return err
			}
			out[id] = last
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sqlStore) DeleteAccount(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM subscribers WHERE account_id = ?`,
			`DELETE FROM posts WHERE account_id = ?`,
			`DELETE FROM accounts WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, s.q(stmt), id); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqlStore) DeleteOrphanAccounts(ctx context.Context) (int, error) {
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		const orphan = `NOT EXISTS (SELECT 1 FROM subscribers s WHERE s.account_id = accounts.id)`
		if _, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE account_id IN (SELECT id FROM accounts WHERE `+orphan+`)`); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE `+orphan)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

func (s *sqlStore) PostExists(ctx context.Context, id int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT 1 FROM posts WHERE id = ?`), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *sqlStore) InsertPosts(ctx context.Context, posts []Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}
	// The share lock holds the account row until commit, so a concurrent
	// delete waits instead of tripping the foreign key mid-batch.
	lookup := `SELECT 1 FROM accounts WHERE id = ?`
	if s.dialect == dialectPostgres {
		lookup += ` FOR SHARE`
	}
	inserted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.q(`INSERT INTO posts(id, account_id, text, created_at, media_url)
			VALUES(?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`))
		if err != nil {
			return err
		}
		defer stmt.Close()
		live := map[int64]bool{}
		for _, p := range posts {
			ok, seen := live[p.AccountID]
			if !seen {
				var one int
				err := tx.QueryRowContext(ctx, s.q(lookup), p.AccountID).Scan(&one)
				switch {
				case errors.Is(err, sql.ErrNoRows):
				case err != nil:
					return fmt.Errorf("lookup account %d: %w", p.AccountID, err)
				default:
					ok = true
				}
				live[p.AccountID] = ok
				if !ok {
					s.log.Debug("account vanished before insert", logx.Int64("account_id", p.AccountID))
				}
			}
			if !ok {
				continue
			}
			res, err := stmt.ExecContext(ctx, p.ID, p.AccountID, p.Text, toMillis(p.CreatedAt), p.MediaURL)
			if err != nil {
				return fmt.Errorf("insert post %d: %w", p.ID, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func scanPost(r rowScanner) (Post, error) {
	var p Post
	var created int64
	if err := r.Scan(&p.ID, &p.AccountID, &p.Text, &created, &p.MediaURL); err != nil {
		return Post{}, err
	}
	p.CreatedAt = fromMillis(created)
	return p, nil
}

func (s *sqlStore) LatestPost(ctx context.Context, accountID int64) (Post, error) {
	p, err := scanPost(s.db.QueryRowContext(ctx, s.q(`SELECT id, account_id, text, created_at, media_url
		FROM posts WHERE account_id = ? ORDER BY id DESC LIMIT 1`), accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return Post{}, ErrNotFound
	}
	return p, err
}

func (s *sqlStore) PostsAfter(ctx context.Context, accountID, afterID int64) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, account_id, text, created_at, media_url
		FROM posts WHERE account_id = ? AND id > ? ORDER BY id ASC`), accountID, afterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqlStore) EnsureChat(ctx context.Context, chatID int64) (Chat, error) {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO chats(id, pending_deletion, timezone, created_at)
		VALUES(?, ?, '', ?) ON CONFLICT(id) DO NOTHING`), chatID, false, time.Now().UnixMilli())
	if err != nil {
		return Chat{}, err
	}
	return s.GetChat(ctx, chatID)
}

func scanChat(r rowScanner) (Chat, error) {
	var c Chat
	var created int64
	if err := r.Scan(&c.ID, &c.PendingDeletion, &c.Timezone, &created); err != nil {
		return Chat{}, err
	}
	c.CreatedAt = fromMillis(created)
	return c, nil
}

func (s *sqlStore) GetChat(ctx context.Context, chatID int64) (Chat, error) {
	c, err := scanChat(s.db.QueryRowContext(ctx,
		s.q(`SELECT id, pending_deletion, timezone, created_at FROM chats WHERE id = ?`), chatID))
	if errors.Is(err, sql.ErrNoRows) {
		return Chat{}, ErrNotFound
	}
	return c, err
}

func (s *sqlStore) SetChatTimezone(ctx context.Context, chatID int64, tz string) error {
	return s.execOne(ctx, `UPDATE chats SET timezone = ? WHERE id = ?`, tz, chatID)
}

func (s *sqlStore) MarkChatPendingDeletion(ctx context.Context, chatID int64) error {
	return s.execOne(ctx, `UPDATE chats SET pending_deletion = ? WHERE id = ?`, true, chatID)
}

func (s *sqlStore) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) PendingDeletionChats(ctx context.Context) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, pending_deletion, timezone, created_at
		FROM chats WHERE pending_deletion = ? ORDER BY id`), true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqlStore) DeleteChat(ctx context.Context, chatID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM subscribers WHERE chat_id = ?`), chatID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, s.q(`DELETE FROM chats WHERE id = ?`), chatID)
		return err
	})
}

func (s *sqlStore) Subscribe(ctx context.Context, chatID, accountID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`INSERT INTO subscribers(chat_id, account_id, last_delivered_post_id, created_at)
		VALUES(?, ?, 0, ?) ON CONFLICT(chat_id, account_id) DO NOTHING`), chatID, accountID, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqlStore) Unsubscribe(ctx context.Context, chatID, accountID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM subscribers WHERE chat_id = ? AND account_id = ?`), chatID, accountID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

const subscriberSelect = `SELECT s.chat_id, s.account_id, s.last_delivered_post_id, s.created_at, a.handle, c.pending_deletion, c.timezone
	FROM subscribers s
	JOIN accounts a ON a.id = s.account_id
	JOIN chats c ON c.id = s.chat_id`

func (s *sqlStore) querySubscribers(ctx context.Context, query string, arg int64) ([]Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Subscriber
	for rows.Next() {
		var sub Subscriber
		var created int64
		if err := rows.Scan(&sub.ChatID, &sub.AccountID, &sub.LastDeliveredPostID, &created, &sub.Handle, &sub.ChatPendingDeletion, &sub.ChatTimezone); err != nil {
			return nil, err
		}
		sub.CreatedAt = fromMillis(created)
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *sqlStore) SubscribersOf(ctx context.Context, accountID int64) ([]Subscriber, error) {
	return s.querySubscribers(ctx, subscriberSelect+` WHERE s.account_id = ? ORDER BY s.chat_id`, accountID)
}

func (s *sqlStore) SubscriptionsOf(ctx context.Context, chatID int64) ([]Subscriber, error) {
	return s.querySubscribers(ctx, subscriberSelect+` WHERE s.chat_id = ? ORDER BY a.handle`, chatID)
}

func (s *sqlStore) SetDeliveredCursor(ctx context.Context, chatID, accountID, postID int64) error {
	return s.execOne(ctx, `UPDATE subscribers SET last_delivered_post_id = ? WHERE chat_id = ? AND account_id = ?`,
		postID, chatID, accountID)
}

func (s *sqlStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	counts := []struct {
		dst   *int
		query string
	}{
		{&st.Accounts, `SELECT COUNT(*) FROM accounts`},
		{&st.TrackedAccounts, `SELECT COUNT(DISTINCT account_id) FROM subscribers`},
		{&st.Posts, `SELECT COUNT(*) FROM posts`},
		{&st.Chats, `SELECT COUNT(*) FROM chats`},
		{&st.Subscribers, `SELECT COUNT(*) FROM subscribers`},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return Stats{}, err
		}
	}
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM chats WHERE pending_deletion = ?`), true).Scan(&st.PendingChats); err != nil {
		return Stats{}, err
	}
	return st, nil
}
