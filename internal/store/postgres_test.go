package store_test

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"bugbot.app/relay/internal/store"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fakeRow struct {
	value string
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*string)) = r.value
	return nil
}

// fakeQuerier keeps rows in a map and records the statements it saw.
type fakeQuerier struct {
	rows    map[string]string
	execErr error
	sql     []string
}

func (q *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.sql = append(q.sql, sql)
	if q.execErr != nil {
		return pgconn.CommandTag{}, q.execErr
	}
	q.rows[args[0].(string)] = args[1].(string)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (q *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	q.sql = append(q.sql, sql)
	v, ok := q.rows[args[0].(string)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{value: v}
}

var _ = Describe("PostgresThreadIssueStore", func() {
	var (
		q   *fakeQuerier
		s   store.ThreadIssueStore
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		q = &fakeQuerier{rows: map[string]string{}}
		s = store.NewPostgresThreadIssueStore(q)
	})

	It("maps no rows to ErrNotFound", func() {
		_, err := s.Get(ctx, "discord:t1")
		Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
	})

	It("upserts and reads back", func() {
		Expect(s.Put(ctx, "discord:t1", "ENG-1")).To(Succeed())
		Expect(s.Put(ctx, "discord:t1", "ENG-2")).To(Succeed())

		got, err := s.Get(ctx, "discord:t1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal("ENG-2"))
		Expect(q.sql[0]).To(ContainSubstring("ON CONFLICT (thread_key) DO UPDATE"))
	})

	It("wraps write failures", func() {
		q.execErr = errors.New("connection refused")
		err := s.Put(ctx, "discord:t1", "ENG-1")
		Expect(err).To(MatchError(ContainSubstring("connection refused")))
	})
})
