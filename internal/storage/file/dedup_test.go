package file

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

const (
	hookA = "https://hooks.example.com/a"
	hookB = "https://hooks.example.com/b"
)

type DedupStoreTestSuite struct {
	suite.Suite
	path  string
	store *DedupStore
	ctx   context.Context
}

func TestDedupStoreSuite(t *testing.T) {
	suite.Run(t, new(DedupStoreTestSuite))
}

func (s *DedupStoreTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.path = filepath.Join(s.T().TempDir(), "data", "sent_articles.yaml")
	s.store = s.newStore(DefaultMaxIDs)
}

func (s *DedupStoreTestSuite) newStore(maxIDs int) *DedupStore {
	store, err := NewDedupStore(s.path, maxIDs, 5*time.Second, discardLogger())
	s.Require().NoError(err)
	return store
}

func (s *DedupStoreTestSuite) TestReserveReturnsOnlyNewIDs() {
	fresh, err := s.store.Reserve(s.ctx, hookA, []string{"a1", "a2"})
	s.Require().NoError(err)
	s.Equal([]string{"a1", "a2"}, fresh)

	fresh, err = s.store.Reserve(s.ctx, hookA, []string{"a2", "a3", "a3", ""})
	s.Require().NoError(err)
	s.Equal([]string{"a3"}, fresh)

	again, err := s.store.Reserve(s.ctx, hookA, []string{"a1", "a2", "a3"})
	s.Require().NoError(err)
	s.Empty(again)
}

func (s *DedupStoreTestSuite) TestDestinationsAreIndependent() {
	_, err := s.store.Reserve(s.ctx, hookA, []string{"x"})
	s.Require().NoError(err)

	fresh, err := s.store.Reserve(s.ctx, hookB, []string{"x"})
	s.Require().NoError(err)
	s.Equal([]string{"x"}, fresh)
}

func (s *DedupStoreTestSuite) TestSurvivesReopen() {
	_, err := s.store.Reserve(s.ctx, hookA, []string{"a1"})
	s.Require().NoError(err)

	reopened := s.newStore(DefaultMaxIDs)
	fresh, err := reopened.Reserve(s.ctx, hookA, []string{"a1", "a2"})
	s.Require().NoError(err)
	s.Equal([]string{"a2"}, fresh)
}

func (s *DedupStoreTestSuite) TestEvictsOldestBeyondCap() {
	store := s.newStore(3)

	_, err := store.Reserve(s.ctx, hookA, []string{"1", "2", "3"})
	s.Require().NoError(err)
	_, err = store.Reserve(s.ctx, hookA, []string{"4", "5"})
	s.Require().NoError(err)

	ids, err := store.IDs(s.ctx, hookA)
	s.Require().NoError(err)
	s.Equal([]string{"3", "4", "5"}, ids)

	fresh, err := store.Reserve(s.ctx, hookA, []string{"1"})
	s.Require().NoError(err)
	s.Equal([]string{"1"}, fresh)
}

func (s *DedupStoreTestSuite) TestCorruptFileStartsEmpty() {
	s.Require().NoError(os.WriteFile(s.path, []byte("{{ not: [yaml"), 0o644))

	fresh, err := s.store.Reserve(s.ctx, hookA, []string{"a1"})
	s.Require().NoError(err)
	s.Equal([]string{"a1"}, fresh)
}

func (s *DedupStoreTestSuite) TestEmptyReserveDoesNotCreateFile() {
	fresh, err := s.store.Reserve(s.ctx, hookA, nil)
	s.Require().NoError(err)
	s.Empty(fresh)

	_, err = os.Stat(s.path)
	s.True(os.IsNotExist(err))
}

func (s *DedupStoreTestSuite) TestRetain() {
	_, err := s.store.Reserve(s.ctx, hookA, []string{"a1"})
	s.Require().NoError(err)
	_, err = s.store.Reserve(s.ctx, hookB, []string{"b1"})
	s.Require().NoError(err)

	removed, err := s.store.Retain(s.ctx, []string{hookA})
	s.Require().NoError(err)
	s.Equal(1, removed)

	ids, err := s.store.IDs(s.ctx, hookB)
	s.Require().NoError(err)
	s.Empty(ids)

	ids, err = s.store.IDs(s.ctx, hookA)
	s.Require().NoError(err)
	s.Equal([]string{"a1"}, ids)
}

func (s *DedupStoreTestSuite) TestMigrateLegacyList() {
	s.Require().NoError(os.WriteFile(s.path, []byte("- old-1\n- old-2\n"), 0o644))

	_, err := s.store.Reserve(s.ctx, hookA, []string{"old-1"})
	s.Require().ErrorIs(err, ErrLegacyFormat)

	migrated, err := s.store.MigrateLegacy(s.ctx, []string{hookA, hookB, hookA})
	s.Require().NoError(err)
	s.True(migrated)

	for _, hook := range []string{hookA, hookB} {
		fresh, err := s.store.Reserve(s.ctx, hook, []string{"old-1", "old-2", "new"})
		s.Require().NoError(err)
		s.Equal([]string{"new"}, fresh, hook)
	}

	migrated, err = s.store.MigrateLegacy(s.ctx, []string{hookA})
	s.Require().NoError(err)
	s.False(migrated)
}

func (s *DedupStoreTestSuite) TestMigrateLegacyWithoutFile() {
	migrated, err := s.store.MigrateLegacy(s.ctx, []string{hookA})
	s.Require().NoError(err)
	s.False(migrated)
}

func (s *DedupStoreTestSuite) TestConcurrentReserveHandsOutEachIDOnce() {
	other := s.newStore(DefaultMaxIDs)

	ids := make([]string, 50)
	for i := range ids {
		ids[i] = fmt.Sprintf("article-%d", i)
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total = make(map[string]int)
	)
	for w := 0; w < 8; w++ {
		store := s.store
		if w%2 == 1 {
			store = other
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			fresh, err := store.Reserve(s.ctx, hookA, ids)
			s.NoError(err)
			mu.Lock()
			for _, id := range fresh {
				total[id]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	s.Len(total, len(ids))
	for id, n := range total {
		s.Equal(1, n, id)
	}
}

func (s *DedupStoreTestSuite) TestLockTimeout() {
	holder := newLocker(s.path, time.Second)
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	acquired := make(chan struct{})
	released := make(chan struct{})
	go func() {
		_ = holder.withLock(ctx, func() error {
			close(acquired)
			<-released
			return nil
		})
	}()
	<-acquired
	defer close(released)

	store, err := NewDedupStore(s.path, DefaultMaxIDs, 100*time.Millisecond, discardLogger())
	s.Require().NoError(err)
	_, err = store.Reserve(s.ctx, hookA, []string{"a1"})
	s.Error(err)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
