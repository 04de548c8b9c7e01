package chaos_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lmscirc/internal/apperr"
	"lmscirc/internal/catalog"
	"lmscirc/internal/chaos"
	"lmscirc/internal/circulation"
	"lmscirc/internal/clock"
	"lmscirc/internal/identity"
	"lmscirc/internal/logger"
	"lmscirc/internal/store/memstore"
)

type world struct {
	store  *memstore.Store
	faulty *chaos.Store
	svc    circulation.Service
	staff  identity.Principal
	reader uuid.UUID
	copies []catalog.Copy
}

func newWorld(t *testing.T, copies int, cfg chaos.Config, tries uint) *world {
	t.Helper()
	ctx := context.Background()
	w := &world{store: memstore.New()}
	w.faulty = chaos.Wrap(w.store, cfg)

	rules := circulation.DefaultConfig()
	rules.RetryMaxTries = tries
	rules.RetryInitial = time.Millisecond
	w.svc = circulation.NewService(w.faulty, w.store, clock.NewFixed(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)),
		circulation.WithConfig(rules), circulation.WithLogger(logger.Discard()))

	users := make([]uuid.UUID, 2)
	for i, role := range []identity.Role{identity.RoleLibrarian, identity.RoleStudent} {
		u := &identity.User{ID: uuid.New(), Email: uuid.NewString() + "@example.org", Role: role, Status: identity.StatusActive, Version: 1}
		require.NoError(t, w.store.CreateUser(ctx, u, &identity.Credential{UserID: u.ID}))
		users[i] = u.ID
	}
	w.staff = identity.Principal{UserID: users[0], Role: identity.RoleLibrarian}
	w.reader = users[1]

	book := catalog.Book{ID: uuid.New(), Title: "Refactoring"}
	require.NoError(t, w.store.InsertBook(ctx, &book))
	for i := 0; i < copies; i++ {
		c := catalog.Copy{ID: uuid.New(), BookID: book.ID, Title: book.Title, Barcode: fmt.Sprintf("RF-%d", i), Status: catalog.StatusAvailable, Version: 1}
		require.NoError(t, w.store.InsertCopy(ctx, &c))
		w.copies = append(w.copies, c)
	}
	return w
}

func TestIssueRetriesThroughInjectedConflicts(t *testing.T) {
	w := newWorld(t, 1, chaos.Config{}, 5)
	w.faulty.FailNext(3)

	tr, err := w.svc.Issue(context.Background(), w.staff, w.reader, w.copies[0].ID)
	require.NoError(t, err)
	assert.Equal(t, w.copies[0].ID, tr.CopyID)

	stats := w.faulty.Stats()
	assert.Equal(t, int64(3), stats.Conflicts)
	assert.Equal(t, int64(4), stats.Units)
}

func TestIssueGivesUpAfterRetryBudget(t *testing.T) {
	w := newWorld(t, 1, chaos.Config{}, 3)
	w.faulty.FailNext(10)

	_, err := w.svc.Issue(context.Background(), w.staff, w.reader, w.copies[0].ID)
	require.Error(t, err)
	assert.True(t, apperr.IsRetryable(err))
	assert.Equal(t, int64(3), w.faulty.Stats().Units)

	c, err := w.store.GetCopy(context.Background(), w.copies[0].ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusAvailable, c.Status)
}

func TestConflictRateIsDeterministicPerSeed(t *testing.T) {
	run := func() chaos.Stats {
		w := newWorld(t, 20, chaos.Config{ConflictRate: 0.3, Seed: 42}, 10)
		for _, c := range w.copies {
			_, err := w.svc.Issue(context.Background(), w.staff, w.reader, c.ID)
			require.NoError(t, err)
		}
		return w.faulty.Stats()
	}
	first, second := run(), run()
	assert.Equal(t, first, second)
	assert.Positive(t, first.Conflicts)
}

func TestLatencyHonoursCancellation(t *testing.T) {
	w := newWorld(t, 1, chaos.Config{Latency: time.Minute}, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := w.svc.Issue(ctx, w.staff, w.reader, w.copies[0].ID)
	require.Error(t, err)
	assert.Equal(t, int64(1), w.faulty.Stats().Delayed)
}

func TestDisabledConfig(t *testing.T) {
	assert.False(t, chaos.Config{}.Enabled())
	assert.True(t, chaos.Config{ConflictRate: 0.1}.Enabled())
	assert.True(t, chaos.Config{Latency: time.Millisecond}.Enabled())
}
